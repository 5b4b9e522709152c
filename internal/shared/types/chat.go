package types

// Role identifies the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TodoStatus represents task-list entry states
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry in the assistant's task list
type TodoItem struct {
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"activeForm,omitempty"`
}

// ToolInvocation represents one tool call. Start and end events for the
// same ID merge into a single invocation; Duration is set only once the
// invocation has completed.
type ToolInvocation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Friendly    string `json:"friendly,omitempty"`
	InputDetail string `json:"inputDetail,omitempty"`
	Result      string `json:"result,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Error       string `json:"error,omitempty"`
	Duration    *int64 `json:"duration,omitempty"` // milliseconds
	StartTime   int64  `json:"startTime,omitempty"`
}

// Completed reports whether the invocation has finished
func (t ToolInvocation) Completed() bool {
	return t.Duration != nil || t.Result != "" || t.Error != ""
}

// BlockType tags the two kinds of content blocks
type BlockType string

const (
	BlockText      BlockType = "text"
	BlockToolGroup BlockType = "tool_group"
)

// ContentBlock is a sealed unit of the transcript: either a contiguous
// text run or a group of tool invocations that ran together. Block order
// is the order blocks were closed, i.e. chronological appearance.
type ContentBlock struct {
	Type      BlockType        `json:"type"`
	Content   string           `json:"content,omitempty"`
	Tools     []ToolInvocation `json:"tools,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// NewTextBlock creates a sealed text block
func NewTextBlock(content string, timestamp int64) ContentBlock {
	return ContentBlock{Type: BlockText, Content: content, Timestamp: timestamp}
}

// NewToolGroupBlock creates a sealed tool-group block
func NewToolGroupBlock(tools []ToolInvocation, timestamp int64) ContentBlock {
	return ContentBlock{Type: BlockToolGroup, Tools: tools, Timestamp: timestamp}
}

// ChatMessage is one transcript entry. Content carries the flattened text
// for consumers that ignore block structure; ContentBlocks preserves the
// interleaving of prose and tool activity. At most one message per session
// has IsStreaming set.
type ChatMessage struct {
	ID            string           `json:"id"`
	Role          Role             `json:"role"`
	Content       string           `json:"content"`
	Timestamp     int64            `json:"timestamp"`
	Tools         []ToolInvocation `json:"tools,omitempty"`
	ContentBlocks []ContentBlock   `json:"contentBlocks,omitempty"`
	IsStreaming   bool             `json:"isStreaming,omitempty"`
}
