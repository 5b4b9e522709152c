package stream

import (
	"strings"
	"time"

	"github.com/syncline/syncline/internal/shared/types"
)

// TurnResult is the sealed outcome of one turn.
type TurnResult struct {
	Content string
	Tools   []types.ToolInvocation
	Blocks  []types.ContentBlock
}

// Accumulator consumes the chat-domain events of one in-flight turn and
// produces the ordered content-block sequence. Not safe for concurrent
// use; the session controller serializes access.
type Accumulator struct {
	pendingText strings.Builder
	flatText    strings.Builder

	sealed     []types.ContentBlock
	active     []types.ToolInvocation
	activeDone map[string]bool
	completed  []types.ToolInvocation
	todos      []types.TodoItem

	now func() int64 // unix ms, swappable in tests
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		activeDone: make(map[string]bool),
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// AppendToken appends streamed text to the open text run and to the flat
// accumulation. Token events are never buffered or batched.
func (a *Accumulator) AppendToken(text string) {
	a.pendingText.WriteString(text)
	a.flatText.WriteString(text)
}

// StartTool opens a tool invocation. Any open text run seals first: text
// and tool activity never share a content block. Duplicate starts for the
// same id are absorbed.
func (a *Accumulator) StartTool(tool types.ToolInvocation) {
	a.sealText()

	for _, t := range a.active {
		if t.ID == tool.ID {
			return
		}
	}
	if tool.StartTime == 0 {
		tool.StartTime = a.now()
	}
	a.active = append(a.active, tool)
}

// EndTool merges completion fields into the matching active invocation by
// id. An end without a prior start synthesizes the entry. When every
// active invocation has ended, the group seals as one block in insertion
// order.
func (a *Accumulator) EndTool(tool types.ToolInvocation) {
	idx := -1
	for i, t := range a.active {
		if t.ID == tool.ID {
			idx = i
			break
		}
	}

	if idx == -1 {
		a.active = append(a.active, tool)
		idx = len(a.active) - 1
	} else {
		a.active[idx] = mergeCompletion(a.active[idx], tool)
	}
	a.activeDone[tool.ID] = true

	a.recordCompleted(a.active[idx])

	if a.groupDone() {
		a.sealToolGroup()
	}
}

// ReplaceTodos replaces the todo list wholesale: last writer wins.
func (a *Accumulator) ReplaceTodos(todos []types.TodoItem) {
	a.todos = append([]types.TodoItem(nil), todos...)
}

// Finalize seals everything still open and returns the turn's content,
// then resets all buffers. trailing is the optional final text carried by
// a complete event.
func (a *Accumulator) Finalize(trailing string) TurnResult {
	if trailing != "" {
		a.AppendToken(trailing)
	}

	// Normally both are already closed by the tool_start/tool_end rules.
	a.sealText()
	if len(a.active) > 0 {
		a.sealToolGroup()
	}

	result := TurnResult{
		Content: a.flatText.String(),
		Tools:   append([]types.ToolInvocation(nil), a.completed...),
		Blocks:  append([]types.ContentBlock(nil), a.sealed...),
	}
	a.Reset()
	return result
}

// Abort discards the turn. Partial content was never sealed into a
// message, so it simply disappears from the transcript.
func (a *Accumulator) Abort() {
	a.Reset()
}

// Reset clears every turn buffer.
func (a *Accumulator) Reset() {
	a.pendingText.Reset()
	a.flatText.Reset()
	a.sealed = nil
	a.active = nil
	a.activeDone = make(map[string]bool)
	a.completed = nil
	a.todos = nil
}

// SeedSnapshot overwrites the flat accumulation, completed tools, and
// todos with the peer's authoritative snapshot values. Snapshot state wins
// over whatever the replayed events reconstructed.
func (a *Accumulator) SeedSnapshot(content string, tools []types.ToolInvocation, todos []types.TodoItem) {
	a.pendingText.Reset()
	a.flatText.Reset()
	a.flatText.WriteString(content)
	a.completed = append([]types.ToolInvocation(nil), tools...)
	a.todos = append([]types.TodoItem(nil), todos...)
}

// FlatText returns the full concatenated text streamed so far.
func (a *Accumulator) FlatText() string {
	return a.flatText.String()
}

// Blocks returns a copy of the sealed content blocks.
func (a *Accumulator) Blocks() []types.ContentBlock {
	return append([]types.ContentBlock(nil), a.sealed...)
}

// ActiveTools returns a copy of the currently open tool group.
func (a *Accumulator) ActiveTools() []types.ToolInvocation {
	return append([]types.ToolInvocation(nil), a.active...)
}

// CompletedTools returns a copy of the flat historical tool list.
func (a *Accumulator) CompletedTools() []types.ToolInvocation {
	return append([]types.ToolInvocation(nil), a.completed...)
}

// Todos returns a copy of the current todo list.
func (a *Accumulator) Todos() []types.TodoItem {
	return append([]types.TodoItem(nil), a.todos...)
}

// HasContent reports whether the turn produced anything worth keeping.
func (a *Accumulator) HasContent() bool {
	return a.flatText.Len() > 0 || len(a.sealed) > 0 || len(a.completed) > 0
}

// sealText closes the open text run into a block. Whitespace-only runs
// are dropped so a turn opening with a tool call gains no empty block.
func (a *Accumulator) sealText() {
	text := a.pendingText.String()
	a.pendingText.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}
	a.sealed = append(a.sealed, types.NewTextBlock(text, a.now()))
}

// sealToolGroup closes the open tool group into a block, preserving
// insertion order.
func (a *Accumulator) sealToolGroup() {
	if len(a.active) == 0 {
		return
	}
	tools := append([]types.ToolInvocation(nil), a.active...)
	a.sealed = append(a.sealed, types.NewToolGroupBlock(tools, a.now()))
	a.active = nil
	a.activeDone = make(map[string]bool)
}

// groupDone reports whether every active invocation has ended.
func (a *Accumulator) groupDone() bool {
	for _, t := range a.active {
		if !a.activeDone[t.ID] {
			return false
		}
	}
	return len(a.active) > 0
}

// recordCompleted appends tool to the flat historical list, deduplicated
// by id (the merged entry replaces an earlier duplicate).
func (a *Accumulator) recordCompleted(tool types.ToolInvocation) {
	for i, t := range a.completed {
		if t.ID == tool.ID {
			a.completed[i] = tool
			return
		}
	}
	a.completed = append(a.completed, tool)
}

// mergeCompletion copies completion fields from the end event onto the
// invocation recorded at start. Identity fields keep their start values.
func mergeCompletion(start, end types.ToolInvocation) types.ToolInvocation {
	if end.Result != "" {
		start.Result = end.Result
	}
	if end.Summary != "" {
		start.Summary = end.Summary
	}
	if end.Error != "" {
		start.Error = end.Error
	}
	if end.Duration != nil {
		start.Duration = end.Duration
	}
	if start.Name == "" {
		start.Name = end.Name
	}
	if start.Friendly == "" {
		start.Friendly = end.Friendly
	}
	return start
}
