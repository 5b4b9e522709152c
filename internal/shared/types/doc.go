// Package types provides shared data structures for the sync engine.
//
// This package defines the value types that flow between the protocol
// layer, the stream accumulator, the session controller, and the
// presentation layer, ensuring a single consistent data model.
//
// Core Types:
//   - ChatMessage: One transcript entry (user or assistant)
//   - ContentBlock: Sealed transcript unit (text run or tool group)
//   - ToolInvocation: One tool call, merged across start/end events
//   - TodoItem: Assistant task-list entry
//
// State Management:
//   - Status: Connection state enum (disconnected through reconnecting)
//   - Role: Message author enum
//
// Example Usage:
//
//	msg := types.ChatMessage{
//	    ID:          string(id.NewMessageID()),
//	    Role:        types.RoleAssistant,
//	    IsStreaming: true,
//	}
package types
