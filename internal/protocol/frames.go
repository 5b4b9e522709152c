package protocol

import "time"

// OutboundFrame mirrors Envelope with a concrete payload for direct JSON
// encoding. Seq is peer-assigned, so outbound frames always carry zero.
type OutboundFrame struct {
	Kind      Kind  `json:"type"`
	Seq       int64 `json:"seq"`
	Timestamp int64 `json:"timestamp"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any   `json:"payload"`
}

func newFrame(kind Kind, sessionID string, payload any) OutboundFrame {
	return OutboundFrame{
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
		SessionID: sessionID,
		Payload:   payload,
	}
}

// NewSendFrame builds a chat/send frame carrying the user's prompt.
func NewSendFrame(content, sessionID string) OutboundFrame {
	return newFrame(KindChat, sessionID, ChatEvent{
		Event:     ChatSend,
		Content:   content,
		SessionID: sessionID,
	})
}

// NewCancelFrame builds a chat/cancel frame for the in-flight turn.
func NewCancelFrame(sessionID string) OutboundFrame {
	return newFrame(KindChat, sessionID, ChatEvent{
		Event:     ChatCancel,
		SessionID: sessionID,
	})
}

// NewSubscribeFrame builds a system/subscribe frame to resume a session.
func NewSubscribeFrame(sessionID string) OutboundFrame {
	return newFrame(KindSystem, sessionID, SystemEvent{
		Event:     SystemSubscribe,
		SessionID: sessionID,
	})
}

// NewCatchUpFrame builds a system/catch_up frame requesting missed events.
func NewCatchUpFrame(sessionID string) OutboundFrame {
	return newFrame(KindSystem, sessionID, SystemEvent{
		Event:     SystemCatchUp,
		SessionID: sessionID,
	})
}
