package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	ErrUnknownKind    = errors.New("unknown envelope kind")
	ErrUnknownEvent   = errors.New("unknown event tag")
	ErrMissingPayload = errors.New("envelope has no payload")
	ErrInvalidEvent   = errors.New("event failed validation")
)

// Snapshot frames carrying buffered event arrays routinely run large;
// everything else is a few hundred bytes.
const largeFrameBytes = 4 << 10

// unmarshal picks the decoder by frame size (sonic for large frames).
func unmarshal(data []byte, v any) error {
	if len(data) >= largeFrameBytes {
		return sonic.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// DecodeEnvelope parses and validates the outer frame. The payload stays
// raw; callers dispatch on Kind and parse with ParseChatEvent or
// ParseSystemEvent.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Kind {
	case KindChat, KindSystem:
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}

	if len(env.Payload) == 0 {
		return Envelope{}, ErrMissingPayload
	}
	return env, nil
}

// ParseChatEvent parses and validates a chat payload. Unknown tags are
// rejected, not silently ignored; the outbound-only tags parse successfully
// so a peer echoing them back cannot crash dispatch.
func ParseChatEvent(payload json.RawMessage) (ChatEvent, error) {
	var ev ChatEvent
	if err := unmarshal(payload, &ev); err != nil {
		return ChatEvent{}, fmt.Errorf("decode chat event: %w", err)
	}

	switch ev.Event {
	case ChatToken:
		if ev.Content == "" {
			return ChatEvent{}, fmt.Errorf("%w: token without content", ErrInvalidEvent)
		}
	case ChatToolStart:
		if ev.Tool == nil || ev.Tool.ID == "" || ev.Tool.Name == "" {
			return ChatEvent{}, fmt.Errorf("%w: tool_start without tool id/name", ErrInvalidEvent)
		}
	case ChatToolEnd:
		if ev.Tool == nil || ev.Tool.ID == "" {
			return ChatEvent{}, fmt.Errorf("%w: tool_end without tool id", ErrInvalidEvent)
		}
	case ChatError:
		if ev.Error == "" {
			return ChatEvent{}, fmt.Errorf("%w: error without message", ErrInvalidEvent)
		}
	case ChatTodoUpdate, ChatThinking, ChatComplete, ChatSend, ChatCancel:
		// No required fields beyond the tag.
	default:
		return ChatEvent{}, fmt.Errorf("%w: chat/%q", ErrUnknownEvent, ev.Event)
	}
	return ev, nil
}

// ParseSystemEvent parses and validates a system payload.
func ParseSystemEvent(payload json.RawMessage) (SystemEvent, error) {
	var ev SystemEvent
	if err := unmarshal(payload, &ev); err != nil {
		return SystemEvent{}, fmt.Errorf("decode system event: %w", err)
	}

	switch ev.Event {
	case SystemError:
		if ev.Error == "" {
			return SystemEvent{}, fmt.Errorf("%w: error without message", ErrInvalidEvent)
		}
	case SystemConnected, SystemSnapshot, SystemSubscribe, SystemCatchUp:
		// No required fields beyond the tag.
	default:
		return SystemEvent{}, fmt.Errorf("%w: system/%q", ErrUnknownEvent, ev.Event)
	}
	return ev, nil
}
