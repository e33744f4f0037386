// Package onebot implements the OneBot v11 wire contract used by NapCat-style
// gateways: inbound event parsing and outbound action construction.
package onebot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	PostTypeMessage = "message"

	MessageTypePrivate = "private"
	MessageTypeGroup   = "group"
)

// Event is one inbound gateway notification. Identifier fields stay as
// json.RawMessage because gateways send them as either numbers or strings.
type Event struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	MetaEventType string          `json:"meta_event_type"`
	SelfID        json.RawMessage `json:"self_id"`
	UserID        json.RawMessage `json:"user_id"`
	GroupID       json.RawMessage `json:"group_id"`
	Message       json.RawMessage `json:"message"`
	RawMessage    string          `json:"raw_message"`
}

// Segment is one typed content fragment of a message.
type Segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

func ParseEvent(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	return &evt, nil
}

// IsMessage reports whether the event should be routed at all.
func (e *Event) IsMessage() bool {
	return e.PostType == PostTypeMessage
}

func (e *Event) IsGroup() bool {
	return e.MessageType == MessageTypeGroup
}

// Segments decodes the structured message body. A bare-string body becomes a
// single text segment; anything undecodable yields nil, leaving RawMessage as
// the fallback.
func (e *Event) Segments() []Segment {
	if len(e.Message) == 0 {
		return nil
	}

	var segs []rawSegment
	if err := json.Unmarshal(e.Message, &segs); err == nil {
		out := make([]Segment, 0, len(segs))
		for _, s := range segs {
			out = append(out, Segment{Type: s.Type, Data: s.stringData()})
		}
		return out
	}

	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return []Segment{{Type: "text", Data: map[string]string{"text": s}}}
	}

	return nil
}

// rawSegment tolerates non-string data values (e.g. at.qq as a number).
type rawSegment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (s rawSegment) stringData() map[string]string {
	out := make(map[string]string, len(s.Data))
	for k, v := range s.Data {
		out[k] = anyToString(v)
	}
	return out
}

func anyToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// PlainText concatenates the text segments in order, ignoring mention and
// other segment types, falling back to raw_message when the event has no
// structured body. The result is trimmed; empty means nothing actionable.
func (e *Event) PlainText() string {
	segs := e.Segments()
	if segs == nil {
		return strings.TrimSpace(e.RawMessage)
	}

	var sb strings.Builder
	for _, seg := range segs {
		if seg.Type == "text" {
			sb.WriteString(seg.Data["text"])
		}
	}
	return strings.TrimSpace(sb.String())
}

// MentionsSelf reports whether any at segment targets selfID. Both sides are
// compared as strings, so numeric and string ids from the gateway agree.
// An "@all" mention counts.
func (e *Event) MentionsSelf(selfID string) bool {
	if selfID == "" {
		return false
	}
	for _, seg := range e.Segments() {
		if seg.Type != "at" {
			continue
		}
		qq := strings.TrimSpace(seg.Data["qq"])
		if qq == selfID || qq == "all" {
			return true
		}
	}
	return false
}

// ResolveSelfID returns the bot account from the event, or fallback when the
// gateway did not report one.
func (e *Event) ResolveSelfID(fallback string) string {
	if id := RawID(e.SelfID); id != "" {
		return id
	}
	return fallback
}

// RawID normalizes a number-or-string JSON id to its decimal string form.
// Empty and null inputs normalize to "".
func RawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n == 0 {
			return ""
		}
		return strconv.FormatInt(n, 10)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}
