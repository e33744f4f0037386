package onebot

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

const (
	ActionSendPrivateMsg = "send_private_msg"
	ActionSendGroupMsg   = "send_group_msg"
)

// Action is one outbound command to the gateway. Echo carries a correlation
// token the gateway reflects in its API response.
type Action struct {
	Action string       `json:"action"`
	Params ActionParams `json:"params"`
	Echo   string       `json:"echo"`
}

type ActionParams struct {
	UserID  FlexID       `json:"user_id,omitempty"`
	GroupID FlexID       `json:"group_id,omitempty"`
	Message []OutSegment `json:"message"`
}

// FlexID is an account identifier that marshals as a JSON number when it is
// numeric, matching what OneBot gateways expect, and as a string otherwise.
type FlexID string

func (f FlexID) MarshalJSON() ([]byte, error) {
	if f == "" {
		return []byte(`""`), nil
	}
	if _, err := strconv.ParseInt(string(f), 10, 64); err == nil {
		return []byte(f), nil
	}
	return json.Marshal(string(f))
}

type OutSegment struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type textData struct {
	Text string `json:"text"`
}

type imageData struct {
	File string `json:"file"`
}

// TextMessage builds a single-segment text message body.
func TextMessage(text string) []OutSegment {
	data, _ := json.Marshal(textData{Text: text})
	return []OutSegment{{Type: "text", Data: data}}
}

// ImageMessage builds a single-segment image message body carrying
// transport-encoded bytes as base64://<b64>.
func ImageMessage(b64 string) []OutSegment {
	data, _ := json.Marshal(imageData{File: "base64://" + b64})
	return []OutSegment{{Type: "image", Data: data}}
}

// SendPrivate addresses a message body to one user.
func SendPrivate(userID string, message []OutSegment) *Action {
	return &Action{
		Action: ActionSendPrivateMsg,
		Params: ActionParams{UserID: FlexID(userID), Message: message},
		Echo:   uuid.NewString(),
	}
}

// SendGroup addresses a message body to one group.
func SendGroup(groupID string, message []OutSegment) *Action {
	return &Action{
		Action: ActionSendGroupMsg,
		Params: ActionParams{GroupID: FlexID(groupID), Message: message},
		Echo:   uuid.NewString(),
	}
}

func (a *Action) Marshal() ([]byte, error) {
	return json.Marshal(a)
}
