package popup

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType tags a cross-context message.
type MessageType string

const (
	TypeSuccess MessageType = "POPUP_SUCCESS"
	TypeCancel  MessageType = "POPUP_CANCEL"
	TypeError   MessageType = "POPUP_ERROR"

	TypeAppClose     MessageType = "APP_CLOSE"
	TypeOpenPopup    MessageType = "OPEN_POPUP"
	TypeOpenOTPPopup MessageType = "OPEN_OTP_POPUP"

	TypeOTPVerified  MessageType = "OTP_VERIFIED"
	TypeOTPCancelled MessageType = "OTP_CANCELLED"
	TypeOTPError     MessageType = "OTP_ERROR"
)

// SlotKey is the persisted slot holding the last outcome message.
const SlotKey = "popup_response"

// Cancel texts exchanged with embedded pages.
const (
	TextUserCancelled = "User cancelled"
	TextTabClosed     = "Tab closed by user"
)

func (t MessageType) isOutcome() bool {
	return t == TypeSuccess || t == TypeCancel || t == TypeError
}

func (t MessageType) known() bool {
	switch t {
	case TypeSuccess, TypeCancel, TypeError, TypeAppClose, TypeOpenPopup, TypeOpenOTPPopup,
		TypeOTPVerified, TypeOTPCancelled, TypeOTPError:
		return true
	}
	return false
}

func (t MessageType) isOpenRequest() bool {
	return t == TypeOpenPopup || t == TypeOpenOTPPopup
}

// Message is the wire format exchanged between contexts and persisted in
// the outcome slot.
type Message struct {
	Type  MessageType     `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	URL   string          `json:"url,omitempty"`
}

// Payload is the data shape carried by outcome messages.
type Payload struct {
	Message string `json:"message"`
}

// NewMessage builds a message whose data is {message: text}.
func NewMessage(t MessageType, text string) Message {
	data, _ := json.Marshal(Payload{Message: text})
	return Message{Type: t, Data: data}
}

// Encode serialises m. APP_CLOSE is sent as the bare string literal.
func Encode(m Message) []byte {
	if m.Type == TypeAppClose && len(m.Data) == 0 {
		return []byte(`"APP_CLOSE"`)
	}
	b, err := json.Marshal(m)
	if err != nil {
		// Data is a RawMessage that failed validation; drop it.
		b, _ = json.Marshal(Message{Type: m.Type, Error: m.Error, URL: m.URL})
	}
	return b
}

// DecodeMessage parses an inbound payload. Both object messages and the
// bare string form ("APP_CLOSE") are accepted. An object whose type is not
// one of ours decodes to an empty type without error; only our own types are
// held to the message schema.
func DecodeMessage(raw []byte) (Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Message{Type: MessageType(s)}, nil
	}
	if raw[0] != '{' {
		return Message{}, fmt.Errorf("%w: expected object", ErrMalformed)
	}

	var head struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var t MessageType
	if err := json.Unmarshal(head.Type, &t); err != nil || !t.known() {
		return Message{}, nil
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// text extracts data.message, falling back to the error field.
func (m Message) text() (string, bool) {
	if len(m.Data) > 0 && !bytes.Equal(m.Data, []byte("null")) {
		var p Payload
		if err := json.Unmarshal(m.Data, &p); err == nil && p.Message != "" {
			return p.Message, true
		}
	}
	if m.Error != "" {
		return m.Error, true
	}
	return "", false
}
