package popup

import (
	"encoding/json"
	"fmt"
)

// Kind is the terminal state of a flow attempt.
type Kind string

const (
	KindSuccess   Kind = "success"
	KindCancelled Kind = "cancelled"
	KindError     Kind = "error"
)

// CancelReason distinguishes an explicit cancel from a silent close.
type CancelReason string

const (
	ReasonUserCancelled CancelReason = "user_cancelled"
	ReasonManualClose   CancelReason = "manual_close"
	ReasonErrorParsing  CancelReason = "error_parsing"
)

// Outcome is the result delivered to the initiator, exactly once per flow.
type Outcome struct {
	Kind   Kind
	Data   json.RawMessage
	Reason CancelReason
	Err    error
}

func Succeeded(data json.RawMessage) Outcome {
	return Outcome{Kind: KindSuccess, Data: data}
}

func Cancelled(reason CancelReason) Outcome {
	return Outcome{Kind: KindCancelled, Reason: reason}
}

func Failed(err error) Outcome {
	return Outcome{Kind: KindError, Err: err}
}

// Message returns the human readable text of the outcome: data.message for
// successes, the error text for failures.
func (o Outcome) Message() string {
	switch o.Kind {
	case KindSuccess:
		var p Payload
		if json.Unmarshal(o.Data, &p) == nil {
			return p.Message
		}
	case KindError:
		if o.Err != nil {
			return o.Err.Error()
		}
	case KindCancelled:
		return string(o.Reason)
	}
	return ""
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindCancelled:
		return fmt.Sprintf("cancelled(%s)", o.Reason)
	case KindError:
		return fmt.Sprintf("error(%s)", o.Message())
	default:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Message())
	}
}
