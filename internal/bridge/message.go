package bridge

// Kind is the type tag of a message sent by the embedded surface.
type Kind string

const (
	KindReady     Kind = "det_pay:ready"
	KindHeight    Kind = "det_pay:height"
	KindResult    Kind = "det_pay:result"
	KindError     Kind = "det_pay:error"
	KindLoad      Kind = "det_pay:load"
	KindLoadError Kind = "det_pay:load_error"
)

// Known reports whether k is one of the kinds the embedded surface is
// contractually expected to send. Unknown string kinds are still forwarded.
func (k Kind) Known() bool {
	switch k {
	case KindReady, KindHeight, KindResult, KindError, KindLoad, KindLoadError:
		return true
	}
	return false
}

// OpaqueOrigin is the serialised origin of an opaque context such as
// about:blank. It is the only origin accepted when a client configures none.
const OpaqueOrigin = "null"

// Window identifies one end of a cross-boundary channel. Implementations must
// be comparable so identity checks can use ==.
type Window interface {
	Alive() bool
}

// Event is one inbound platform message before validation.
type Event struct {
	Origin string
	Source Window
	Data   any
}

// Message is a validated inbound message, tagged with the verified origin.
type Message struct {
	Type    string `json:"type"`
	Origin  string `json:"origin"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload is the payload shape of a det_pay:error message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message any    `json:"message"`
}

// DecodeError extracts an ErrorPayload from a validated message payload.
func DecodeError(payload any) (ErrorPayload, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return ErrorPayload{}, false
	}
	code, ok := m["code"].(string)
	if !ok {
		return ErrorPayload{}, false
	}
	return ErrorPayload{Code: code, Message: m["message"]}, true
}
