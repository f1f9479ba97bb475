package protocol

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
)

// Envelope is the unit of exchange on the orchestrator socket.
// One WebSocket text message carries exactly one Envelope.
type Envelope struct {
	ID      string            `json:"id,omitempty"`
	Type    string            `json:"type"`
	Scope   string            `json:"scope,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	OK      *bool             `json:"ok,omitempty"`
	Error   *ErrorBody        `json:"error,omitempty"`
}

// ErrorBody is attached to responses with ok=false.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// NewID returns a correlation id such as "hello_3f0c...".
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewRequest builds a request envelope with a fresh id under idPrefix.
func NewRequest(idPrefix, scope string, headers map[string]string, body any) (Envelope, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      NewID(idPrefix),
		Type:    consts.TypeRequest,
		Scope:   scope,
		Headers: headers,
		Body:    raw,
	}, nil
}

// NewEvent builds a fire-and-forget event. Events carry their own id for log
// correlation only; nothing on either side answers them.
func NewEvent(idPrefix, scope string, body any) (Envelope, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:    NewID(idPrefix),
		Type:  consts.TypeEvent,
		Scope: scope,
		Body:  raw,
	}, nil
}

// NewResponse builds a successful response to the request with the given id.
func NewResponse(id, scope string, body any) (Envelope, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return Envelope{}, err
	}
	ok := true
	return Envelope{
		ID:    id,
		Type:  consts.TypeResponse,
		Scope: scope,
		Body:  raw,
		OK:    &ok,
	}, nil
}

// NewErrorResponse builds an ok=false response to the request with the given id.
func NewErrorResponse(id, scope, code, message string) Envelope {
	ok := false
	return Envelope{
		ID:    id,
		Type:  consts.TypeResponse,
		Scope: scope,
		OK:    &ok,
		Error: &ErrorBody{Code: code, Message: message},
	}
}

// Succeeded reports the ok flag of a response; non-responses report false.
func (e Envelope) Succeeded() bool {
	return e.OK != nil && *e.OK
}

func marshalBody(body any) (json.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnknown, "Encode", "marshal body", err)
	}
	return raw, nil
}

// Personal.AI order the ending
