package protocol

import (
	"encoding/json"
	"strings"

	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
)

// Older orchestrators tag frames as "mcp.request" etc.
const legacyTypePrefix = "mcp."

// Encode renders e as a single JSON text frame.
func Encode(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnknown, "Encode", "marshal envelope", err)
	}
	return data, nil
}

// Decode parses one frame. Invalid JSON and frames without a type are
// reported as ErrCodeDecodeFailed; callers drop such frames.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, errors.New(errors.ErrCodeDecodeFailed, "Decode", "invalid JSON frame", err)
	}

	e.Type = normalizeType(e.Type)
	if e.Type == "" {
		return Envelope{}, errors.New(errors.ErrCodeDecodeFailed, "Decode", "missing type", nil)
	}
	return e, nil
}

func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if stripped, ok := strings.CutPrefix(t, legacyTypePrefix); ok {
		switch stripped {
		case consts.TypeRequest, consts.TypeResponse, consts.TypeEvent:
			return stripped
		}
	}
	return t
}

// Personal.AI order the ending
