package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
)

func TestDecode_Request(t *testing.T) {
	frame := `{"id":"r1","type":"request","scope":"config.write","body":{"updates":{"VECTOR_DB":"chroma"}}}`

	env, err := Decode([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, "r1", env.ID)
	assert.Equal(t, consts.TypeRequest, env.Type)
	assert.Equal(t, consts.ScopeConfigWrite, env.Scope)

	var body WriteBody
	require.NoError(t, json.Unmarshal(env.Body, &body))
	assert.JSONEq(t, `"chroma"`, string(body.Updates["VECTOR_DB"]))
}

func TestDecode_LegacyTypeTag(t *testing.T) {
	env, err := Decode([]byte(`{"id":"r2","type":"mcp.request","scope":"config.read"}`))
	require.NoError(t, err)
	assert.Equal(t, consts.TypeRequest, env.Type)
}

func TestDecode_Failures(t *testing.T) {
	cases := map[string]string{
		"invalid json": `{"id":`,
		"missing type": `{"id":"x","scope":"config.read"}`,
		"blank type":   `{"id":"x","type":"  "}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeDecodeFailed, errors.CodeOf(err))
		})
	}
}

func TestEncode_ResponseEchoesID(t *testing.T) {
	resp, err := NewResponse("r1", consts.ScopeConfigRes, NewSnapshot(map[string]string{KeyVectorDB: "chroma"}, "/s"))
	require.NoError(t, err)

	data, err := Encode(resp)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "r1", raw["id"])
	assert.Equal(t, "response", raw["type"])
	assert.Equal(t, true, raw["ok"])
	body := raw["body"].(map[string]any)
	assert.Equal(t, "chroma", body["VECTOR_DB"])
	assert.Equal(t, true, body["orchestrator_upserts_only"])
	assert.NotContains(t, body, "enrichment")
}

func TestEncode_ErrorResponse(t *testing.T) {
	data, err := Encode(NewErrorResponse("r9", consts.ScopeConfigRes, consts.CodeWriteFail, "disk full"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r9","type":"response","scope":"config.read.result","ok":false,"error":{"code":"WRITE_FAIL","message":"disk full"}}`, string(data))
}

func TestEncode_EventOmitsOK(t *testing.T) {
	ev, err := NewEvent("hb", consts.ScopeHeartbeat, int64(1700000000000))
	require.NoError(t, err)

	data, err := Encode(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"ok"`)
	assert.True(t, strings.HasPrefix(ev.ID, "hb_"))
	assert.Equal(t, "1700000000000", string(ev.Body))
}

func TestNewRequest_IDPrefix(t *testing.T) {
	hello, err := NewRequest("hello", consts.ScopeHandshake, map[string]string{"client": "c"}, nil)
	require.NoError(t, err)
	other, err := NewRequest("ping", "config.ping", nil, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hello.ID, "hello_"))
	assert.True(t, strings.HasPrefix(other.ID, "ping_"))
	assert.Equal(t, consts.TypeRequest, other.Type)
	assert.Equal(t, "c", hello.Headers["client"])
}

func TestSnapshot_FieldOrderAndFilter(t *testing.T) {
	snap := NewSnapshot(map[string]string{
		KeyLMStudioBasePath: "http://x/v1",
		"OPEN_AI_KEY":       "secret",
	}, "/storage")

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Equal(t,
		`{"LMSTUDIO_BASE_PATH":"http://x/v1","EMBEDDING_BASE_PATH":"","CHROMA_URL":"","VECTOR_DB":"","STORAGE_DIR":"/storage","orchestrator_upserts_only":true}`,
		string(data))
	assert.NotContains(t, string(data), "secret")
}

func TestIsAllowedKey(t *testing.T) {
	assert.True(t, IsAllowedKey(KeyVectorDB))
	assert.False(t, IsAllowedKey("STORAGE_DIR"))
	assert.False(t, IsAllowedKey("UNKNOWN_KEY"))
}
