package protocol

import "encoding/json"

// Keys of the synchronised .env that the orchestrator may read and write.
const (
	KeyLMStudioBasePath  = "LMSTUDIO_BASE_PATH"
	KeyEmbeddingBasePath = "EMBEDDING_BASE_PATH"
	KeyChromaURL         = "CHROMA_URL"
	KeyVectorDB          = "VECTOR_DB"
)

// AllowedKeys is the config.write allow-list, in snapshot order.
var AllowedKeys = []string{
	KeyLMStudioBasePath,
	KeyEmbeddingBasePath,
	KeyChromaURL,
	KeyVectorDB,
}

// IsAllowedKey reports whether key may be modified by the orchestrator.
func IsAllowedKey(key string) bool {
	for _, k := range AllowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ConfigSnapshot is the normalized view of the local configuration exposed to
// the orchestrator. Field order is the wire order.
type ConfigSnapshot struct {
	LMStudioBasePath  string `json:"LMSTUDIO_BASE_PATH"`
	EmbeddingBasePath string `json:"EMBEDDING_BASE_PATH"`
	ChromaURL         string `json:"CHROMA_URL"`
	VectorDB          string `json:"VECTOR_DB"`
	StorageDir        string `json:"STORAGE_DIR"`
	// The orchestrator is the only writer of upstream index state.
	OrchestratorUpsertsOnly bool            `json:"orchestrator_upserts_only"`
	Enrichment              json.RawMessage `json:"enrichment,omitempty"`
}

// NewSnapshot projects a raw key/value mapping onto a snapshot. Keys outside
// the recognized set are not surfaced.
func NewSnapshot(values map[string]string, storageDir string) ConfigSnapshot {
	return ConfigSnapshot{
		LMStudioBasePath:        values[KeyLMStudioBasePath],
		EmbeddingBasePath:       values[KeyEmbeddingBasePath],
		ChromaURL:               values[KeyChromaURL],
		VectorDB:                values[KeyVectorDB],
		StorageDir:              storageDir,
		OrchestratorUpsertsOnly: true,
	}
}

// HandshakeBody is the body of the outbound handshake request.
type HandshakeBody struct {
	Capabilities            []string `json:"capabilities"`
	OrchestratorUpsertsOnly bool     `json:"orchestrator_upserts_only"`
}

// WriteBody is the body of an inbound config.write request.
type WriteBody struct {
	Updates map[string]json.RawMessage `json:"updates"`
}

// Personal.AI order the ending
