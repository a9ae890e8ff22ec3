package api

type GenerateRequest struct {
	Text   string `json:"text"`
	Length int    `json:"length,omitempty"`
	SeqLen int    `json:"seq_len,omitempty"`
}

type GenerateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// Multipart field names of a training request. Every field except FileField is
// a decimal string.
const (
	FileField         = "file"
	ChunkSizeField    = "chunk_size"
	SeqLenField       = "seq_len"
	BatchSizeField    = "batch_size"
	EpochsField       = "epochs"
	EmbeddingDimField = "embedding_dim"
	HiddenDimField    = "hidden_dim"
	NumLayersField    = "num_layers"
	PatienceField     = "patience"
)

type TrainingResponse struct {
	Message        string  `json:"message"`
	TestPerplexity float64 `json:"test_perplexity"`
	TestAccuracy   float64 `json:"test_accuracy"`
	ModelPath      string  `json:"model_path"`
	PublicUrl      string  `json:"public_url"`
}

// ErrorResponse is the failure body returned by the backend and the relay.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
