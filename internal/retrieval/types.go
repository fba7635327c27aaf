package retrieval

// ReadyState is the two-phase readiness of a Service.
type ReadyState string

const (
	StateNotStarted ReadyState = "not_started"
	StateLoading    ReadyState = "loading"
	StateReady      ReadyState = "ready"
	StateLoadFailed ReadyState = "load_failed"
)

// Assets names the files an engine loads. Empty paths are optional.
type Assets struct {
	Chunks            string `json:"chunks" yaml:"chunks" toml:"chunks"`
	Vectors           string `json:"vectors" yaml:"vectors" toml:"vectors"`
	Model             string `json:"model" yaml:"model" toml:"model"`
	Tokenizer         string `json:"tokenizer" yaml:"tokenizer" toml:"tokenizer"`
	RerankerTokenizer string `json:"reranker_tokenizer" yaml:"reranker_tokenizer" toml:"reranker_tokenizer"`
	RerankerModel     string `json:"reranker_model" yaml:"reranker_model" toml:"reranker_model"`
	UseTokenTypeIDs   bool   `json:"use_token_type_ids" yaml:"use_token_type_ids" toml:"use_token_type_ids"`
}

// Chunk is one retrievable passage.
type Chunk struct {
	ID     string    `json:"id" yaml:"id"`
	Source string    `json:"source,omitempty" yaml:"source,omitempty"`
	Text   string    `json:"text" yaml:"text"`
	Vector []float32 `json:"vector,omitempty" yaml:"vector,omitempty"`
}

// Hit is a ranked chunk.
type Hit struct {
	Chunk Chunk
	Score float64
}

// Prompt is a grounded prompt for one query.
type Prompt struct {
	Query string
	// Contexts are the passage texts in ranking order.
	Contexts []string
	// UserMessage is the text sent to the model.
	UserMessage string
}
