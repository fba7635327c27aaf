package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"localchat/internal/retrieval"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are filled from Default by Merge.
type Config struct {
	Addr                string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir           string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DBPath              string   `json:"db_path" yaml:"db_path" toml:"db_path"`
	LogLevel            string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	DefaultSystemPrompt string   `json:"default_system_prompt" yaml:"default_system_prompt" toml:"default_system_prompt"`
	LlamaThreads        int      `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	EventBuffer         int      `json:"event_buffer" yaml:"event_buffer" toml:"event_buffer"`
	CORSOrigins         []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	Retrieval Retrieval `json:"retrieval" yaml:"retrieval" toml:"retrieval"`
}

// Retrieval configures grounded prompting. An empty Chunks path disables it.
type Retrieval struct {
	Chunks            string `json:"chunks" yaml:"chunks" toml:"chunks"`
	Vectors           string `json:"vectors" yaml:"vectors" toml:"vectors"`
	Model             string `json:"model" yaml:"model" toml:"model"`
	Tokenizer         string `json:"tokenizer" yaml:"tokenizer" toml:"tokenizer"`
	RerankerTokenizer string `json:"reranker_tokenizer" yaml:"reranker_tokenizer" toml:"reranker_tokenizer"`
	RerankerModel     string `json:"reranker_model" yaml:"reranker_model" toml:"reranker_model"`
	UseTokenTypeIDs   bool   `json:"use_token_type_ids" yaml:"use_token_type_ids" toml:"use_token_type_ids"`
	TopK              int    `json:"top_k" yaml:"top_k" toml:"top_k"`
}

// Enabled reports whether a chunk corpus is configured.
func (r Retrieval) Enabled() bool { return r.Chunks != "" }

// Assets returns the files the retrieval engine loads.
func (r Retrieval) Assets() retrieval.Assets {
	return retrieval.Assets{
		Chunks:            r.Chunks,
		Vectors:           r.Vectors,
		Model:             r.Model,
		Tokenizer:         r.Tokenizer,
		RerankerTokenizer: r.RerankerTokenizer,
		RerankerModel:     r.RerankerModel,
		UseTokenTypeIDs:   r.UseTokenTypeIDs,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:         ":8080",
		ModelsDir:    "~/models/llm",
		DBPath:       "~/.local/share/localchat/localchat.db",
		LogLevel:     "info",
		LlamaThreads: 4,
		EventBuffer:  256,
		Retrieval:    Retrieval{TopK: retrieval.DefaultTopK},
	}
}

// Merge returns base with every non-zero field of over applied on top.
func Merge(base, over Config) Config {
	out := base
	setStr(&out.Addr, over.Addr)
	setStr(&out.ModelsDir, over.ModelsDir)
	setStr(&out.DBPath, over.DBPath)
	setStr(&out.LogLevel, over.LogLevel)
	setStr(&out.DefaultSystemPrompt, over.DefaultSystemPrompt)
	setInt(&out.LlamaThreads, over.LlamaThreads)
	setInt(&out.EventBuffer, over.EventBuffer)
	if len(over.CORSOrigins) > 0 {
		out.CORSOrigins = append([]string(nil), over.CORSOrigins...)
	}
	r := &out.Retrieval
	setStr(&r.Chunks, over.Retrieval.Chunks)
	setStr(&r.Vectors, over.Retrieval.Vectors)
	setStr(&r.Model, over.Retrieval.Model)
	setStr(&r.Tokenizer, over.Retrieval.Tokenizer)
	setStr(&r.RerankerTokenizer, over.Retrieval.RerankerTokenizer)
	setStr(&r.RerankerModel, over.Retrieval.RerankerModel)
	setInt(&r.TopK, over.Retrieval.TopK)
	if over.Retrieval.UseTokenTypeIDs {
		r.UseTokenTypeIDs = true
	}
	return out
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
