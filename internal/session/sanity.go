package session

import (
	"errors"
	"os"

	"localchat/internal/common/fsutil"
)

// SanityReport describes runtime checks for the inference dependencies.
type SanityReport struct {
	LlamaBuilt     bool   `json:"llama_built"`
	ModelsDir      string `json:"models_dir,omitempty"`
	ModelsDirFound bool   `json:"models_dir_found"`
	Error          string `json:"error,omitempty"`
}

// LlamaBuilt reports whether this binary carries the in-process llama backend.
func LlamaBuilt() bool { return llamaBuilt }

// SanityCheck validates that the backend is compiled in and modelsDir is a
// readable directory. It does not mutate state.
func SanityCheck(modelsDir string) SanityReport {
	r := SanityReport{LlamaBuilt: llamaBuilt}
	if modelsDir != "" {
		dir, err := fsutil.Resolve(modelsDir)
		if err != nil {
			r.Error = err.Error()
			return r
		}
		r.ModelsDir = dir
		switch ok, err := fsutil.IsDir(dir); {
		case ok:
			r.ModelsDirFound = true
		case err == nil:
			r.Error = "models dir is not a directory"
		case errors.Is(err, os.ErrNotExist):
			r.Error = "models dir not found"
		default:
			r.Error = err.Error()
		}
	}
	if !r.LlamaBuilt && r.Error == "" {
		r.Error = llamaMissing
	}
	return r
}

const llamaMissing = "llama support not built (missing 'llama' build tag)"
