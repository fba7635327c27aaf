package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"localchat/internal/common/fsutil"
	"localchat/pkg/types"
)

// quantTag matches llama.cpp quantization suffixes such as Q8_0, Q4_K_M or F16.
var quantTag = regexp.MustCompile(`(?i)(?:^|[-._])((?:I?Q\d+(?:_[A-Z0-9]+)*)|F16|F32|BF16)$`)

// GGUFScanner discovers model files on disk.
type GGUFScanner struct{}

// NewGGUFScanner returns a scanner for *.gguf files.
func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

// Scan lists *.gguf files in dir (non-recursive, case-insensitive extension).
// Returned models carry no ID; the store assigns one on upsert.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	abs, err := fsutil.Resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, Describe(filepath.Join(abs, name)))
	}
	return models, nil
}

// Describe derives model metadata from a file name like
// "SmolLM2-360M-Instruct-Q8_0.gguf".
func Describe(path string) types.Model {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := types.Model{Name: stem, Path: path}
	if loc := quantTag.FindStringSubmatchIndex(stem); loc != nil {
		m.Quant = strings.ToUpper(stem[loc[2]:loc[3]])
		if base := strings.TrimRight(stem[:loc[0]], "-._"); base != "" {
			m.Name = base + " (" + m.Quant + ")"
		}
	}
	if i := strings.IndexAny(stem, "-_."); i > 0 {
		m.Family = strings.ToLower(stem[:i])
	} else {
		m.Family = strings.ToLower(stem)
	}
	return m
}

// LoadDir is Scan with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// ModelStore persists discovered models.
type ModelStore interface {
	UpsertModel(ctx context.Context, m types.Model) (types.Model, error)
}

// Sync scans dir and upserts every model into store, keyed by path. It returns
// the stored models with their ids.
func Sync(ctx context.Context, dir string, store ModelStore) ([]types.Model, error) {
	found, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]types.Model, 0, len(found))
	for _, m := range found {
		saved, err := store.UpsertModel(ctx, m)
		if err != nil {
			return out, fmt.Errorf("upsert %s: %w", m.Path, err)
		}
		out = append(out, saved)
	}
	return out, nil
}
