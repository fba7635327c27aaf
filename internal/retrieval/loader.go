package retrieval

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"localchat/internal/common/fsutil"
)

// LoadChunks reads passages from path. Supported formats by extension:
// .json (array of chunks or strings), .jsonl (one chunk per line),
// .yaml/.yml (list of chunks or strings) and .txt/.md (blank-line separated
// paragraphs). Chunks without an id get their index.
func LoadChunks(path string) ([]Chunk, error) {
	b, err := readAsset("chunks", path)
	if err != nil {
		return nil, err
	}
	var chunks []Chunk
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		chunks, err = decodeChunkList(b, json.Unmarshal)
	case ".jsonl", ".ndjson":
		chunks, err = decodeJSONLines(b)
	case ".yaml", ".yml":
		chunks, err = decodeChunkList(b, yaml.Unmarshal)
	case ".txt", ".md":
		chunks = splitParagraphs(string(b))
	default:
		return nil, fmt.Errorf("unsupported chunks format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, assetError{name: "chunks", path: path, err: err}
	}
	out := chunks[:0]
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		if c.ID == "" {
			c.ID = strconv.Itoa(i)
		}
		out = append(out, c)
	}
	return out, nil
}

// decodeChunkList accepts either a list of chunk objects or a list of strings.
func decodeChunkList(b []byte, unmarshal func([]byte, any) error) ([]Chunk, error) {
	var chunks []Chunk
	if err := unmarshal(b, &chunks); err == nil {
		return chunks, nil
	}
	var texts []string
	if err := unmarshal(b, &texts); err != nil {
		return nil, err
	}
	chunks = make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{Text: t}
	}
	return chunks, nil
}

func decodeJSONLines(b []byte) ([]Chunk, error) {
	var chunks []Chunk
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, sc.Err()
}

func splitParagraphs(s string) []Chunk {
	var chunks []Chunk
	for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, Chunk{Text: p})
		}
	}
	return chunks
}

// LoadVectors reads precomputed chunk vectors keyed by chunk id, from a JSON
// or YAML mapping of id to vector.
func LoadVectors(path string) (map[string][]float32, error) {
	b, err := readAsset("vectors", path)
	if err != nil {
		return nil, err
	}
	vecs := map[string][]float32{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(b, &vecs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &vecs)
	default:
		return nil, fmt.Errorf("unsupported vectors format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, assetError{name: "vectors", path: path, err: err}
	}
	return vecs, nil
}

// CheckAsset verifies that an optional model or tokenizer file exists.
func CheckAsset(name, path string) error {
	if path == "" {
		return nil
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return assetError{name: name, path: path, err: err}
	}
	if !fsutil.Exists(p) {
		return assetError{name: name, path: p, err: os.ErrNotExist}
	}
	return nil
}

func readAsset(name, path string) ([]byte, error) {
	if path == "" {
		return nil, assetError{name: name, path: path, err: errors.New("path is empty")}
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, assetError{name: name, path: path, err: err}
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, assetError{name: name, path: p, err: err}
	}
	return b, nil
}
