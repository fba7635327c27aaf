package retrieval

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75

	// share of the final score taken from vector similarity when vectors are loaded
	vectorWeight = 0.3
	// lexical hits averaged into the feedback vector
	feedbackDepth = 3
)

// LexicalEngine ranks chunks with BM25 and, when chunk vectors are available,
// reranks candidates by similarity to the centroid of the best lexical hits.
// Model and tokenizer paths are checked for existence only.
type LexicalEngine struct {
	mu       sync.RWMutex
	chunks   []Chunk
	terms    []map[string]int
	docLen   []int
	avgLen   float64
	df       map[string]int
	vectored bool
}

// NewLexicalEngine returns an empty engine.
func NewLexicalEngine() *LexicalEngine { return &LexicalEngine{} }

// Load reads chunks and vectors and checks the model files concurrently, then
// builds the index.
func (e *LexicalEngine) Load(ctx context.Context, a Assets) error {
	var (
		chunks []Chunk
		vecs   map[string][]float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := LoadChunks(a.Chunks)
		chunks = c
		return err
	})
	if a.Vectors != "" {
		g.Go(func() error {
			v, err := LoadVectors(a.Vectors)
			vecs = v
			return err
		})
	}
	for name, path := range map[string]string{
		"model":              a.Model,
		"tokenizer":          a.Tokenizer,
		"reranker_tokenizer": a.RerankerTokenizer,
		"reranker_model":     a.RerankerModel,
	} {
		name, path := name, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return CheckAsset(name, path)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return errors.New("no chunks loaded")
	}
	for i := range chunks {
		if v, ok := vecs[chunks[i].ID]; ok {
			chunks[i].Vector = v
		}
	}
	e.index(chunks)
	return nil
}

// Index replaces the corpus with chunks. Load calls it after reading files.
func (e *LexicalEngine) Index(chunks []Chunk) { e.index(chunks) }

func (e *LexicalEngine) index(chunks []Chunk) {
	terms := make([]map[string]int, len(chunks))
	docLen := make([]int, len(chunks))
	df := map[string]int{}
	total := 0
	vectored := len(chunks) > 0
	for i, c := range chunks {
		tf := map[string]int{}
		for _, t := range tokenize(c.Text) {
			tf[t]++
			docLen[i]++
		}
		for t := range tf {
			df[t]++
		}
		terms[i] = tf
		total += docLen[i]
		if len(c.Vector) == 0 {
			vectored = false
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks = chunks
	e.terms = terms
	e.docLen = docLen
	e.df = df
	e.vectored = vectored
	e.avgLen = 0
	if len(chunks) > 0 {
		e.avgLen = float64(total) / float64(len(chunks))
	}
}

// Len returns the number of indexed chunks.
func (e *LexicalEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.chunks)
}

// Search returns up to k chunks ordered by descending score. Ties keep corpus
// order, so a query with no known terms returns the first k chunks.
func (e *LexicalEngine) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.chunks)
	if n == 0 {
		return nil, errors.New("index is empty")
	}
	if k <= 0 || k > n {
		k = n
	}

	q := tokenize(query)
	hits := make([]Hit, n)
	for i := range e.chunks {
		hits[i] = Hit{Chunk: e.chunks[i], Score: e.bm25(i, q)}
	}
	sortHits(hits)

	if e.vectored {
		hits = e.rerank(hits)
	}
	return hits[:k], nil
}

func (e *LexicalEngine) bm25(i int, q []string) float64 {
	n := float64(len(e.chunks))
	var score float64
	for _, t := range q {
		tf := float64(e.terms[i][t])
		if tf == 0 {
			continue
		}
		df := float64(e.df[t])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		norm := tf + bm25K1*(1-bm25B+bm25B*float64(e.docLen[i])/e.avgLen)
		score += idf * tf * (bm25K1 + 1) / norm
	}
	return score
}

// rerank blends the lexical score with cosine similarity to the centroid of
// the top matching hits. hits must be sorted.
func (e *LexicalEngine) rerank(hits []Hit) []Hit {
	if hits[0].Score == 0 {
		return hits
	}
	depth := 0
	for depth < feedbackDepth && depth < len(hits) && hits[depth].Score > 0 {
		depth++
	}
	centroid := make([]float64, len(hits[0].Chunk.Vector))
	for _, h := range hits[:depth] {
		for j, v := range h.Chunk.Vector {
			if j < len(centroid) {
				centroid[j] += float64(v) / float64(depth)
			}
		}
	}
	top := hits[0].Score
	out := make([]Hit, len(hits))
	for i, h := range hits {
		h.Score = (1-vectorWeight)*(h.Score/top) + vectorWeight*cosine(centroid, h.Chunk.Vector)
		out[i] = h
	}
	sortHits(out)
	return out
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func cosine(a []float64, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += a[i] * float64(b[i])
		na += a[i] * a[i]
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "do": {},
	"does": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

// tokenize folds case and compatibility forms and drops diacritics, so
// "Café" and "cafe" index to the same term.
func tokenize(s string) []string {
	folded := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, norm.NFKD.String(s))
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; !stop {
			out = append(out, f)
		}
	}
	return out
}
