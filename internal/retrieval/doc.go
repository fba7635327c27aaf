// Package retrieval turns a user query into a grounded prompt.
//
// A Service owns an Engine and exposes two-phase readiness: Start loads the
// assets in the background, State reports Loading until they are in place,
// and GetPrompt returns an ErrNotReady error until then. LexicalEngine is the
// bundled engine: BM25 over chunk text with optional vector reranking.
package retrieval
