// Package session orchestrates a single conversation with a locally loaded
// model. It is structured into small files by concern:
//
//   - session.go: Session facade wiring the pieces below to a Gateway.
//   - state.go: State, the observable container every component writes to.
//   - bus.go: Bus, the ordered notification channel readers subscribe to.
//   - lifecycle.go: Lifecycle, the load/unload state machine for the backend.
//   - prompt.go: PromptBuilder, retrieval output to provenance + backend input.
//   - generation.go: Controller, the single active generation per session.
//   - thinktag.go: post-processing of reasoning spans in final text.
//   - errors.go: error types and helpers (IsSelectionRequired, IsBackendLoad, ...).
//   - metrics.go: Prometheus collectors for loads and generations.
//
// Backends:
//
//   - In-process llama (standard):
//     Uses go-llama.cpp. Enabled with `-tags=llama`.
//     Files: backend_llama.go, llama_cgo.go (linker rpath hints).
//     A no-CGO stub exists when the tag is not set: backend_llama_stub.go.
//
// External packages should use Session and the exported interfaces only.
package session
