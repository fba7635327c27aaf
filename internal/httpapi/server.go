package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"localchat/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels(ctx context.Context) ([]types.Model, error)
	DeleteModel(ctx context.Context, id int64) error
	// SelectModel assigns a model to the active chat.
	SelectModel(ctx context.Context, id int64) error
	// LoadModel loads the backend for the active chat ahead of a query.
	LoadModel(ctx context.Context) bool

	ListChats(ctx context.Context) ([]types.Chat, error)
	GetChat(ctx context.Context, id int64) (types.Chat, error)
	NewChat(ctx context.Context, c types.Chat) (types.Chat, error)
	SwitchChat(ctx context.Context, id int64) error
	UpdateChat(ctx context.Context, c types.Chat) error
	DeleteChat(ctx context.Context, id int64) error
	Messages(ctx context.Context, chatID int64) ([]types.Message, error)

	// Query starts a generation and returns without waiting for it.
	Query(ctx context.Context, req types.QueryRequest) (types.QueryResponse, error)
	Stop()

	State() types.SessionState
	// Subscribe returns the current state and the events published after it.
	Subscribe(buffer int) (types.SessionState, <-chan types.EventMessage, func())
	SetVisibility(p types.Panel, visible bool)
	DismissError()

	// Ready reports whether queries can be answered (retrieval loaded).
	Ready() bool
}

// NewMux returns the localchat HTTP handler.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/models", func(r chi.Router) {
		r.Get("/", listModels(svc))
		r.Post("/select", selectModel(svc))
		r.Post("/load", loadModel(svc))
		r.Delete("/{id}", deleteModel(svc))
	})

	r.Route("/chats", func(r chi.Router) {
		r.Get("/", listChats(svc))
		r.Post("/", newChat(svc))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getChat(svc))
			r.Patch("/", updateChat(svc))
			r.Delete("/", deleteChat(svc))
			r.Post("/select", switchChat(svc))
			r.Get("/messages", listMessages(svc))
		})
	})

	r.Post("/query", query(svc))
	r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		svc.Stop()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.State())
	})
	r.Get("/events", events(svc))
	r.Post("/ui/{panel}/{action}", setVisibility(svc))
	r.Post("/error/dismiss", func(w http.ResponseWriter, r *http.Request) {
		svc.DismissError()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func listModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.ListModels(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
	}
}

func selectModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SelectModelRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.ModelID <= 0 {
			writeJSONError(w, http.StatusBadRequest, "model_id is required")
			return
		}
		if err := svc.SelectModel(r.Context(), req.ModelID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.State())
	}
}

func loadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		ok := svc.LoadModel(ctx)
		resp := types.LoadResponse{Loaded: ok, LoadState: svc.State().LoadState}
		status := http.StatusOK
		if !ok {
			// the reason is in the session state: picker shown or error raised
			status = http.StatusConflict
		}
		writeJSON(w, status, resp)
	}
}

func deleteModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err == nil {
			err = svc.DeleteModel(r.Context(), id)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listChats(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chats, err := svc.ListChats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ChatsResponse{Chats: chats})
	}
}

func getChat(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		c, err := svc.GetChat(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func newChat(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.NewChatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		c := types.Chat{
			Name:         strings.TrimSpace(req.Name),
			SystemPrompt: req.SystemPrompt,
			MinP:         req.MinP,
			Temperature:  req.Temperature,
			ContextSize:  req.ContextSize,
			IsTask:       req.IsTask,
		}
		if req.LLMModelID != nil {
			c.LLMModelID = *req.LLMModelID
		}
		if err := validateChat(c); err != nil {
			writeError(w, err)
			return
		}
		created, err := svc.NewChat(r.Context(), c)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func updateChat(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		var req types.UpdateChatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		c, err := svc.GetChat(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Apply(&c)
		if c.LLMModelID == 0 {
			c.LLMModelID = types.UnassignedModelID
		}
		if err := validateChat(c); err != nil {
			writeError(w, err)
			return
		}
		if err := svc.UpdateChat(r.Context(), c); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func deleteChat(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err == nil {
			err = svc.DeleteChat(r.Context(), id)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func switchChat(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err == nil {
			err = svc.SwitchChat(r.Context(), id)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.State())
	}
}

func listMessages(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if _, err := svc.GetChat(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		msgs, err := svc.Messages(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MessagesResponse{Messages: msgs})
	}
}

func setVisibility(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		panel := types.Panel(chi.URLParam(r, "panel"))
		if !panel.Valid() {
			writeJSONError(w, http.StatusNotFound, "unknown panel")
			return
		}
		switch chi.URLParam(r, "action") {
		case "show":
			svc.SetVisibility(panel, true)
		case "hide":
			svc.SetVisibility(panel, false)
		default:
			writeJSONError(w, http.StatusBadRequest, "action must be show or hide")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
