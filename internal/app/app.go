package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"localchat/internal/config"
	"localchat/internal/registry"
	"localchat/internal/retrieval"
	"localchat/internal/session"
	"localchat/internal/store"
	"localchat/pkg/types"
)

// Options overrides the collaborators New would otherwise build from config.
type Options struct {
	Backend    session.InferenceBackend
	Engine     retrieval.Engine
	DB         *sql.DB
	Publishers []session.EventPublisher
}

// App is one running localchat instance.
type App struct {
	cfg       config.Config
	log       zerolog.Logger
	db        *sql.DB
	store     *store.Store
	retrieval *retrieval.Service
	sess      *session.Session

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New opens the store, syncs models from cfg.ModelsDir, starts loading the
// retrieval assets in the background and selects the default chat.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	db := opts.DB
	if db == nil {
		var err error
		if db, err = store.Open(cfg.DBPath, log); err != nil {
			return nil, err
		}
	}
	st := store.New(db, cfg.DefaultSystemPrompt)
	a := &App{cfg: cfg, log: log, db: db, store: st}

	if _, err := a.Rescan(ctx); err != nil {
		// a missing models dir leaves the picker empty but is not fatal
		log.Warn().Err(err).Str("dir", cfg.ModelsDir).Msg("app event=models_scan_failed")
	}

	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	scfg := session.Config{
		Backend:    opts.Backend,
		Gateway:    st,
		Logger:     log.With().Str("component", "session").Logger(),
		Publishers: opts.Publishers,
	}
	if scfg.Backend == nil {
		scfg.Backend = session.NewLlamaBackend(cfg.LlamaThreads)
	}
	if cfg.Retrieval.Enabled() {
		engine := opts.Engine
		if engine == nil {
			engine = retrieval.NewLexicalEngine()
		}
		a.retrieval = retrieval.NewService(engine, cfg.Retrieval.TopK, log.With().Str("component", "retrieval").Logger())
		a.retrieval.Start(bg, cfg.Retrieval.Assets())
		scfg.Retrieval = retrievalSource{svc: a.retrieval}
	}

	a.sess = session.New(scfg)
	if err := a.sess.Init(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init session: %w", err)
	}
	return a, nil
}

// Session returns the live session.
func (a *App) Session() *session.Session { return a.sess }

// Store returns the persistence gateway.
func (a *App) Store() *store.Store { return a.store }

// Retrieval returns the retrieval service, or nil when disabled.
func (a *App) Retrieval() *retrieval.Service { return a.retrieval }

// Rescan syncs cfg.ModelsDir into the store.
func (a *App) Rescan(ctx context.Context) ([]types.Model, error) {
	if a.cfg.ModelsDir == "" {
		return nil, nil
	}
	models, err := registry.Sync(ctx, a.cfg.ModelsDir, a.store)
	if err != nil {
		return models, err
	}
	a.log.Info().Int("models", len(models)).Str("dir", a.cfg.ModelsDir).Msg("app event=models_synced")
	return models, nil
}

// WaitRetrieval blocks until retrieval finished loading or ctx is done. It
// returns the load error, if any; disabled retrieval returns nil at once.
func (a *App) WaitRetrieval(ctx context.Context) error {
	if a.retrieval == nil {
		return nil
	}
	select {
	case <-a.retrieval.Loaded():
		return a.retrieval.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetrievalState is "disabled" or the retrieval readiness state.
func (a *App) RetrievalState() string {
	if a.retrieval == nil {
		return RetrievalDisabled
	}
	return string(a.retrieval.State())
}

// Close stops the session, cancels background loading and closes the store.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.sess != nil {
			errs = append(errs, a.sess.Close())
		}
		if a.cancel != nil {
			a.cancel()
		}
		errs = append(errs, a.store.Close())
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
