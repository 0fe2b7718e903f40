package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"github.com/jask/focusguard/internal/config"
	"github.com/jask/focusguard/internal/database"
	"github.com/jask/focusguard/internal/database/repository"
	"github.com/jask/focusguard/internal/filter"
	"github.com/jask/focusguard/internal/llm"
	"github.com/jask/focusguard/internal/logging"
	"github.com/jask/focusguard/internal/prefs"
	"github.com/jask/focusguard/internal/secrets"
	"github.com/jask/focusguard/internal/service"
	"github.com/jask/focusguard/internal/session"
)

// env is everything a command needs, opened once per invocation.
type env struct {
	cfg      config.Config
	log      *zap.Logger
	db       *sql.DB
	secrets  *secrets.Store
	identity service.Identity

	profiles    *service.ProfileService
	sessions    *service.SessionRecorder
	maintenance *service.MaintenanceService
	history     *repository.HistoryRepo

	// set when the openai oracle is in use, so it can be refreshed
	openai *llm.OpenAIOracle
}

func openEnv(ctx context.Context, identityFlag string) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir db dir")
	}
	if err := database.RunEmbeddedMigrations(cfg.Database.Path); err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "seed defaults")
	}

	store, err := secrets.NewStore("")
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	e := &env{
		cfg:         cfg,
		log:         logger,
		db:          db,
		secrets:     store,
		profiles:    &service.ProfileService{Profiles: repository.NewProfileRepo(db)},
		sessions:    &service.SessionRecorder{Sessions: repository.NewSessionRepo(db), Log: logger},
		maintenance: &service.MaintenanceService{DB: db},
		history:     repository.NewHistoryRepo(db),
	}

	name := strings.TrimSpace(identityFlag)
	if name == "" {
		if active, ok, err := prefs.LoadActive(""); err == nil && ok {
			name = active.Identity
		} else if err != nil {
			logger.Warn("load active identity", zap.Error(err))
		}
	}
	if name == "" {
		name = database.DefaultIdentity
	}
	e.identity, err = e.profiles.Resolve(ctx, name)
	if err != nil {
		e.Close()
		return nil, err
	}
	logger.Debug("environment ready", zap.String("identity", e.identity.Name), zap.String("role", e.identity.Role.String()))
	return e, nil
}

func (e *env) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	_ = e.log.Sync()
}

// oracle builds the configured relevance oracle. An openai provider with no
// key falls back to the offline oracle.
func (e *env) oracle() llm.Oracle {
	return llm.NewThrottled(e.baseOracle(), e.cfg.Oracle.RatePerMinute, e.cfg.Oracle.Burst)
}

func (e *env) baseOracle() llm.Oracle {
	o := e.cfg.Oracle
	switch strings.ToLower(strings.TrimSpace(o.Provider)) {
	case "offline":
		return llm.NewOfflineOracle(o.MaxLinks)
	default:
		key := resolveAPIKey(e.cfg, e.secrets)
		if key == "" {
			e.log.Warn("no api key configured; using offline oracle", zap.String("env", o.APIKeyEnv))
			return llm.NewOfflineOracle(o.MaxLinks)
		}
		e.openai = llm.NewOpenAIOracle(key, llm.OpenAIOptions{
			Model:    o.Model,
			BaseURL:  o.BaseURL,
			Timeout:  o.Timeout,
			MaxLinks: o.MaxLinks,
			Logger:   e.log.Named("oracle"),
		})
		return e.openai
	}
}

// reloadOracle re-reads the config and the stored provider key into the live
// openai oracle, so `secret key` and `config set oracle.model` apply to a
// running session. Switching providers still needs a restart.
func (e *env) reloadOracle() (string, error) {
	if e.openai == nil {
		return "", errors.New("the offline oracle has nothing to reload")
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	key := resolveAPIKey(cfg, e.secrets)
	if key == "" {
		return "", llm.ErrNoAPIKey
	}
	e.openai.SetAPIKey(key)
	e.openai.SetModel(cfg.Oracle.Model)
	e.log.Info("oracle reloaded", zap.String("model", e.openai.Model()))
	return e.openai.Model(), nil
}

// searchService wires the oracle, filter and identity-scoped history.
// gate may be nil for one-shot searches outside a session.
func (e *env) searchService(ctx context.Context, gate service.SessionGate) (*service.SearchService, error) {
	ledger := service.NewLedger(e.history.Scoped(e.identity.Name))
	if err := ledger.Load(ctx); err != nil {
		return nil, err
	}
	svc := &service.SearchService{
		Oracle:  e.oracle(),
		Filter:  filter.New(e.cfg.Filter.BlockedTLDs, e.cfg.Filter.BlockedSites),
		History: ledger,
		Session: gate,
		Log:     e.log.Named("search"),
	}
	return svc, nil
}

// machine returns an Idle session for the current identity whose end is
// written to the session log.
func (e *env) machine() *session.Machine {
	m := session.New(e.identity.Name, e.secrets, session.WithLogger(e.log.Named("session")))
	e.sessions.Attach(m)
	return m
}

func resolveAPIKey(cfg config.Config, store *secrets.Store) string {
	provider := strings.ToLower(strings.TrimSpace(cfg.Oracle.Provider))
	env := strings.TrimSpace(cfg.Oracle.APIKeyEnv)
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if store != nil {
		if k, err := store.FetchProviderKey(provider); err == nil {
			return k
		}
	}
	return strings.TrimSpace(cfg.Oracle.APIKey)
}
