package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/PabloGalante/lotus-agent/internal/adapters/events"
	"github.com/PabloGalante/lotus-agent/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/lotus-agent/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/lotus-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/lotus-agent/internal/adapters/storage/sqlstore"
	"github.com/PabloGalante/lotus-agent/internal/app/agentflow"
	"github.com/PabloGalante/lotus-agent/internal/config"
	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

// stores groups the persistence ports; SQL and Firestore backends fill all
// of them with one value.
type stores struct {
	sessions domain.SessionStore
	messages domain.MessageStore
	journal  domain.JournalStore
	profiles domain.ProfileStore
	close    func() error
}

// tiers converts the model settings for the orchestrator.
func tiers(cfg *config.Config) agentflow.Config {
	conv := func(t config.TierConfig) agentflow.ModelTier {
		return agentflow.ModelTier{Model: t.Model, Timeout: t.Timeout, MaxTokens: t.MaxTokens}
	}
	return agentflow.Config{
		Planner:   conv(cfg.LLM.Planner),
		Responder: conv(cfg.LLM.Responder),
		FirstAid:  conv(cfg.LLM.FirstAid),
	}
}

func newLLMClient(ctx context.Context, cfg *config.Config, log *slog.Logger) (domain.LLMClient, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		log.Info("using OpenAI LLM client", "base_url", cfg.LLM.OpenAIBaseURL)
		return llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, nil, cfg.LLM.MaxRetries)
	case config.ProviderVertex:
		log.Info("using Vertex LLM client", "project", cfg.GCP.ProjectID, "location", cfg.GCP.Location)
		return llm.NewVertexClient(ctx, cfg.GCP.ProjectID, cfg.GCP.Location)
	default:
		log.Info("using MOCK LLM client")
		return llm.NewMockLLM(), nil
	}
}

func newStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		log.Info("using SQLite storage", "path", cfg.Storage.SQLitePath)
		st, err := sqlstore.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqlStores(st), nil

	case config.BackendPostgres:
		log.Info("using Postgres storage")
		st, err := sqlstore.OpenPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return sqlStores(st), nil

	case config.BackendFirestore:
		log.Info("using Firestore storage", "project", cfg.GCP.ProjectID)
		st, err := firestorestore.NewStore(ctx, cfg.GCP.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init firestore store: %w", err)
		}
		return &stores{sessions: st, messages: st, journal: st, profiles: st, close: st.Close}, nil

	default:
		log.Info("using in-memory storage")
		return &stores{
			sessions: memstore.NewSessionStore(),
			messages: memstore.NewMessageStore(),
			journal:  memstore.NewJournalStore(),
			profiles: memstore.NewProfileStore(),
			close:    func() error { return nil },
		}, nil
	}
}

func sqlStores(st *sqlstore.Store) *stores {
	return &stores{sessions: st, messages: st, journal: st, profiles: st, close: st.Close}
}

// newPublisher returns nil when no NATS URL is configured.
func newPublisher(cfg *config.Config, log *slog.Logger) (*events.NATSPublisher, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}
	log.Info("publishing turn events", "nats_url", cfg.NATS.URL)
	return events.Connect(cfg.NATS.URL, "lotus-api")
}

func newMetrics() (*prometheus.Registry, *observability.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, observability.NewMetrics(reg)
}

func closeAll(log *slog.Logger, st *stores, pub *events.NATSPublisher) {
	if pub != nil {
		pub.Close()
	}
	if st != nil && st.close != nil {
		if err := st.close(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("closing storage", "error", err)
		}
	}
}
