package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/lotus-agent/internal/adapters/auth"
	httpadapter "github.com/PabloGalante/lotus-agent/internal/adapters/http"
	"github.com/PabloGalante/lotus-agent/internal/app/agentflow"
	"github.com/PabloGalante/lotus-agent/internal/app/conversation"
	journalapp "github.com/PabloGalante/lotus-agent/internal/app/journal"
	"github.com/PabloGalante/lotus-agent/internal/app/tools"
	"github.com/PabloGalante/lotus-agent/internal/config"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat, voice, session and journal HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.SetLevel(cfg.LogLevel)
	log := observability.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmClient, err := newLLMClient(ctx, cfg, log)
	if err != nil {
		return err
	}

	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	pub, err := newPublisher(cfg, log)
	if err != nil {
		closeAll(log, st, nil)
		return err
	}
	defer closeAll(log, st, pub)

	reg, metrics := newMetrics()

	opts := []conversation.Option{
		conversation.WithJournal(tools.NewJournalTool(st.journal)),
		conversation.WithMetrics(metrics),
		conversation.WithHistoryLimit(cfg.HistoryLimit),
	}
	if pub != nil {
		opts = append(opts, conversation.WithEvents(pub))
	}

	svc := conversation.NewService(
		agentflow.NewDefaultOrchestrator(llmClient, tiers(cfg), metrics),
		st.sessions,
		st.messages,
		opts...,
	)
	journalSvc := journalapp.NewService(st.journal)
	authn := auth.NewBearerAuthenticator(cfg.Auth.JWTSecret, st.profiles, cfg.Auth.RequireProfile)
	if cfg.Auth.JWTSecret == "" {
		log.Warn("LOTUS_JWT_SECRET not set: bearer tokens are decoded without signature verification")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpadapter.NewServer(svc, journalSvc, authn, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Lotus API listening", "addr", srv.Addr, "mode", cfg.Mode, "llm", cfg.LLM.Provider, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
