package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callsync/internal/adapters/backendhttp"
	"github.com/dkeye/callsync/internal/adapters/httpdebug"
	"github.com/dkeye/callsync/internal/adapters/peerdir"
	"github.com/dkeye/callsync/internal/adapters/wsfeed"
	"github.com/dkeye/callsync/internal/config"
	"github.com/dkeye/callsync/internal/core"
	"github.com/dkeye/callsync/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	callID := domain.CallID(os.Getenv("CALL_ID"))
	if callID == "" {
		callID = domain.NewCallID()
	}
	selfID := domain.PeerID(os.Getenv("SELF_PEER_ID"))
	if selfID == "" {
		selfID = domain.PeerID(uuid.NewString())
	}

	peers := peerdir.New()
	backend := backendhttp.New(cfg.BackendURL)
	backend.Peers = peers

	session, err := core.NewSession(ctx, core.Options{
		CallID:          callID,
		SelfPeerID:      selfID,
		Backend:         backend,
		Peers:           peers,
		PageSize:        cfg.PageSize,
		DecayInterval:   cfg.DecayInterval,
		ActivityTimeout: cfg.ActivityTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}

	feed := &wsfeed.Feed{
		URL:        fmt.Sprintf("%s?call=%s", cfg.FeedURL, callID),
		Session:    session,
		Peers:      peers,
		PingPeriod: cfg.PingPeriod,
	}
	go feed.Run(ctx)

	r := httpdebug.SetupRouter(cfg.Mode, session)
	addr := fmt.Sprintf(":%d", cfg.DebugPort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("call", string(callID)).Msg("callsync started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	session.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
