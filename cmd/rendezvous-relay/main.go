// Command rendezvous-relay runs the identity registry and signaling courier.
//
// Endpoints register an identity over WebSocket; offers, answers and ICE
// candidates addressed to a registered identity are forwarded verbatim.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/1ureka/rendezvous/internal/config"
	"github.com/1ureka/rendezvous/internal/relay"
	"github.com/1ureka/rendezvous/internal/util"
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		util.LogError("%v", err)
		os.Exit(2)
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		util.LogError("failed to listen on %s: %v", cfg.ListenAddr, err)
		os.Exit(1)
	}

	reg := relay.New()
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = reg.Run(ctx)
	}()

	ws := relay.NewServer(reg, cfg)
	srv := &http.Server{Handler: ws.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	util.StartStatsReporter(ctx, cfg.StatsInterval)
	util.LogSuccess("relay listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
		util.LogInfo("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay server stopped: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		util.LogWarning("graceful shutdown failed: %v", err)
		_ = srv.Close()
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	ws.Close()
	stop()
	<-relayDone

	util.LogInfo("relay stopped")
}
