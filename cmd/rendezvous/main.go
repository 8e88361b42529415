// Command rendezvous is the interactive peer.
//
// Registers an identity with a rendezvous relay, negotiates a WebRTC
// DataChannel with another identity through it, and exchanges text messages
// directly over that channel.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/1ureka/rendezvous/internal/config"
	"github.com/1ureka/rendezvous/internal/negotiation"
	"github.com/1ureka/rendezvous/internal/shell"
	"github.com/1ureka/rendezvous/internal/signaling"
	"github.com/1ureka/rendezvous/internal/transport"
	"github.com/1ureka/rendezvous/internal/util"
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadPeer(os.Args[1:])
	switch {
	case errors.Is(err, pflag.ErrHelp):
		return
	case err != nil:
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if cfg.Debug {
		util.EnableDebug()
		util.StartStatsReporter(ctx, 10*time.Second)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Peer) error {
	api, err := transport.NewAPI(cfg.PionLogLevel)
	if err != nil {
		return err
	}

	sh := shell.New(cfg.Identity, os.Stdin, os.Stdout)
	sh.Banner()

	util.LogInfo("connecting to relay %s", cfg.RelayURL)
	client, err := signaling.Dial(ctx, cfg.RelayURL)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted before the relay answered.
			return nil
		}
		return err
	}
	defer client.Close()
	util.LogSuccess("connected to relay")

	engine := negotiation.New(negotiation.Config{
		Identity: cfg.Identity,
		Signal:   client,
		NewPeer:  negotiation.TransportFactory(ctx, api, webrtc.Configuration{ICEServers: cfg.ICEServers}),
		Observer: sh,
	})

	engineCtx, stopEngine := context.WithCancel(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = engine.Run(engineCtx)
	}()
	defer func() {
		stopEngine()
		<-engineDone
	}()

	go func() {
		engine.RelayLost(client.Listen(engine.Deliver))
	}()

	if err := client.Register(cfg.Identity); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	sh.Help(false)
	return sh.Run(ctx, engine)
}
