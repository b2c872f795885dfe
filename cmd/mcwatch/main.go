// mcwatch: CLI entry point.
//
// Watches a Minecraft server (and optionally a Space Engineers server) and
// serves its status over HTTP, pushing status changes to WebSocket
// subscribers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/mcwatch/internal/a2s"
	"github.com/1ureka/mcwatch/internal/config"
	"github.com/1ureka/mcwatch/internal/hub"
	"github.com/1ureka/mcwatch/internal/probe"
	"github.com/1ureka/mcwatch/internal/server"
	"github.com/1ureka/mcwatch/internal/status"
	"github.com/1ureka/mcwatch/internal/util"
)

var version = "dev"

const topicMinecraft = "minecraft"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := pflag.StringP("config", "c", "", "Path to a YAML config file")
	listen := pflag.StringP("listen", "l", "", "HTTP listen address (overrides the config file)")
	debugMode := pflag.Bool("debug", false, "Enable debug logging")
	pflag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("mcwatch v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("config load failed: %v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("config validation failed: %v", err)
		os.Exit(1)
	}

	util.LogDebug("config: %+v", *cfg)

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogSuccess("shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mc := cfg.Minecraft
	prober := probe.New(probe.Config{
		Host:            mc.Host,
		Port:            mc.Port,
		ProtocolVersion: mc.ProtocolVersion,
		ConnectTimeout:  mc.Timeout,
		ReadTimeout:     mc.Timeout,
		WriteTimeout:    mc.Timeout,
	})
	job := status.NewJob(status.Config{
		Topic:          topicMinecraft,
		PingInterval:   mc.PingInterval,
		StatusInterval: mc.StatusInterval,
		PingPayload:    mc.PingPayload,
	}, prober)
	util.LogInfo("watching minecraft server at %s", prober.Addr())

	// Stays a nil interface when unconfigured; the route then answers 404.
	var spaceEngineers server.InfoSource
	if se := cfg.SpaceEngineers; se != nil {
		client := a2s.New(se.Host, se.Port, se.Timeout)
		spaceEngineers = client
		util.LogInfo("space engineers queries go to %s", client.Addr())
	} else {
		util.LogWarning("no space engineers server configured; /space-engineers/info is disabled")
	}

	h := hub.New(map[string]hub.Publisher{topicMinecraft: job})
	srv := server.New(server.Config{
		QueueSize:    cfg.QueueSize,
		WriteTimeout: cfg.WriteTimeout,
	}, h, prober, spaceEngineers)

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		job.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		h.Run(ctx)
	}()

	// Returns on ctx cancellation or on a listen failure; either way the
	// job and hub go down with it.
	err := srv.ListenAndServe(ctx, cfg.Listen)
	cancel()
	wg.Wait()
	return err
}
