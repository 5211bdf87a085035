package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/omegacore/omegad/internal/bus"
	"github.com/omegacore/omegad/internal/channels"
	"github.com/omegacore/omegad/internal/channels/telegram"
	"github.com/omegacore/omegad/internal/channels/whatsapp"
	"github.com/omegacore/omegad/internal/completion/router"
	"github.com/omegacore/omegad/internal/config"
	"github.com/omegacore/omegad/internal/docmaint"
	"github.com/omegacore/omegad/internal/gatewaycore"
	"github.com/omegacore/omegad/internal/heartbeat"
	"github.com/omegacore/omegad/internal/httpapi"
	"github.com/omegacore/omegad/internal/mcp"
	"github.com/omegacore/omegad/internal/memory"
	"github.com/omegacore/omegad/internal/sandbox"
	"github.com/omegacore/omegad/internal/scheduler"
	"github.com/omegacore/omegad/internal/summarizer"
	"github.com/omegacore/omegad/internal/tools"
)

// runGateway wires every component built across this repo into one running
// process, following the shape of the teacher's runGateway(): load config,
// build the shared infrastructure (sandbox, tools, router, memory,
// channels), start the background loops as goroutines under one
// cancellable context, then block on a signal for graceful shutdown.
func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	if err := config.RequireNonRoot(); err != nil {
		slog.Error("refusing to start", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "error", err)
		os.Exit(1)
	}
	promptsDir := filepath.Join(cfg.DataDirPath(), "prompts")
	projectsDir := filepath.Join(cfg.DataDirPath(), "projects")
	os.MkdirAll(promptsDir, 0o755)
	os.MkdirAll(projectsDir, 0o755)

	sandboxMgr, err := sandbox.NewManager(cfg.Sandbox.ToSandboxConfig(workspace))
	if err != nil {
		slog.Error("failed to build sandbox manager", "error", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(workspace, true, sandboxMgr))
	registry.Register(tools.NewWriteFileTool(workspace, true, sandboxMgr))
	registry.Register(tools.NewEditFileTool(workspace, true, sandboxMgr))
	registry.Register(tools.NewExecTool(workspace, true, sandboxMgr))

	mcpMgr := mcp.NewManager(registry)

	completionRouter, err := router.New(cfg.Provider, workspace, sandboxMgr, registry, mcpMgr)
	if err != nil {
		slog.Error("failed to build completion router", "error", err)
		os.Exit(1)
	}

	store, err := memory.Open(cfg.MemoryDBPath())
	if err != nil {
		slog.Error("failed to open memory store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	msgBus := bus.New()
	channelMgr := channels.NewManager(msgBus)

	if cfg.Channel.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channel.Telegram, msgBus)
		if err != nil {
			slog.Error("failed to build telegram channel", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("telegram", ch)
	}
	if cfg.Channel.WhatsApp.Enabled {
		ch, err := whatsapp.New(cfg.Channel.WhatsApp, filepath.Join(cfg.DataDirPath(), "whatsapp.db"), msgBus)
		if err != nil {
			slog.Error("failed to build whatsapp channel", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("whatsapp", ch)
	}

	pipeline := gatewaycore.NewPipeline(store, channelMgr, completionRouter.Primary(), cfg, workspace)
	orchestrator := gatewaycore.NewOrchestrator(msgBus, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}
	orchDone := make(chan struct{})
	go func() {
		orchestrator.Run(ctx)
		close(orchDone)
	}()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(store, channelMgr, completionRouter.Primary(), time.Duration(cfg.Scheduler.PollIntervalSecs)*time.Second)
		go sched.Run(ctx)
	}
	if cfg.Heartbeat.Enabled {
		hb := heartbeat.New(store, channelMgr, completionRouter.Primary(), cfg.Heartbeat, promptsDir, projectsDir)
		go hb.Run(ctx)
	}

	sum := summarizer.New(store, completionRouter.Primary(), time.Minute)
	go sum.Run(ctx)

	if maint, err := docmaint.New(promptsDir, projectsDir, workspace, time.Hour); err != nil {
		slog.Warn("docmaint unavailable", "error", err)
	} else {
		go maint.Run(ctx)
	}

	var apiSrv *http.Server
	if cfg.API.Enabled {
		api := httpapi.New(cfg.API.APIKey, channelMgr, msgBus)
		apiSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
			Handler: api.Handler(),
		}
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http api server error", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("omegad gateway starting",
		"version", Version,
		"workspace", workspace,
		"channels", channelMgr.GetEnabledChannels(),
		"tools", len(registry.Names()),
	)

	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if apiSrv != nil {
		_ = apiSrv.Shutdown(shutdownCtx)
	}
	_ = channelMgr.StopAll(shutdownCtx)
	cancel()
	<-orchDone
}
