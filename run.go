package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opscart/k8s-agentic-remediation/config"
	"github.com/opscart/k8s-agentic-remediation/controlplane"
	"github.com/opscart/k8s-agentic-remediation/emitter"
	"github.com/opscart/k8s-agentic-remediation/executor"
	"github.com/opscart/k8s-agentic-remediation/log"
	"github.com/opscart/k8s-agentic-remediation/loop"
	"github.com/opscart/k8s-agentic-remediation/memory"
	"github.com/opscart/k8s-agentic-remediation/metrics"
	"github.com/opscart/k8s-agentic-remediation/planner"
	"github.com/opscart/k8s-agentic-remediation/reasoning"
	"github.com/opscart/k8s-agentic-remediation/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the autonomous monitoring loop",
	Long: `Start monitoring the namespace. Each cycle observes failing containers,
builds a remediation plan for every issue, applies it and records the outcome
in pattern memory. Press Ctrl+C to stop and print a session summary.`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().DurationP("interval", "i", config.DefaultInterval, "Delay between monitoring cycles")
	runCmd.Flags().Bool("no-auto", false, "Disable auto-remediation (observe and plan only)")
	runCmd.Flags().BoolP("fresh", "f", false, "Discard persisted memory before starting")
	runCmd.Flags().String("output", config.DefaultOutputDir, "Directory for the JSONL audit trail")
	runCmd.Flags().String("metrics-addr", "", "Serve metrics and the memory API on this address (e.g. :9090)")
	runCmd.Flags().String("filter", "", "CEL expression; issues for which it is true are ignored")
	runCmd.Flags().String("model", config.DefaultReasoningModel, "Reasoning service model")
	runCmd.Flags().String("base-url", "", "OpenAI-compatible API base URL")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("main")

	reasoner, err := reasoning.NewOpenAI(reasoning.Config{
		APIKey:  cfg.APIKey(),
		BaseURL: cfg.Reasoning.BaseURL,
		Model:   cfg.Reasoning.Model,
	})
	if err != nil {
		if errors.Is(err, reasoning.ErrMissingAPIKey) {
			return fmt.Errorf("%w: export %s before starting the agent", err, cfg.Reasoning.APIKeyEnv)
		}
		return err
	}

	client, err := controlplane.BuildClient(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	kube := controlplane.NewKube(client)
	logger.Info().Msg("kubernetes client connected")

	persister, err := memory.NewPersister(cfg.Memory.Backend, cfg.Memory.Path)
	if err != nil {
		return err
	}
	if cfg.Fresh {
		if err := persister.Reset(); err != nil {
			return fmt.Errorf("failed to reset memory: %w", err)
		}
		logger.Info().Str("path", cfg.Memory.Path).Msg("starting with fresh memory")
	}
	store := memory.Open(persister)
	defer store.Close()

	stats := store.Statistics()
	metrics.PatternsLearned.Set(float64(stats.Patterns))

	filter, err := watcher.NewFilter(cfg.IssueFilter)
	if err != nil {
		return err
	}

	emit, err := emitter.NewJSONEmitter(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize emitter: %w", err)
	}
	defer emit.Close()

	observer := watcher.NewPodObserver(kube, cfg.Namespace, filter, cfg.RequestTimeout)
	gatherer := watcher.NewGatherer(kube, cfg.LogTail, cfg.RequestTimeout)
	plan := planner.New(store, reasoner, cfg.Reasoning.Timeout)
	exec := executor.New(kube, store, emit, executor.Options{
		SettleDelay:    cfg.SettleDelay,
		RequestTimeout: cfg.RequestTimeout,
	})
	controller := loop.New(loop.Config{
		Interval:      cfg.Interval,
		AutoRemediate: cfg.AutoRemediate,
	}, observer, gatherer, plan, exec, store, emit)

	logger.Info().
		Str("namespace", cfg.Namespace).
		Dur("interval", cfg.Interval).
		Bool("auto_remediate", cfg.AutoRemediate).
		Str("memory", cfg.Memory.Path).
		Int("memory_attempts", stats.Total).
		Int("patterns_learned", stats.Patterns).
		Msg("agent initialized")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, store, func() string { return string(controller.State()) })
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
	}

	summary := controller.Run(ctx)
	writeSummary(cmd.OutOrStdout(), "SESSION SUMMARY", summary)
	return nil
}
