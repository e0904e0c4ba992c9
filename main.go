package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opscart/k8s-agentic-remediation/config"
	"github.com/opscart/k8s-agentic-remediation/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	os.Exit(execute(os.Stderr))
}

// execute runs the root command and maps its outcome to a process exit code.
func execute(stderr io.Writer) int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "k8s-agent",
	Short: "Autonomous Kubernetes remediation agent",
	Long: `k8s-agent watches a namespace for failing pods and runs an
observe, plan, act and learn loop: cheap heuristics first, then remediations
learned from earlier successes, then a reasoning service, then a safe restart.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("k8s-agent version %s\nCommit: %s\n", Version, Commit))

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to YAML config file")
	pf.StringP("namespace", "n", config.DefaultNamespace, "Kubernetes namespace to monitor")
	pf.String("kubeconfig", "", "Path to kubeconfig")
	pf.String("memory", config.DefaultMemoryPath, "Path to the pattern memory store")
	pf.String("memory-backend", "json", "Pattern memory backend (json, bolt)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(resetCmd)
}

// loadConfig reads the config file and applies every flag the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("namespace") {
		cfg.Namespace, _ = flags.GetString("namespace")
	}
	if flags.Changed("kubeconfig") {
		cfg.Kubeconfig, _ = flags.GetString("kubeconfig")
	}
	if flags.Changed("memory") {
		cfg.Memory.Path, _ = flags.GetString("memory")
	}
	if flags.Changed("memory-backend") {
		cfg.Memory.Backend, _ = flags.GetString("memory-backend")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Lookup("interval") != nil && flags.Changed("interval") {
		cfg.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Lookup("no-auto") != nil && flags.Changed("no-auto") {
		noAuto, _ := flags.GetBool("no-auto")
		cfg.AutoRemediate = !noAuto
	}
	if flags.Lookup("fresh") != nil && flags.Changed("fresh") {
		cfg.Fresh, _ = flags.GetBool("fresh")
	}
	if flags.Lookup("output") != nil && flags.Changed("output") {
		cfg.OutputDir, _ = flags.GetString("output")
	}
	if flags.Lookup("metrics-addr") != nil && flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Lookup("filter") != nil && flags.Changed("filter") {
		cfg.IssueFilter, _ = flags.GetString("filter")
	}
	if flags.Lookup("model") != nil && flags.Changed("model") {
		cfg.Reasoning.Model, _ = flags.GetString("model")
	}
	if flags.Lookup("base-url") != nil && flags.Changed("base-url") {
		cfg.Reasoning.BaseURL, _ = flags.GetString("base-url")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	return cfg, nil
}
