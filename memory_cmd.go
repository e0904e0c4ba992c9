package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opscart/k8s-agentic-remediation/memory"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pattern memory statistics and learned patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		writeSummary(cmd.OutOrStdout(), "MEMORY STATISTICS", store.Statistics())

		patterns := store.Patterns()
		if len(patterns) == 0 {
			return nil
		}
		sigs := make([]string, 0, len(patterns))
		for sig := range patterns {
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SIGNATURE\tSUCCESSES\tRATE\tLAST ACTION")
		for _, sig := range sigs {
			p := patterns[sig]
			action := "-"
			if p.LastSuccess != nil {
				action = string(p.LastSuccess.Action)
			}
			fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%s\n", sig, p.SuccessCount, p.SuccessRate()*100, action)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history POD",
	Short: "Show remediation attempts recorded for a pod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		attempts := store.History(args[0])
		if len(attempts) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No attempts recorded for %s\n", args[0])
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSIGNATURE\tACTION\tRESULT\tCOMMAND")
		for _, a := range attempts {
			result := "FAILED"
			if a.Success {
				result = "SUCCESS"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				a.Timestamp.Format(time.RFC3339), a.Issue.Signature(), a.Action, result, a.Command)
		}
		return w.Flush()
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all persisted attempts and learned patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		p, err := memory.NewPersister(cfg.Memory.Backend, cfg.Memory.Path)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := p.Reset(); err != nil {
			return fmt.Errorf("failed to reset memory: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Memory at %s reset\n", cfg.Memory.Path)
		return nil
	},
}

func openStore(cmd *cobra.Command) (*memory.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	p, err := memory.NewPersister(cfg.Memory.Backend, cfg.Memory.Path)
	if err != nil {
		return nil, err
	}
	return memory.Open(p), nil
}

func writeSummary(out io.Writer, title string, stats memory.Stats) {
	fmt.Fprintln(out, title)
	fmt.Fprintf(out, "Total remediation attempts:  %d\n", stats.Total)
	fmt.Fprintf(out, "Successful attempts:         %d\n", stats.Successful)
	fmt.Fprintf(out, "Success rate:                %.1f%%\n", stats.SuccessRate*100)
	fmt.Fprintf(out, "Patterns learned:            %d\n", stats.Patterns)
}
