package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/config"
	"github.com/scangrid-io/scangrid/internal/grid"
	"github.com/scangrid-io/scangrid/internal/logging"
)

func newScanCmd() *cobra.Command {
	var targetsFile string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Runs one batch of scans and exits",
		Long: `Loads scan targets from a JSON file, schedules them across the worker
cluster, waits for every job to reach a terminal state, and prints the
outcomes as JSON on stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd.Context(), targetsFile)
		},
	}
	cmd.Flags().StringVar(&targetsFile, "targets", "", "path to a JSON file with scan targets")
	if err := cmd.MarkFlagRequired("targets"); err != nil {
		panic(err)
	}
	return cmd
}

func runScan(ctx context.Context, targetsFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	targets, err := loadTargets(targetsFile)
	if err != nil {
		return err
	}

	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.shutdown(context.Background())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go comps.scheduler.Run(runCtx)

	jobIDs, err := comps.scheduler.ScheduleGlobalScan(targets)
	if err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	logger.Info("scan scheduled", zap.Int("jobs", len(jobIDs)))

	if err := comps.scheduler.Wait(ctx); err != nil {
		return fmt.Errorf("wait for scan: %w", err)
	}

	outcomes := make([]grid.Outcome, 0, len(jobIDs))
	for _, id := range jobIDs {
		job, ok := comps.scheduler.Job(id)
		if !ok {
			continue
		}
		outcomes = append(outcomes, grid.OutcomeFromJob(&job))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcomes); err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	return nil
}

func loadTargets(path string) ([]grid.ScanTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var targets []grid.ScanTarget
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("targets file %s contains no targets", path)
	}
	return targets, nil
}
