package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/config"
	"github.com/ajitpratap0/datasync/pkg/datasource"
	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/history"
	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/mapping"
	"github.com/ajitpratap0/datasync/pkg/poller"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog.yaml>",
		Short: "Validate a data source catalog",
		Long: `Validate every data source of a catalog file and list all violations,
qualified by entry position.

Example:
  datasync validate catalog.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var catalog datasource.Catalog
			if err := config.LoadYAML(args[0], &catalog); err != nil {
				return err
			}
			if err := catalog.Validate(); err != nil {
				var verr *errors.ValidationError
				if errors.As(err, &verr) {
					for _, v := range verr.Violations {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", v.Field, v.Message)
					}
					return fmt.Errorf("%d violation(s) in %s", len(verr.Violations), args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d data source(s) valid\n", args[0], len(catalog.DataSources))
			return nil
		},
	}
}

func newPreviewCmd() *cobra.Command {
	var (
		sourceField, sample, formula, lookup, typ, def string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Run one mapping transformation on a sample value",
		Long: `Run one mapping transformation on a sample value and print the result
together with the steps that were applied.

Example:
  datasync preview --field price --value 100 --formula "value * 1.1" --type number`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := mapping.Transformation{Formula: formula, Type: typ}
			if lookup != "" {
				t.LookupTable = mapping.LookupTableText(lookup)
			}
			if def != "" {
				t.Default = def
			}
			var value interface{}
			if cmd.Flags().Changed("value") {
				value = sample
			}

			engine := mapping.NewEngine(nil)
			defer engine.Close()
			res, err := engine.Preview(sourceField, value, t)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&sourceField, "field", "value", "Source field name")
	cmd.Flags().StringVar(&sample, "value", "", "Sample source value; omit to preview the default")
	cmd.Flags().StringVar(&formula, "formula", "", "Formula over value, e.g. \"value * 1.1\"")
	cmd.Flags().StringVar(&lookup, "lookup", "", "Lookup table as a JSON object")
	cmd.Flags().StringVar(&typ, "type", "", "Result type: number, string or boolean")
	cmd.Flags().StringVar(&def, "default", "", "Default when the value is missing")
	return cmd
}

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var (
		ids     []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sync <catalog.yaml>",
		Short: "Sync data sources from a catalog once",
		Long: `Load a catalog, sync the selected data sources (all active ones when no
--id is given), print progress while they run and a summary of the log
entries they produced.

Example:
  datasync sync catalog.yaml --id orders --id customers`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			// one-shot runs never touch a shared database
			cfg.Database.DSN = ""
			cfg.Scheduler.Enabled = false

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return syncOnce(ctx, cmd, cfg, log, args[0], ids)
		},
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Data source id to sync (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall timeout")
	return cmd
}

func syncOnce(ctx context.Context, cmd *cobra.Command, cfg *config.AppConfig, log *zap.Logger, catalogPath string, ids []string) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	created, err := a.seed(ctx, catalogPath)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		for _, ds := range created {
			if ds.Status == datasource.StatusActive {
				ids = append(ids, ds.ID)
			}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no active data sources in %s", catalogPath)
	}

	out := cmd.OutOrStdout()
	statusPoller := poller.New(a.queue, log)
	handle := statusPoller.Start(cfg.Poller.Interval, func(items []queue.Item) {
		counts := map[queue.Status]int{}
		for _, it := range items {
			counts[it.Status]++
		}
		fmt.Fprintf(out, "queued=%d running=%d success=%d failed=%d\n",
			counts[queue.StatusQueued], counts[queue.StatusInProgress], counts[queue.StatusSuccess], counts[queue.StatusFailed])
	})
	defer statusPoller.Close()

	res := a.coord.SyncMany(ctx, ids)
	for _, it := range res.Items {
		if !it.Success {
			fmt.Fprintf(out, "rejected %s: %s\n", it.ID, it.Error)
		}
	}

	done := make(chan struct{})
	go func() {
		a.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for syncs: %w", ctx.Err())
	}
	statusPoller.Cancel(handle)
	fired, skipped := handle.Ticks()
	log.Debug("status poller stopped", zap.Int64("ticks", fired), zap.Int64("skipped", skipped))

	page, err := a.history.Query(ctx, history.Filter{}, 1, history.MaxLimit)
	if err != nil {
		return err
	}
	failed := 0
	for _, e := range page.Items {
		fmt.Fprintf(out, "%-8s %-20s %6d records %8.2fs  %s\n",
			e.Status, e.DataSourceID, e.RecordCount, e.DurationSeconds, strings.TrimSpace(e.Message))
		if e.Status == history.StatusFailed {
			failed++
		}
	}
	if failed > 0 || res.Rejected > 0 {
		return fmt.Errorf("%d sync(s) failed, %d rejected", failed, res.Rejected)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
