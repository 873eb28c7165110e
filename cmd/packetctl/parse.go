package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/packet-parser/internal/app"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/ingest"
	"github.com/joseph-ayodele/packet-parser/internal/lifecycle"
)

const cliOwner = "packetctl"

// useLocalStores points cfg at throwaway stores so a run leaves nothing behind.
func useLocalStores(cfg *common.Config, inmem bool) {
	if inmem {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = "file:packetctl?mode=memory&cache=shared"
	}
	cfg.Storage.Backend = "memory"
	cfg.KV.Backend = "memory"
	cfg.Events.TargetURL = ""
}

// parseFile submits one document and runs its pipeline in the calling goroutine.
func parseFile(ctx context.Context, mgr *lifecycle.Manager, path string) (*entity.Parse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := mgr.Submit(ctx, lifecycle.SubmitRequest{
		OwnerID:  cliOwner,
		FileName: filepath.Base(path),
		Data:     data,
	})
	if err != nil {
		return nil, err
	}
	if err := mgr.Run(ctx, p.ID); err != nil {
		return nil, err
	}
	return mgr.Get(ctx, cliOwner, p.ID)
}

func newParseCmd(opts *rootOptions) *cobra.Command {
	var (
		inmem   bool
		full    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse one contract packet and print the canonical extraction as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			useLocalStores(cfg, inmem)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			a, err := app.Build(ctx, cfg, app.Options{Synchronous: true}, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			p, err := parseFile(ctx, a.Manager, args[0])
			if err != nil {
				return err
			}
			if p.ErrorMessage != nil {
				return fmt.Errorf("%s: %s", p.Status, *p.ErrorMessage)
			}

			var out any = p.Canonical
			if full {
				out = p
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if p.NeedsReview() {
				printError("parse %s needs review (confidence %.0f)\n", p.ID, p.OverallConfidence())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&inmem, "inmem", true, "use an in-memory SQLite database instead of the configured one")
	cmd.Flags().BoolVar(&full, "full", false, "print the whole parse record instead of the canonical extraction")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall time limit")
	return cmd
}

func newBatchCmd(opts *rootOptions) *cobra.Command {
	var (
		dir     string
		out     string
		inmem   bool
		fromStr string
		toStr   string
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Parse every packet in a directory and export the results to XLSX",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}
			if out == "" {
				out = filepath.Join(filepath.Dir(filepath.Clean(dir)), "parses.xlsx")
			}
			from, err := optionalDate("from", fromStr)
			if err != nil {
				return err
			}
			to, err := optionalDate("to", toStr)
			if err != nil {
				return err
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			useLocalStores(cfg, inmem)
			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, app.Options{Synchronous: true}, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			ing := ingest.NewFSIngestor(a.Manager, a.KV, cliOwner, 0, log)
			results, stats, err := ing.IngestDirectory(ctx, dir, true)
			if err != nil {
				return err
			}
			var processed, review, failures int
			for _, r := range results {
				if r.Err != "" {
					log.Error("failed to ingest file", "file", r.SourcePath, "error", r.Err)
					failures++
					continue
				}
				if r.Deduplicated {
					continue
				}
				if err := a.Manager.Run(ctx, r.ParseID); err != nil {
					log.Error("failed to parse file", "file", r.SourcePath, "error", err)
					failures++
					continue
				}
				p, err := a.Manager.Get(ctx, cliOwner, r.ParseID)
				switch {
				case err != nil:
					failures++
				case p.Status.IsFailed():
					log.Error("parse failed", "file", r.SourcePath, "status", p.Status, "error", deref(p.ErrorMessage))
					failures++
				default:
					processed++
					if p.NeedsReview() {
						review++
					}
				}
			}

			b, err := a.Exporter.ExportParsesXLSX(ctx, cliOwner, from, to)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Batch processing complete!\n")
			fmt.Fprintf(w, "- Files found: %d (%d duplicates skipped)\n", stats.Matched, stats.Deduplicated)
			fmt.Fprintf(w, "- Parsed: %d (%d need review)\n", processed, review)
			fmt.Fprintf(w, "- Failures: %d\n", failures)
			fmt.Fprintf(w, "- Output: %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of packets to parse (required)")
	cmd.Flags().StringVar(&out, "out", "", "output XLSX path (defaults to parses.xlsx beside --dir)")
	cmd.Flags().BoolVar(&inmem, "inmem", true, "use an in-memory SQLite database instead of the configured one")
	cmd.Flags().StringVar(&fromStr, "from", "", "only export parses finalized on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&toStr, "to", "", "only export parses finalized on or before YYYY-MM-DD")
	return cmd
}

func optionalDate(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s date format, use YYYY-MM-DD: %w", name, err)
	}
	return &t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
