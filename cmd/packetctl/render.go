package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/packet-parser/internal/render"
)

func newRenderCmd(opts *rootOptions) *cobra.Command {
	var (
		outDir string
		dpi    int
		pages  []int
	)
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Rasterize a packet to PNG pages, the way the pipeline sees them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if dpi <= 0 {
				dpi = cfg.Render.LowDPI
			}
			if outDir == "" {
				outDir = "."
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			r := render.NewPDFRenderer(render.Config{
				Binary:      cfg.Render.PdftoppmPath,
				Parallelism: cfg.Render.Parallelism,
				Timeout:     cfg.Render.Timeout,
			}, nil, log)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			start := time.Now()
			imgs, err := r.Render(ctx, render.Request{Document: data, DPI: dpi, Pages: pages})
			if err != nil {
				return err
			}
			for _, img := range imgs {
				name := filepath.Join(outDir, fmt.Sprintf("page-%03d.png", img.PageNumber))
				if err := os.WriteFile(name, img.Data, 0o644); err != nil {
					return err
				}
				text := ""
				if img.TextLayer != "" {
					text = " (text layer)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d bytes%s\n", name, len(img.Data), text)
			}
			log.Info("render OK", "pages", len(imgs), "dpi", dpi, "duration_ms", time.Since(start).Milliseconds())
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory for page-NNN.png files (default current directory)")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "resolution (defaults to the configured low DPI)")
	cmd.Flags().IntSliceVar(&pages, "pages", nil, "1-based pages to render (default all)")
	return cmd
}
