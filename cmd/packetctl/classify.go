package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/packet-parser/internal/app"
	"github.com/joseph-ayodele/packet-parser/internal/render"
)

// newClassifyCmd runs only the render and classify stages, for tuning prompts against a packet.
func newClassifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <file>",
		Short: "Render a packet at low resolution and print the page classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			useLocalStores(cfg, true)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			a, err := app.Build(ctx, cfg, app.Options{Synchronous: true}, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			pages, err := a.Renderer.Render(ctx, render.Request{Document: data, DPI: cfg.Render.LowDPI})
			if err != nil {
				return err
			}
			cls, err := a.Classifier.Classify(ctx, pages)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cls)
		},
	}
}
