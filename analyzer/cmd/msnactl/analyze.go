package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/export"
	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	var (
		output      string
		regionLeft  int
		regionRight int
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <recording>",
		Short: "Annotate every cycle automatically and write the result table (TSV)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.analysisConfig()
			if err != nil {
				return err
			}

			rec, err := waveform.ReadFile(args[0])
			if err != nil {
				return err
			}

			engine := annotate.NewEngine(root.logger())
			s, err := annotate.LoadRecording(rec, cfg.SampleRate)
			if err != nil {
				return err
			}
			if s, err = annotate.WithConfig(s, cfg); err != nil {
				return err
			}
			if s, err = engine.LockAndCompute(s); err != nil {
				return err
			}
			if regionRight > regionLeft {
				if s, err = engine.SetRegion(s, annotate.Region{Left: regionLeft, Right: regionRight}); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			total := s.CycleCount() - 1
			var bar *progressbar.ProgressBar
			if !quiet && total > 0 {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("annotating"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}

			s, walkErr := engine.RunAutomatic(ctx, s, func(p annotate.Progress) error {
				if bar != nil {
					return bar.Set(p.Recorded)
				}
				return nil
			})
			if bar != nil {
				_ = bar.Finish()
			}
			if s == nil {
				return walkErr
			}

			if err := writeTable(output, cmd.OutOrStdout(), annotate.Snapshot(s)); err != nil {
				return err
			}

			p := s.Progress()
			fmt.Fprintf(cmd.ErrOrStderr(), "%d cycles, %d bursts, %d errors\n", p.Recorded, p.Bursts, p.Errors)
			return walkErr
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "result file (default stdout)")
	cmd.Flags().IntVar(&regionLeft, "region-left", 0, "window start, samples after the R-peak")
	cmd.Flags().IntVar(&regionRight, "region-right", 0, "window end (exclusive), samples after the R-peak")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no progress bar")
	return cmd
}

func writeTable(path string, stdout io.Writer, records []annotate.BeatRecord) error {
	if path == "" {
		return export.WriteTSV(stdout, records)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := export.WriteTSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
