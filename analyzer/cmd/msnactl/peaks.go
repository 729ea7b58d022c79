package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

func newPeaksCmd(root *rootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "peaks <recording>",
		Short: "Detect R-peaks and print a cycle summary",
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

			s, err := annotate.LoadRecording(rec, cfg.SampleRate)
			if err != nil {
				return err
			}
			if s, err = annotate.WithConfig(s, cfg); err != nil {
				return err
			}
			if s, err = annotate.NewEngine(root.logger()).LockAndCompute(s); err != nil {
				return err
			}

			c := s.Cycles()
			rr := make([]float64, c.Count())
			for i := range rr {
				rr[i] = float64(c.R[i+1]-c.R[i]) / cfg.SampleRate
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "samples:   %d (cropped %d)\n", rec.Len(), len(c.ECG))
			fmt.Fprintf(out, "r-peaks:   %d\n", len(c.R))
			fmt.Fprintf(out, "cycles:    %d\n", c.Count())
			if len(rr) > 0 {
				mean, std := stat.MeanStdDev(rr, nil)
				fmt.Fprintf(out, "rr mean:   %.3f s (sd %.3f, min %.3f, max %.3f)\n", mean, std, floats.Min(rr), floats.Max(rr))
				fmt.Fprintf(out, "hr mean:   %.1f bpm\n", 60/mean)
			}

			if list {
				fmt.Fprintln(out, "cycle\tr\tdbp\tsbp")
				for i := 0; i < c.Count(); i++ {
					fmt.Fprintf(out, "%d\t%d\t%d\t%d\n", i+1, c.R[i], c.DBP[i], c.SBP[i])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "print every cycle")
	return cmd
}
