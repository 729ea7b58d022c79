package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/Krimson/msna-analyzer/analyzer/internal/synth"
	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

func newSynthCmd(root *rootOptions) *cobra.Command {
	p := synth.Default()

	cmd := &cobra.Command{
		Use:   "synth <file>",
		Short: "Write a synthetic ECG/BP/MSNA recording (*.gz is compressed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.fs > 0 {
				p.SampleRate = root.fs
			}

			rec, truth, err := synth.Generate(p)
			if err != nil {
				return err
			}

			if err := writeRecording(args[0], rec); err != nil {
				return err
			}

			bursts := 0
			for _, b := range truth.Bursts {
				if b {
					bursts++
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d samples at %g Hz, %d beats, %d bursts\n",
				args[0], rec.Len(), p.SampleRate, len(truth.R), bursts)
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&p.Duration, "duration", p.Duration, "recording length, seconds")
	f.Float64Var(&p.HeartRate, "hr", p.HeartRate, "heart rate, beats per minute")
	f.Float64Var(&p.HRVariability, "hrv", p.HRVariability, "R-R jitter as a fraction of the interval")
	f.Float64Var(&p.BurstRate, "burst-rate", p.BurstRate, "probability of a burst per cycle")
	f.Float64Var(&p.Noise, "noise", p.Noise, "MSNA noise amplitude")
	f.Int64Var(&p.Seed, "seed", p.Seed, "random seed")
	return cmd
}

func writeRecording(path string, rec *waveform.Recording) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	var w io.Writer = file
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(file)
		w = zw
	}

	if err := waveform.Write(w, rec); err != nil {
		file.Close()
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			file.Close()
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	return file.Close()
}
