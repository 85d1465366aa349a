package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidarr/internal/codec"
	"github.com/jmylchreest/vidarr/internal/decoder"
	"github.com/jmylchreest/vidarr/internal/observability"
	"github.com/jmylchreest/vidarr/internal/platform"
	"github.com/jmylchreest/vidarr/internal/render"
	"github.com/jmylchreest/vidarr/internal/session"
)

var (
	probeJSON    bool
	probeFormats []string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report the decoders usable on this machine",
	Long: `Run test-only decoder searches and report what this machine can decode.

The summary covers hardware acceleration, HDR support and the maximum
resolution. Each requested format is then probed with the configured
decoder selection at the configured stream resolution.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output the report as JSON")
	probeCmd.Flags().StringSliceVar(&probeFormats, "formats", nil, "formats to probe (default all), e.g. h264,hevc-main10")
}

// formatReport is the availability of one format.
type formatReport struct {
	Format       string `json:"format"`
	Availability string `json:"availability"`
}

// probeReport is the output of the probe command.
type probeReport struct {
	Usable    bool                `json:"usable"`
	Selection string              `json:"selection"`
	Decoder   session.DecoderInfo `json:"decoder"`
	Formats   []formatReport      `json:"formats"`
}

func parseFormats(names []string) ([]codec.Format, error) {
	if len(names) == 0 {
		return codec.AllFormats(), nil
	}
	out := make([]codec.Format, 0, len(names))
	for _, name := range names {
		f, ok := codec.ParseFormat(name)
		if !ok {
			return nil, fmt.Errorf("unknown format %q", name)
		}
		out = append(out, f)
	}
	return out, nil
}

func runProbe(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	logger := observability.LoggerFromContext(ctx)

	formats, err := parseFormats(probeFormats)
	if err != nil {
		return err
	}
	sel, _ := render.ParseSelection(cfg.Video.DecoderSelection)

	defer observability.Timed(ctx, logger, "decoder probe", &err)()

	engine, err := systemEngine(cfg, logger)
	if err != nil {
		return err
	}

	plat := platform.NewHeadless().WithLogger(observability.WithComponent(logger, "platform"))
	win, err := plat.CreateWindow(platform.WindowOptions{
		Title:  "vidarr probe",
		Width:  cfg.Stream.Width,
		Height: cfg.Stream.Height,
		Hidden: true,
	})
	if err != nil {
		return fmt.Errorf("creating probe window: %w", err)
	}
	defer plat.DestroyWindow(win)

	prober := session.Prober{Engine: engine, Failures: decoder.NewFailureRegistry(), Window: win}
	report := probeReport{Selection: sel.String()}
	report.Decoder, report.Usable = prober.DecoderInfo(ctx, logger)
	for _, f := range formats {
		avail := prober.Availability(ctx, sel, f, cfg.Stream.Width, cfg.Stream.Height, cfg.Stream.FPS)
		report.Formats = append(report.Formats, formatReport{Format: f.String(), Availability: avail.String()})
	}

	if err = writeProbeReport(cmd.OutOrStdout(), report, probeJSON); err != nil {
		return err
	}
	if !report.Usable {
		err = errors.New("no working H.264 or HEVC decoder found")
	}
	return err
}

func writeProbeReport(w io.Writer, r probeReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding probe report: %w", err)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "usable:\t%t\n", r.Usable)
	fmt.Fprintf(tw, "hardware accelerated:\t%t\n", r.Decoder.HardwareAccelerated)
	fmt.Fprintf(tw, "fullscreen only:\t%t\n", r.Decoder.FullscreenOnly)
	fmt.Fprintf(tw, "hdr supported:\t%t\n", r.Decoder.HDRSupported)
	fmt.Fprintf(tw, "max resolution:\t%dx%d\n", r.Decoder.MaxWidth, r.Decoder.MaxHeight)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "FORMAT\tAVAILABILITY (%s)\n", r.Selection)
	for _, f := range r.Formats {
		fmt.Fprintf(tw, "%s\t%s\n", f.Format, f.Availability)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing probe report: %w", err)
	}
	return nil
}
