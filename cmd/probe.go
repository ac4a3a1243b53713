package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/capture"
	"github.com/kozaktomas/attendance-kiosk/internal/facegate"
	"github.com/kozaktomas/attendance-kiosk/internal/identity"
	"github.com/kozaktomas/attendance-kiosk/internal/speech"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check the camera, detector, identity service and speech engine",
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().Duration("timeout", 10*time.Second, "Timeout for each check")
}

type probeResult struct {
	name   string
	ok     bool
	detail string
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	timeout := mustGetDuration(cmd, "timeout")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	clock := clockwork.NewRealClock()

	var results []probeResult
	var frame *capture.Frame

	// Camera
	source, err := capture.NewSource(ctx, cfg.Camera, clock)
	if err != nil {
		results = append(results, probeResult{"camera", false, err.Error()})
	} else {
		defer source.Close()
		err = withSpinner("Probing camera", func() error {
			return capture.Warmup(ctx, source, timeout, 250*time.Millisecond)
		})
		if err == nil {
			frame = capture.NewSampler(source, timeout, clock).Sample(ctx)
		}
		switch {
		case err != nil:
			results = append(results, probeResult{"camera", false, err.Error()})
		case frame == nil:
			results = append(results, probeResult{"camera", false, source.Name() + " ready but no readable frame"})
		default:
			results = append(results, probeResult{"camera", true,
				fmt.Sprintf("%s %dx%d", source.Name(), frame.Width, frame.Height)})
		}
	}

	// Face detector
	gate := facegate.New(facegate.NewSidecarFromConfig(cfg.Detector), cfg.Detector, clock)
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	err = gate.Warmup(checkCtx)
	cancel()
	switch {
	case err != nil:
		results = append(results, probeResult{"detector", false, err.Error()})
	case frame != nil:
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		verdict := gate.Check(checkCtx, frame.Data)
		cancel()
		results = append(results, probeResult{"detector", verdict != facegate.VerdictUnavailable,
			"sample frame: " + verdict.String()})
	default:
		results = append(results, probeResult{"detector", true, cfg.Detector.URL})
	}

	// Identity service. An unknown key must resolve to "no match", not an error.
	client := identity.NewClient(cfg.Identity)
	checkCtx, cancel = context.WithTimeout(ctx, timeout)
	res := client.Resolve(checkCtx, "probe", identity.NewObjectKey())
	cancel()
	if res.Err != nil {
		results = append(results, probeResult{"identity", false, res.Err.Error()})
	} else {
		results = append(results, probeResult{"identity", true, "resolve answered: " + res.Value.Message})
	}

	// Speech
	speaker, err := speech.New(cfg.Speech)
	switch {
	case err != nil:
		results = append(results, probeResult{"speech", false, err.Error()})
	case speaker == nil:
		results = append(results, probeResult{"speech", true, "disabled"})
	default:
		results = append(results, probeResult{"speech", speaker.Available(), speaker.Name()})
	}

	failed := printProbeResults(results)
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}
	return nil
}

func printProbeResults(results []probeResult) int {
	okText := color.New(color.FgHiGreen).Sprint("ok")
	failText := color.New(color.FgHiRed).Sprint("FAIL")

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header([]string{"Check", "Status", "Detail"})

	failed := 0
	for _, r := range results {
		status := okText
		if !r.ok {
			status = failText
			failed++
		}
		_ = table.Append([]string{r.name, status, r.detail})
	}
	_ = table.Render()
	return failed
}
