package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/capture"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/facegate"
	"github.com/kozaktomas/attendance-kiosk/internal/feedback"
	"github.com/kozaktomas/attendance-kiosk/internal/identity"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/logger"
	"github.com/kozaktomas/attendance-kiosk/internal/scheduler"
	"github.com/kozaktomas/attendance-kiosk/internal/speech"
	"github.com/kozaktomas/attendance-kiosk/internal/web"
	"github.com/kozaktomas/attendance-kiosk/internal/web/handlers"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the verification loop",
	Long: `Start the attendance verification loop.
Frames are sampled on a schedule, checked for a face by the local detector,
and verified against the remote identity service. Results are shown in the
terminal, spoken, and optionally published over MQTT and a local web page.`,
	RunE: runKiosk,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("web", false, "Serve the local status page (overrides config)")
	runCmd.Flags().Duration("interval", 0, "Capture interval (overrides config)")
}

func runKiosk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "web") {
		cfg.Web.Enabled = true
	}
	if interval := mustGetDuration(cmd, "interval"); interval > 0 {
		cfg.Loop.Interval = interval
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.Component("run")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	source, err := capture.NewSource(ctx, cfg.Camera, clock)
	if err != nil {
		return err
	}
	defer source.Close()

	err = withSpinner("Waiting for camera", func() error {
		return capture.Warmup(ctx, source, cfg.Loop.WarmupTimeout, 250*time.Millisecond)
	})
	if err != nil {
		log.WithError(err).Warn("camera not ready yet, sampling will start once it produces frames")
	}
	sampler := capture.NewSampler(source, cfg.Camera.SampleTimeout, clock)

	detector := facegate.NewSidecarFromConfig(cfg.Detector)
	gate := facegate.New(detector, cfg.Detector, clock)
	err = withSpinner("Connecting to face detector", func() error {
		warmCtx, cancel := context.WithTimeout(ctx, cfg.Loop.WarmupTimeout)
		defer cancel()
		return gate.Warmup(warmCtx)
	})
	if err != nil {
		log.WithError(err).WithField("policy", cfg.Detector.UnavailablePolicy).Warn("face detection unavailable")
	}

	emitter, closeFeedback, hub, err := buildFeedback(ctx, cfg)
	if err != nil {
		return err
	}

	coordinator := kiosk.New(sampler, gate, identity.NewClient(cfg.Identity), emitter, kiosk.Options{
		Hold:           cfg.Loop.Hold,
		AttemptTimeout: cfg.Loop.AttemptTimeout,
		FailOpen:       cfg.Detector.UnavailablePolicy == config.FailOpen,
		Messages:       cfg.Messages,
		Clock:          clock,
	})

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- coordinator.Run(loopCtx) }()

	sched, err := scheduler.New(cfg.Loop.Interval, scheduler.Policy(cfg.Loop.Policy), clock)
	if err != nil {
		cancelLoop()
		return err
	}
	if err := sched.Start(loopCtx, coordinator); err != nil {
		cancelLoop()
		return err
	}

	var server *web.Server
	serverDone := make(chan error, 1)
	if hub != nil {
		server = web.NewServer(cfg.Web, hub, coordinator, sampler)
		go func() { serverDone <- server.Start() }()
		fmt.Printf("Status page on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	}

	fmt.Println("Press Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case runErr = <-loopDone:
		loopDone <- runErr
	case runErr = <-serverDone:
	}

	// Stop ticking first so no new attempt starts, then end the session.
	sched.Stop()
	cancelLoop()
	if err := <-loopDone; err != nil && runErr == nil {
		runErr = err
	}
	emitter.Wait()
	closeFeedback()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("web server shutdown")
		}
	}

	stats := coordinator.Stats()
	log.WithField("attempts", stats.Attempts).
		WithField("verified", stats.Verified).
		WithField("failed", stats.Failed).
		WithField("stale", stats.Stale).
		Info("kiosk stopped")

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// buildFeedback assembles the emitter and its renderers. The returned close
// function releases the MQTT connection; hub is nil unless the web page is on.
func buildFeedback(ctx context.Context, cfg *config.Config) (*feedback.Emitter, func(), *handlers.Hub, error) {
	log := logger.Component("run")

	speaker, err := speech.New(cfg.Speech)
	if err != nil {
		return nil, nil, nil, err
	}
	var voice feedback.Speaker
	if speaker != nil {
		if speaker.Available() {
			log.WithField("engine", speaker.Name()).Info("speech enabled")
		} else {
			log.WithField("engine", speaker.Name()).Warn("speech engine unavailable, feedback is visual only")
		}
		voice = speaker
	}

	renderers := []feedback.Renderer{feedback.NewTerminal(os.Stdout)}
	closeFn := func() {}

	if cfg.MQTT.Broker != "" {
		publisher := feedback.NewMQTTPublisher(cfg.MQTT)
		if err := publisher.Connect(ctx); err != nil {
			log.WithError(err).Warn("mqtt not connected yet, retrying in background")
		}
		publisher.Start()
		renderers = append(renderers, publisher)
		closeFn = func() {
			publisher.Close()
			st := publisher.Stats()
			log.WithField("published", st.Published).WithField("dropped", st.Dropped).Debug("mqtt publisher closed")
		}
	}

	var hub *handlers.Hub
	if cfg.Web.Enabled {
		hub = handlers.NewHub()
		renderers = append(renderers, hub)
	}

	return feedback.NewEmitter(voice, constants.DefaultSpeakTimeout, renderers...), closeFn, hub, nil
}
