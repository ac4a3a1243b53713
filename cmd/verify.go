package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/facegate"
	"github.com/kozaktomas/attendance-kiosk/internal/feedback"
	"github.com/kozaktomas/attendance-kiosk/internal/identity"
	"github.com/kozaktomas/attendance-kiosk/internal/imaging"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Run a single verification attempt on an image file",
	Long: `Run the local face check and the remote verification steps once for the
given image, printing the outcome of each step. Useful for checking the
identity service without a camera.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Bool("skip-gate", false, "Upload even when the local detector finds no face")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Identity.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}
	jpegData, err := imaging.EncodeJPEG(img)
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}

	term := feedback.NewTerminal(os.Stdout)
	msgs := cfg.Messages
	fail := func(reason, message string) error {
		term.Render(models.Status{State: models.StateFailed, Reason: reason, Message: message, UpdatedAt: time.Now()})
		return errors.New(reason)
	}

	if !mustGetBool(cmd, "skip-gate") {
		gate := facegate.New(facegate.NewSidecarFromConfig(cfg.Detector), cfg.Detector, clockwork.NewRealClock())
		var verdict facegate.Verdict
		_ = withSpinner("Detecting face", func() error {
			if err := gate.Warmup(ctx); err != nil {
				verdict = facegate.VerdictUnavailable
				return err
			}
			verdict = gate.Check(ctx, jpegData)
			return nil
		})
		switch verdict {
		case facegate.VerdictNoFace:
			return fail(models.ReasonNoFace, msgs.NoFace)
		case facegate.VerdictUnavailable:
			return fail(models.ReasonDetectionUnavailable, msgs.DetectionUnavailable)
		}
	}

	client := identity.NewClient(cfg.Identity)
	key := identity.NewObjectKey()
	const attemptID = "verify"

	var upload identity.Outcome[struct{}]
	_ = withSpinner("Uploading", func() error {
		upload = client.Upload(ctx, attemptID, key, jpegData)
		return upload.Err
	})
	if !upload.OK() {
		return fail(models.ReasonUploadError, msgs.UploadError)
	}

	var match identity.Outcome[identity.Match]
	_ = withSpinner("Resolving identity", func() error {
		match = client.Resolve(ctx, attemptID, key)
		return match.Err
	})
	if !match.OK() || !match.Value.Matched {
		return fail(models.ReasonAuthFailed, msgs.AuthFailed)
	}

	var profile identity.Outcome[*models.Profile]
	_ = withSpinner("Looking up profile", func() error {
		profile = client.LookupProfile(ctx, attemptID, match.Value.FaceID)
		return profile.Err
	})
	switch {
	case !profile.OK():
		return fail(models.ReasonProfileError, msgs.ProfileError)
	case profile.Value == nil:
		return fail(models.ReasonEmployeeNotFound, msgs.NotFound)
	}

	p := profile.Value
	term.Render(models.Status{
		State:     models.StateVerified,
		Message:   msgs.Greeting(p.Name, p.AttendanceAlreadyMarked),
		Profile:   p,
		UpdatedAt: time.Now(),
	})
	return nil
}
