package feedback

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

var (
	verifiedPrefix = color.New(color.FgHiGreen).Sprint("✓")
	failedPrefix   = color.New(color.FgHiRed).Sprint("✗")
	workingPrefix  = color.New(color.FgHiYellow).Sprint("…")
	idlePrefix     = color.New(color.FgHiBlue).Sprint("i")
	green          = color.New(color.FgHiGreen).SprintFunc()
	red            = color.New(color.FgHiRed).SprintFunc()
	yellow         = color.New(color.FgHiYellow).SprintFunc()
	faint          = color.New(color.Faint).SprintFunc()
)

// Terminal prints status lines and a profile card to a writer. Repeated
// outcomes and intermediate steps are folded so the log stays readable.
type Terminal struct {
	out io.Writer

	mu        sync.Mutex
	lastKey   string
	lastState models.State
}

// NewTerminal creates a terminal renderer. A nil writer means stdout.
func NewTerminal(out io.Writer) *Terminal {
	if out == nil {
		out = os.Stdout
	}
	return &Terminal{out: out}
}

func (t *Terminal) Render(status models.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch status.State {
	case models.StateLocalGateOpen, models.StateResolving, models.StateProfileLookingUp:
		return
	case models.StateIdle:
		if t.lastState == models.StateFailed && t.lastKey != "" {
			return
		}
	}
	key := status.State.String() + "|" + status.Reason + "|" + status.Message
	if key == t.lastKey {
		return
	}
	t.lastKey, t.lastState = key, status.State

	ts := faint(status.UpdatedAt.Format("15:04:05"))
	switch status.State {
	case models.StateVerified:
		fmt.Fprintf(t.out, "%s %s %s\n", ts, verifiedPrefix, green(status.Message))
		if status.Profile != nil {
			t.profileCard(status.Profile)
		}
	case models.StateFailed:
		fmt.Fprintf(t.out, "%s %s %s\n", ts, failedPrefix, red(status.Message))
	case models.StateIdle:
		line := status.Message
		if !status.DetectionAvailable {
			line += " " + yellow("(face detection unavailable)")
		}
		fmt.Fprintf(t.out, "%s %s %s\n", ts, idlePrefix, line)
	default:
		fmt.Fprintf(t.out, "%s %s %s\n", ts, workingPrefix, yellow(status.Message))
	}
}

func (t *Terminal) profileCard(p *models.Profile) {
	table := tablewriter.NewTable(t.out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "  ", Right: "  "}),
	)
	rows := [][]string{
		{"Employee ID", p.EmployeeID},
		{"Name", p.Name},
		{"Department", p.Department},
		{"Designation", p.Designation},
		{"Phone", p.Phone},
		{"Email", p.Email},
		{"Address", p.Address},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		_ = table.Append(row)
	}
	_ = table.Render()
}
