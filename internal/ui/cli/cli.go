// Package cli implements a command-line UI for the Q-learning trainer: progress lines,
// Q-value tables, demo playback and interactive play against an environment.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/qlearner/internal/environments"
	"github.com/janpfeifer/qlearner/internal/qlearning"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

var ansiFilter = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// displayWidth of s removes its color/control sequences and returns the length of what is left.
func displayWidth(s string) int {
	return len([]rune(ansiFilter.ReplaceAllString(s, "")))
}

// ErrQuit is returned by Play when the user quits the episode.
var ErrQuit = errors.New("user quit")

// UI writes to a terminal (or any io.Writer) and reads commands from the user.
type UI struct {
	out                io.Writer
	reader             *bufio.Reader
	color, clearScreen bool

	// terminalFd is the file descriptor of out, or -1 if out is not a terminal.
	terminalFd int
}

// New creates a UI on os.Stdin and os.Stdout.
func New(color bool, clearScreen bool) *UI {
	ui := NewWithIO(os.Stdin, os.Stdout, color)
	ui.clearScreen = clearScreen
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		ui.terminalFd = fd
	}
	return ui
}

// NewWithIO creates a UI reading commands from in and writing to out.
func NewWithIO(in io.Reader, out io.Writer, color bool) *UI {
	return &UI{
		out:        out,
		reader:     bufio.NewReader(in),
		color:      color,
		terminalFd: -1,
	}
}

// IsTerminal returns whether the UI is writing to a terminal.
func (ui *UI) IsTerminal() bool { return ui.terminalFd >= 0 }

func (ui *UI) terminalWidth() int {
	if ui.terminalFd < 0 {
		return 0
	}
	width, _, err := term.GetSize(ui.terminalFd)
	if err != nil {
		return 0
	}
	return width
}

func (ui *UI) printCentered(block string) {
	lines := strings.Split(block, "\n")
	blockWidth := 0
	for _, line := range lines {
		blockWidth = max(blockWidth, displayWidth(line))
	}
	indent := max((ui.terminalWidth()-blockWidth)/2, 0)
	for _, line := range lines {
		if len(line) == 0 {
			_, _ = fmt.Fprintln(ui.out)
			continue
		}
		_, _ = fmt.Fprintf(ui.out, "%s%s\n", strings.Repeat(" ", indent), line)
	}
}

func (ui *UI) render(style lipgloss.Style, s string) string {
	if !ui.color {
		return s
	}
	return style.Render(s)
}

var (
	bestStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	invalidStyle = lipgloss.NewStyle().Faint(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	wonStyle     = lipgloss.NewStyle().Background(lipgloss.Color("2")).Foreground(lipgloss.Color("0")).Padding(1, 2)
	lostStyle    = lipgloss.NewStyle().Background(lipgloss.Color("1")).Foreground(lipgloss.Color("15")).Padding(1, 2)
	drawStyle    = lipgloss.NewStyle().Background(lipgloss.Color("13")).Foreground(lipgloss.Color("0")).Padding(1, 2)
)

// ClearScreen if the UI was configured to do so.
func (ui *UI) ClearScreen() {
	if ui.clearScreen {
		_, _ = fmt.Fprint(ui.out, "\033[H\033[2J")
	}
}

// PrintProgress prints a one line summary of the training progress, overwriting the previous one.
func (ui *UI) PrintProgress(p *qlearning.Progress) {
	_, _ = fmt.Fprintf(ui.out, "\r%s\033[0K", FormatProgress(p))
	if p.Episode >= p.TotalEpisodes {
		_, _ = fmt.Fprintln(ui.out)
	}
}

// FormatProgress formats the progress report in one line.
func FormatProgress(p *qlearning.Progress) string {
	percent := 0.0
	if p.TotalEpisodes > 0 {
		percent = 100 * float64(p.Episode) / float64(p.TotalEpisodes)
	}
	line := fmt.Sprintf("[%5.1f%%] episode %d/%d: won %d, lost %d, timed out %d, reward %.3f, moves %.1f, explore %.3f, loss %.4g",
		percent, p.Episode, p.TotalEpisodes, p.Won, p.Lost, p.TimedOut, p.MeanReward(), p.MeanMoves(),
		p.ExploreProbability, p.LastLoss)
	if p.CheckpointErr != nil {
		line += " (checkpoint failed)"
	}
	return line
}

// ProgressReporter implements qlearning.Reporter by printing progress lines on the UI.
type ProgressReporter struct {
	UI *UI
}

var _ qlearning.Reporter = ProgressReporter{}

// ReportProgress implements qlearning.Reporter.
func (r ProgressReporter) ReportProgress(_ context.Context, p *qlearning.Progress) error {
	r.UI.PrintProgress(p)
	return nil
}

// FormatQValues renders a table with the Q-values of every move, highlighting the best legal one.
// Illegal moves are marked with "-".
func FormatQValues[M comparable](ui *UI, values []qlearning.MoveValue[M], moveToString func(M) string) string {
	names := make([]string, len(values))
	nameWidth := len("move")
	for ii, v := range values {
		names[ii] = moveToString(v.Move)
		nameWidth = max(nameWidth, displayWidth(names[ii]))
	}
	var sb strings.Builder
	sb.WriteString(ui.render(headerStyle, fmt.Sprintf("%-*s %10s", nameWidth, "move", "Q-value")))
	for ii, v := range values {
		sb.WriteByte('\n')
		line := fmt.Sprintf("%-*s %10.4f", nameWidth, names[ii], v.Value)
		switch {
		case !v.Valid:
			line = ui.render(invalidStyle, fmt.Sprintf("%-*s %10s", nameWidth, names[ii], "-"))
		case v.IsBest:
			line = ui.render(bestStyle, line+" *")
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// printState prints the environment, if it can be printed.
func (ui *UI) printState(env any) {
	if s, ok := env.(fmt.Stringer); ok {
		ui.printCentered(s.String())
		_, _ = fmt.Fprintln(ui.out)
	}
}

// PrintOutcome prints a banner with the result of the episode.
func (ui *UI) PrintOutcome(outcome qlearning.Outcome) {
	var (
		style lipgloss.Style
		msg   string
	)
	switch {
	case outcome.Won:
		style, msg = wonStyle, "*** WON! ***"
	case outcome.Lost:
		style, msg = lostStyle, "*** LOST ***"
	case outcome.TimedOut:
		style, msg = drawStyle, "*** TIMED OUT ***"
	default:
		style, msg = drawStyle, "*** FINISHED ***"
	}
	msg = fmt.Sprintf("%s reward %.3f in %d moves", msg, outcome.Reward, outcome.Moves)
	_, _ = fmt.Fprintln(ui.out)
	ui.printCentered(ui.render(style, msg))
	_, _ = fmt.Fprintln(ui.out)
}

// ShowDemo plays one episode with the learner, printing the state and Q-values before every move.
// It waits delay between moves.
func ShowDemo[M comparable](ctx context.Context, ui *UI, learner *qlearning.Learner[M], env environments.Environment[M], delay time.Duration) (qlearning.Outcome, error) {
	env.Reset()
	ui.ClearScreen()
	ui.printState(env)
	outcome, err := learner.PlayDemo(ctx, func(step qlearning.DemoStep[M]) error {
		_, _ = fmt.Fprintln(ui.out, FormatQValues(ui, step.QValues, env.MoveToString))
		hinted := ""
		if step.Hinted {
			hinted = " (hint)"
		}
		_, _ = fmt.Fprintf(ui.out, "\nmove #%d: %s%s, reward %.3f\n\n", step.Number, env.MoveToString(step.Move), hinted, step.Reward)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if !step.IsTerminal {
			ui.ClearScreen()
		}
		ui.printState(env)
		return nil
	})
	if err != nil {
		return outcome, err
	}
	ui.PrintOutcome(outcome)
	return outcome, nil
}

// Play lets the user play one episode of env, showing the learner's Q-values at every state.
//
// Moves are selected by their number or name; "?" shows the move the learner would make, and "q"
// quits with ErrQuit. Hinted moves are played automatically.
func Play[M comparable](ctx context.Context, ui *UI, learner *qlearning.Learner[M], env environments.Environment[M]) (outcome qlearning.Outcome, err error) {
	env.Reset()
	for !env.IsTerminal() {
		if err = ctx.Err(); err != nil {
			return
		}
		ui.ClearScreen()
		ui.printState(env)
		var values []qlearning.MoveValue[M]
		values, err = learner.QValues(env)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintln(ui.out, FormatQValues(ui, values, env.MoveToString))
		_, _ = fmt.Fprintln(ui.out)

		var move M
		if hint, gaveHint := env.Hint(); gaveHint {
			if !env.IsValidMove(hint) {
				err = errors.WithMessagef(qlearning.ErrIllegalMove, "hint %q", env.MoveToString(hint))
				return
			}
			_, _ = fmt.Fprintf(ui.out, "    forced move: %s\n", env.MoveToString(hint))
			move = hint
			outcome.Hints++
		} else {
			move, err = ReadMove(ui, learner, env)
			if err != nil {
				return
			}
		}
		env.MakeMove(move)
		outcome.Moves++
		reward := env.Reward()
		outcome.Reward += reward
		_, _ = fmt.Fprintf(ui.out, "    %s: reward %.3f\n", env.MoveToString(move), reward)
	}
	ui.printState(env)
	outcome.Won = env.HasWon()
	outcome.Lost = env.HasLost()
	outcome.TimedOut = env.HasTimedOut()
	ui.PrintOutcome(outcome)
	return
}

// ReadMove reads a legal move from the user.
func ReadMove[M comparable](ui *UI, learner *qlearning.Learner[M], env environments.Environment[M]) (move M, err error) {
	// ANSI escape codes for the input area:
	// - \033[30;45;2m: black on magenta, faint.
	// - \033[39;49;0m\033[0K: reset color and clear to the end-of-line.
	const (
		inputAreaColor = "\033[30;45;2m"
		inputAreaReset = "\033[39;49;0m\033[0K"
		inputWidth     = 14
	)
	valid := environments.ValidMoves(env)
	if len(valid) == 0 {
		err = qlearning.ErrNoValidMoves
		return
	}
	for {
		_, _ = fmt.Fprint(ui.out, "    moves:")
		for ii, m := range valid {
			_, _ = fmt.Fprintf(ui.out, " %d) %s", ii+1, env.MoveToString(m))
		}
		_, _ = fmt.Fprint(ui.out, "  [?: assist, q: quit]\n    move > ")
		if ui.color {
			_, _ = fmt.Fprintf(ui.out, "%s%s\033[%dD", inputAreaColor, strings.Repeat(" ", inputWidth), inputWidth-1)
		}

		var text string
		text, err = ui.reader.ReadString('\n')
		if ui.color {
			_, _ = fmt.Fprint(ui.out, inputAreaReset)
		}
		text = strings.TrimSpace(text)
		if err != nil && (err != io.EOF || text == "") {
			err = errors.Wrap(err, "failed to read move")
			return
		}
		err = nil

		switch strings.ToLower(text) {
		case "":
			continue
		case "q", "quit", "exit":
			err = ErrQuit
			return
		case "?":
			var best M
			best, err = learner.BestMove(env)
			if err != nil {
				return
			}
			_, _ = fmt.Fprintf(ui.out, "    * assist: %s\n", env.MoveToString(best))
			continue
		}
		if n, parseErr := strconv.Atoi(text); parseErr == nil {
			if n >= 1 && n <= len(valid) {
				return valid[n-1], nil
			}
			_, _ = fmt.Fprintf(ui.out, "    * move number %d out of range, choose from 1 to %d\n", n, len(valid))
			continue
		}
		for _, m := range valid {
			if strings.EqualFold(env.MoveToString(m), text) {
				return m, nil
			}
		}
		_, _ = fmt.Fprintf(ui.out, "    * sorry, %q is not a legal move\n", text)
	}
}
