// Package spinning provides a friendly spinning symbol to show while the trainer is busy with
// something that doesn't report progress (loading a model, evaluating), and the capture of
// interrupt signals.
package spinning

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"
)

// Spinning symbol, displayed until Done is called.
type Spinning struct {
	wg     sync.WaitGroup
	cancel func()
}

var (
	ThemeAscii = []rune(`|/-\`)
	ThemeMoon  = []rune("🌑🌒🌓🌔🌕🌖🌗🌘")
	ThemeClock = []rune("🕐🕑🕒🕓🕔🕕🕖🕗🕘🕙🕚🕛")

	// Theme defaults to ThemeClock, but it can be set to anything else.
	Theme = ThemeClock

	// Interval between symbols.
	Interval = 250 * time.Millisecond
)

// SafeInterrupt will capture SigInt (Ctrl+C) and SigTerm and call the provided onInterrupt.
// If the program hasn't exited after gracePeriod, it will call Reset to reset the terminal
// and exit.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		fmt.Println()
		klog.Errorf("Got interrupted (signal %q), checkpointing and shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}

		// Wait for gracePeriod before exiting.
		time.Sleep(gracePeriod)
		Reset()
		klog.Fatalf("Graceful shutting down %s period expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make cursor visible, restore default terminal colors.
func Reset() {
	fmt.Print("\033[?25h\033[39;49;0m\n")
}

// New starts a spinning display on os.Stdout, after the message, that runs on a separate goroutine.
// It stops when Spinning.Done is called or ctx is cancelled.
func New(ctx context.Context, message string) *Spinning {
	return NewWithWriter(ctx, os.Stdout, message)
}

// NewWithWriter is like New, but writing to w.
func NewWithWriter(ctx context.Context, w io.Writer, message string) *Spinning {
	s := &Spinning{}
	ctx, s.cancel = context.WithCancel(ctx)
	theme := Theme
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(Interval)
		defer ticker.Stop()
		// Hide cursor, and restore it at the end.
		_, _ = fmt.Fprint(w, "\033[?25l")
		defer func() { _, _ = fmt.Fprint(w, "\033[?25h") }()

		for idx := 0; ; idx = (idx + 1) % len(theme) {
			_, _ = fmt.Fprintf(w, "\r%s %c\033[0K", message, theme[idx])
			select {
			case <-ctx.Done():
				_, _ = fmt.Fprintf(w, "\r%s\033[0K\n", message)
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

// Done stops the spinning and waits for its goroutine to finish. It can be called more than once.
func (s *Spinning) Done() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}
