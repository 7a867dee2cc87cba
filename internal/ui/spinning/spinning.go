// Package spinning shows a spinning symbol followed by a status line while the league trains.
package spinning

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ThemeAscii = []rune(`|/-\`)
	ThemeMoon  = []rune("🌑🌒🌓🌔🌕🌖🌗🌘")
	ThemeClock = []rune("🕐🕑🕒🕓🕔🕕🕖🕗🕘🕙🕚🕛")

	// Theme defaults to ThemeClock, but it can be set to anything else before calling New.
	Theme = ThemeClock

	// Interval between updates.
	Interval = 500 * time.Millisecond
)

// Spinning display, updated on a separate goroutine until Done is called.
type Spinning struct {
	wg     sync.WaitGroup
	cancel func()
}

// New starts the spinning display on w. status is called at every update, and its result is
// printed after the symbol, replacing the previous one. It stops when ctx is done or Done is called.
func New(ctx context.Context, w io.Writer, status func() string) *Spinning {
	s := &Spinning{}
	ctx, s.cancel = context.WithCancel(ctx)
	theme := Theme
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(Interval)
		defer ticker.Stop()
		_, _ = fmt.Fprint(w, "\033[?25l")       // Hide cursor.
		defer fmt.Fprint(w, "\033[?25h\r\033[K") // Restore cursor and clear the line.
		for idx := 0; ; idx = (idx + 1) % len(theme) {
			// Carriage return and clear to the end of the line.
			_, _ = fmt.Fprintf(w, "\r\033[K%c %s", theme[idx], status())
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

// Done stops the display, and waits for the line to be cleared. It can be called more than once.
func (s *Spinning) Done() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}
