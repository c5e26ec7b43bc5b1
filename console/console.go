// Package console relays a terminal session to a VM console stream with
// screen-style escape sequences.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"unicode"
)

// DefaultEscapeChar is ctrl+], matching screen and virsh.
const DefaultEscapeChar = 0x1D

// escapeState tracks the two-state escape detection machine.
type escapeState int

const (
	stateNormal  escapeState = iota
	stateEscaped             // escape char received, waiting for command char
)

// ParseEscapeChar parses an escape character spec: empty for the default,
// a single printable character, or caret notation ("^]", "^a").
func ParseEscapeChar(s string) (byte, error) {
	switch {
	case s == "":
		return DefaultEscapeChar, nil
	case len(s) == 1:
		return s[0], nil
	case len(s) == 2 && s[0] == '^':
		c := s[1]
		if c == '?' {
			return 0x7F, nil
		}
		upper := byte(unicode.ToUpper(rune(c)))
		if upper < '@' || upper > '_' {
			return 0, fmt.Errorf("invalid caret notation %q", s)
		}
		return upper - '@', nil
	}
	return 0, fmt.Errorf("invalid escape character %q (use a single char or caret notation like ^])", s)
}

// FormatEscapeChar renders an escape character for display, control
// characters in caret notation.
func FormatEscapeChar(c byte) string {
	switch {
	case c == 0x7F:
		return "^?"
	case c < 0x20:
		return "^" + string(rune(c+'@'))
	}
	return string(rune(c))
}

// Relay runs bidirectional I/O between the user terminal and the console
// stream until the escape sequence disconnects, the stream ends, or ctx is
// canceled. The terminal must already be in raw mode.
func Relay(ctx context.Context, rw io.ReadWriter, escapeChar byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2) //nolint:mnd

	// console -> stdout
	go func() {
		_, err := io.Copy(os.Stdout, rw)
		errCh <- err
		cancel()
	}()

	// stdin -> console, with escape detection
	go func() {
		err := relayStdin(ctx, os.Stdin, rw, escapeChar)
		errCh <- err
		cancel()
	}()

	select {
	case <-ctx.Done():
		select {
		case err := <-errCh:
			if err != nil && !isCleanExit(err) {
				return err
			}
		default:
		}
		return nil
	case err := <-errCh:
		if err == nil || isCleanExit(err) {
			select {
			case err2 := <-errCh:
				if err2 != nil && !isCleanExit(err2) {
					return err2
				}
			default:
			}
			return nil
		}
		return err
	}
}

// relayStdin forwards stdin to the console byte by byte, interpreting the
// escape sequences <esc>. (disconnect), <esc>? (help) and <esc><esc>
// (send the escape char itself).
func relayStdin(ctx context.Context, stdin io.Reader, out io.Writer, escapeChar byte) error {
	state := stateNormal
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := stdin.Read(buf)
		if n == 0 || err != nil {
			return err
		}
		b := buf[0]

		switch state {
		case stateNormal:
			if b == escapeChar {
				state = stateEscaped
				continue
			}
			if _, werr := out.Write(buf[:1]); werr != nil {
				return werr
			}

		case stateEscaped:
			state = stateNormal
			switch b {
			case '.':
				return nil // disconnect
			case '?':
				esc := FormatEscapeChar(escapeChar)
				help := strings.Join([]string{
					"", "Supported escape sequences:",
					"  " + esc + ".  Disconnect",
					"  " + esc + "?  This help",
					"  " + esc + esc + " Send " + esc,
					"",
				}, "\r\n")
				_, _ = os.Stdout.Write([]byte(help))
			case escapeChar:
				if _, werr := out.Write([]byte{escapeChar}); werr != nil {
					return werr
				}
			default:
				// Unrecognized: forward both bytes.
				if _, werr := out.Write([]byte{escapeChar, b}); werr != nil {
					return werr
				}
			}
		}
	}
}

// isCleanExit reports errors that indicate a normal console disconnect.
func isCleanExit(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO)
}
