// Package input carries user commands from any producer (keyboard, tray,
// browser) to the engine loop.
package input

import (
	"bufio"
	"context"
	"io"
	"unicode"
)

// Action is a user command.
type Action int

const (
	// None is the zero Action and is never queued.
	None Action = iota
	// Advance confirms the current calibration point and moves on.
	Advance
	// Reset discards the samples of the current calibration point.
	Reset
	// Grow enlarges the calibration circle.
	Grow
	// Shrink reduces the calibration circle.
	Shrink
	// Quit ends calibration or the session.
	Quit
)

var actionNames = map[Action]string{
	None:    "none",
	Advance: "advance",
	Reset:   "reset",
	Grow:    "grow",
	Shrink:  "shrink",
	Quit:    "quit",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseAction maps an action name back to the Action.
func ParseAction(s string) (Action, bool) {
	for a, name := range actionNames {
		if a != None && name == s {
			return a, true
		}
	}
	return None, false
}

// FromKey maps a keyboard key to an action: n next, r reset, l or + larger,
// s or - smaller, q or Esc quit. Letters are case-insensitive.
func FromKey(r rune) (Action, bool) {
	switch unicode.ToLower(r) {
	case 'n', ' ':
		return Advance, true
	case 'r':
		return Reset, true
	case 'l', '+', '=':
		return Grow, true
	case 's', '-':
		return Shrink, true
	case 'q', 0x1b:
		return Quit, true
	}
	return None, false
}

// ReadKeys pushes an action for every mapped rune read from r until r is
// exhausted or ctx is done. Unmapped runes are ignored.
func ReadKeys(ctx context.Context, r io.Reader, q *Queue) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, _, err := br.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if a, ok := FromKey(c); ok {
			q.Push(a)
		}
	}
}
