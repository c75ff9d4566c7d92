// Package tray provides a system tray menu for driving calibration and the
// session without a keyboard.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/airdrums/internal/input"
	"github.com/ayusman/airdrums/internal/strike"
)

// Tray represents the system tray application.
type Tray struct {
	queue  *input.Queue
	onOpen func()
	onExit func()
	last   string
	mu     sync.RWMutex

	// Menu items stored for later updates
	menuLastHit *systray.MenuItem
}

// New creates a Tray whose menu items push actions into queue.
func New(queue *input.Queue) *Tray {
	return &Tray{queue: queue}
}

// OnOpen sets the callback for the "Open viewer" menu item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnExit sets the callback run when the tray shuts down.
func (t *Tray) OnExit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.handleExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Air Drums")
	systray.SetTooltip("Air Drums")

	items := []struct {
		item   *systray.MenuItem
		action input.Action
	}{
		{systray.AddMenuItem("Next point", "Confirm the calibration point (n)"), input.Advance},
		{systray.AddMenuItem("Reset point", "Discard this point's samples (r)"), input.Reset},
		{systray.AddMenuItem("Larger circle", "Grow the calibration circle (l)"), input.Grow},
		{systray.AddMenuItem("Smaller circle", "Shrink the calibration circle (s)"), input.Shrink},
	}
	systray.AddSeparator()

	t.mu.Lock()
	t.menuLastHit = systray.AddMenuItem(t.lastTitle(), "Last detected hit")
	t.mu.Unlock()
	t.menuLastHit.Disable()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open viewer...", "Open the live view in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "End the session")

	for _, it := range items {
		go func(ch <-chan struct{}, a input.Action) {
			for range ch {
				t.handleAction(a)
			}
		}(it.item.ClickedCh, it.action)
	}

	go func() {
		for {
			select {
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleAction(input.Quit)
				return
			}
		}
	}()
}

// handleExit is called when the system tray is about to exit.
func (t *Tray) handleExit() {
	t.mu.RLock()
	callback := t.onExit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleAction(a input.Action) {
	if t.queue != nil {
		t.queue.Push(a)
	}
}

// handleOpen handles the open viewer menu item click.
func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// Record implements the engine hit sink by showing the hit in the menu.
func (t *Tray) Record(hit strike.HitEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = fmt.Sprintf("%s (%.0f%%)", hit.Instrument, hit.Intensity*100)
	if t.menuLastHit != nil {
		t.menuLastHit.SetTitle(t.lastTitle())
	}
}

// LastHit returns the text shown for the last hit, empty before any.
func (t *Tray) LastHit() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

func (t *Tray) lastTitle() string {
	if t.last == "" {
		return "Last: none"
	}
	return "Last: " + t.last
}
