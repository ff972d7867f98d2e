// Package ui runs the system tray: render status, a "Render again" trigger
// that is disabled while a render is in flight, and Quit.
package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
)

type Tray struct {
	logger *slog.Logger

	statusItem *systray.MenuItem
	lastItem   *systray.MenuItem
	renderItem *systray.MenuItem

	mu     sync.Mutex
	ready  bool
	active int
	last   string

	onRender func() error
	onQuit   func()
}

type TrayConfig struct {
	Logger *slog.Logger
	// OnRender submits the default composition again.
	OnRender func() error
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		logger:   cfg.Logger,
		onRender: cfg.OnRender,
		onQuit:   cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Composer")
	systray.SetTooltip("Heimdex Composer")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem(statusTitle(t.active), "Current render status")
	t.statusItem.Disable()

	t.lastItem = systray.AddMenuItem(lastTitle(t.last), "Most recent render")
	t.lastItem.Disable()

	systray.AddSeparator()

	t.renderItem = systray.AddMenuItem("Render again", "Render the demo composition")
	if t.active > 0 {
		t.renderItem.Disable()
	}
	t.ready = true
	t.mu.Unlock()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Heimdex Composer")

	go func() {
		for {
			select {
			case <-t.renderItem.ClickedCh:
				t.handleRender()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleRender() {
	if t.onRender == nil {
		return
	}
	t.mu.Lock()
	busy := t.active > 0
	t.mu.Unlock()
	if busy {
		return
	}
	if err := t.onRender(); err != nil {
		t.logger.Error("render from tray failed", "error", err)
	}
}

// SetActive updates the status line and enables "Render again" only when no
// render is queued or running.
func (t *Tray) SetActive(active int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = active
	if !t.ready {
		return
	}
	t.statusItem.SetTitle(statusTitle(active))
	if active > 0 {
		t.renderItem.Disable()
	} else {
		t.renderItem.Enable()
	}
}

// SetLast records the file name of the most recent finished render.
func (t *Tray) SetLast(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = name
	if t.ready {
		t.lastItem.SetTitle(lastTitle(name))
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(active int) string {
	switch active {
	case 0:
		return "Status: Idle"
	case 1:
		return "Status: Rendering"
	default:
		return fmt.Sprintf("Status: Rendering (%d queued)", active-1)
	}
}

func lastTitle(name string) string {
	if name == "" {
		return "Last render: none"
	}
	return "Last render: " + name
}
