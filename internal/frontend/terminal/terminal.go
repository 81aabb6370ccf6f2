// Package terminal is a tcell-based renderer: it downsamples the core's
// ARGB framebuffer into terminal cells using the half-block trick (each
// cell's foreground/background holds one pixel row each, doubling
// vertical resolution) and polls keyboard events into the joypad state.
package terminal

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"goba/internal/gba/system"
	"goba/internal/gba/video"
)

const frameTime = time.Second / 60

// keymap mirrors the window frontend's default bindings in terminal-safe
// keys (arrow keys, x/z for A/B).
var keymap = map[rune]uint16{
	'x': system.ButtonA,
	'z': system.ButtonB,
	'a': system.ButtonL,
	's': system.ButtonR,
}

var specialKeymap = map[tcell.Key]uint16{
	tcell.KeyUp:     system.ButtonUp,
	tcell.KeyDown:   system.ButtonDown,
	tcell.KeyLeft:   system.ButtonLeft,
	tcell.KeyRight:  system.ButtonRight,
	tcell.KeyEnter:  system.ButtonStart,
	tcell.KeyTab:    system.ButtonSelect,
}

// System is the narrow surface Renderer drives; satisfied by *system.System.
type System interface {
	Step() uint32
	Crashed() bool
	CrashReport() *system.CrashReport
	FrameReady() bool
	ResetFrameReady()
	Framebuffer() *[video.Width * video.Height]uint32
	SetKeyState(pressedMask uint16)
}

// Renderer drives sys in a 60Hz tick loop, drawing each completed frame to
// a tcell screen and feeding key events back into the joypad state.
type Renderer struct {
	screen  tcell.Screen
	sys     System
	running bool
	pressed uint16
}

// New initializes the terminal and returns a Renderer ready to Run.
func New(sys System) (*Renderer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("terminal: %w", err)
	}
	return &Renderer{screen: screen, sys: sys, running: true}, nil
}

// Run blocks until the window is closed, the host is signaled, or the
// core crashes, returning the crash report (nil on a clean exit).
func (r *Renderer) Run() *system.CrashReport {
	defer r.screen.Fini()

	r.screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	r.screen.Clear()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go r.pollInput()

	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()

	for r.running {
		select {
		case <-ticker.C:
			r.sys.SetKeyState(r.pressed)
			for !r.sys.FrameReady() {
				if r.sys.Step() == 0 {
					r.running = false
					break
				}
			}
			r.sys.ResetFrameReady()
			r.render()
			r.screen.Show()
		case <-signals:
			r.running = false
		}
	}

	return r.sys.CrashReport()
}

func (r *Renderer) pollInput() {
	for r.running {
		ev := r.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
				r.running = false
				return
			}
			if bit, ok := specialKeymap[ev.Key()]; ok {
				r.pressed |= bit
			}
			if ev.Key() == tcell.KeyRune {
				if bit, ok := keymap[ev.Rune()]; ok {
					r.pressed |= bit
				}
			}
		case *tcell.EventResize:
			r.screen.Sync()
		}
	}
}

// render draws the framebuffer into the top-left cell block of the
// screen, one cell per 1x2 source pixels (half-block trick), and leaves
// one status line below it.
func (r *Renderer) render() {
	r.screen.Clear()

	fb := r.sys.Framebuffer()
	cellRows := video.Height / 2
	for cy := 0; cy < cellRows; cy++ {
		for cx := 0; cx < video.Width; cx++ {
			top := fb[(cy*2)*video.Width+cx]
			bot := fb[(cy*2+1)*video.Width+cx]
			style := tcell.StyleDefault.
				Foreground(argbToColor(top)).
				Background(argbToColor(bot))
			r.screen.SetContent(cx, cy, '▀', nil, style)
		}
	}

	status := "running"
	if r.sys.Crashed() {
		status = "crashed: " + r.sys.CrashReport().Reason
	}
	for i, ch := range fmt.Sprintf("goba [%s] (esc to quit)", status) {
		r.screen.SetContent(i, cellRows+1, ch, nil, tcell.StyleDefault)
	}
}

func argbToColor(px uint32) tcell.Color {
	return tcell.NewRGBColor(int32(px>>16&0xFF), int32(px>>8&0xFF), int32(px&0xFF))
}
