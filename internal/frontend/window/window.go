// Package window is the windowed presentation backend: it blits the
// core's ARGB framebuffer into an ebiten window, scaled with nearest
// neighbour, and forwards key events back into the core's joypad state.
package window

import (
	"image"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"golang.org/x/image/draw"

	"goba/internal/gba/system"
	"goba/internal/gba/video"
)

// keymap is the fixed host-key binding Update reads; it is unexported and
// Window has no field for another map, so bindings cannot be changed from
// outside this package.
var keymap = map[ebiten.Key]uint16{
	ebiten.KeyX:          system.ButtonA,
	ebiten.KeyZ:          system.ButtonB,
	ebiten.KeyBackspace:  system.ButtonSelect,
	ebiten.KeyEnter:      system.ButtonStart,
	ebiten.KeyRight:      system.ButtonRight,
	ebiten.KeyLeft:       system.ButtonLeft,
	ebiten.KeyUp:         system.ButtonUp,
	ebiten.KeyDown:       system.ButtonDown,
	ebiten.KeyS:          system.ButtonR,
	ebiten.KeyA:          system.ButtonL,
}

// Window runs the emulator core inside an ebiten game loop, one CPU step
// batch per Update call, presenting the completed frame each Draw call.
type Window struct {
	sys   System
	scale int

	frame       *ebiten.Image
	frameMu     sync.Mutex
	scaledPix   []byte
	fullscreen  bool
}

// System is the narrow surface Window drives; satisfied by *system.System.
type System interface {
	Step() uint32
	Crashed() bool
	CrashReport() *system.CrashReport
	FrameReady() bool
	ResetFrameReady()
	Framebuffer() *[video.Width * video.Height]uint32
	SetKeyState(pressedMask uint16)
}

// New builds a Window around an already-loaded core.
func New(sys System, scale int) *Window {
	if scale <= 0 {
		scale = 1
	}
	return &Window{
		sys:       sys,
		scale:     scale,
		frame:     ebiten.NewImage(video.Width, video.Height),
		scaledPix: make([]byte, video.Width*video.Height*4),
	}
}

// Run opens the window and blocks until it is closed or the core crashes.
func (w *Window) Run(title string) error {
	ebiten.SetWindowSize(video.Width*w.scale, video.Height*w.scale)
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowResizable(true)
	ebiten.SetVsyncEnabled(true)
	return ebiten.RunGame(w)
}

// Update runs CPU steps until a frame completes or the core halts for the
// run, then samples held keys into the joypad state.
func (w *Window) Update() error {
	if w.sys.Crashed() {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		w.fullscreen = !w.fullscreen
		ebiten.SetFullscreen(w.fullscreen)
	}

	var pressed uint16
	for key, bit := range keymap {
		if ebiten.IsKeyPressed(key) {
			pressed |= bit
		}
	}
	w.sys.SetKeyState(pressed)

	for !w.sys.FrameReady() {
		if w.sys.Step() == 0 {
			break
		}
	}
	w.sys.ResetFrameReady()
	return nil
}

// Draw converts the core's ARGB32 framebuffer to ebiten's RGBA byte order
// and uploads it, letting ebiten's own image scaling handle the window
// size; Snapshot separately nearest-neighbour resamples the frame when a
// caller wants the scaled pixels directly.
func (w *Window) Draw(screen *ebiten.Image) {
	w.frameMu.Lock()
	fb := w.sys.Framebuffer()
	argbToRGBA(fb[:], w.scaledPix)
	w.frame.WritePixels(w.scaledPix)
	w.frameMu.Unlock()

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(w.scale), float64(w.scale))
	screen.DrawImage(w.frame, op)
}

func (w *Window) Layout(outsideWidth, outsideHeight int) (int, int) {
	return video.Width * w.scale, video.Height * w.scale
}

// Snapshot nearest-neighbour scales the current frame into an *image.RGBA
// of the given size. cmd/goba does not call it; headless mode writes no
// frame images.
func (w *Window) Snapshot(width, height int) *image.RGBA {
	src := image.NewRGBA(image.Rect(0, 0, video.Width, video.Height))
	fb := w.sys.Framebuffer()
	argbToRGBA(fb[:], src.Pix)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

func argbToRGBA(src []uint32, dst []byte) {
	for i, px := range src {
		dst[i*4+0] = byte(px >> 16)
		dst[i*4+1] = byte(px >> 8)
		dst[i*4+2] = byte(px)
		dst[i*4+3] = byte(px >> 24)
	}
}
