// Package audio drains the core's stereo PCM ring into a host audio
// device via oto.
package audio

import (
	"fmt"

	"github.com/ebitengine/oto/v3"
)

// Source is the narrow surface Player pulls samples from; satisfied by
// *system.System.
type Source interface {
	AudioSamples(out []int16) int
}

// Player owns an oto playback context and feeds it by pulling from Source
// on oto's own callback goroutine, so the core's Step loop never blocks on
// audio I/O.
type Player struct {
	src    Source
	ctx    *oto.Context
	player *oto.Player
	scratch []int16
}

// sampleRate is fixed at the GBA's native DirectSound mixing rate; callers
// wanting a different host rate should resample upstream of AudioSamples.
const sampleRate = 32768

// New creates an oto context and a player reading from src.
func New(src Source) (*Player, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   0,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}
	<-ready

	p := &Player{src: src, ctx: ctx, scratch: make([]int16, 4096)}
	p.player = ctx.NewPlayer(p)
	return p, nil
}

// Read implements io.Reader for oto.Player: it pulls interleaved stereo
// PCM16 samples from the core and copies them out as little-endian bytes,
// zero-filling any shortfall so playback never stalls waiting for the
// core to catch up.
func (p *Player) Read(out []byte) (int, error) {
	pairs := len(out) / 4
	if cap(p.scratch) < pairs*2 {
		p.scratch = make([]int16, pairs*2)
	}
	buf := p.scratch[:pairs*2]

	n := p.src.AudioSamples(buf)
	for i := 0; i < pairs; i++ {
		var l, r int16
		if i < n {
			l, r = buf[i*2], buf[i*2+1]
		}
		out[i*4+0] = byte(l)
		out[i*4+1] = byte(l >> 8)
		out[i*4+2] = byte(r)
		out[i*4+3] = byte(r >> 8)
	}
	return len(out), nil
}

// Start begins playback.
func (p *Player) Start() { p.player.Play() }

// Close stops playback and releases the oto player.
func (p *Player) Close() error {
	return p.player.Close()
}
