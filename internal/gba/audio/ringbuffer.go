package audio

import "sync/atomic"

// sampleRingSize must be a power of two; it bounds how far the host audio
// thread can lag the emulation thread before samples are dropped.
const sampleRingSize = 1 << 13 // 8192 interleaved stereo int16 samples

// ringBuffer is a single-producer/single-consumer lock-free ring of
// interleaved stereo int16 samples. The emulation goroutine is the sole
// writer, a host audio callback is the sole reader; only the atomic
// read/write cursors are shared, so no mutex is needed.
type ringBuffer struct {
	data  [sampleRingSize]int16
	write atomic.Uint64
	read  atomic.Uint64
}

func (r *ringBuffer) writeStereo(l, rr int16) {
	w := r.write.Load()
	if w-r.read.Load() >= sampleRingSize-2 {
		return // consumer fell behind; drop this sample pair rather than block
	}
	r.data[w%sampleRingSize] = l
	r.data[(w+1)%sampleRingSize] = rr
	r.write.Store(w + 2)
}

// Read drains up to len(out) interleaved stereo samples into out, returning
// how many were written. Unfilled tail entries are left untouched by the
// caller's own zeroing, matching how Ebiten/oto's io.Reader-based players
// expect silence on underrun.
func (r *ringBuffer) Read(out []int16) int {
	n := 0
	for n < len(out) {
		rd := r.read.Load()
		if rd >= r.write.Load() {
			break
		}
		out[n] = r.data[rd%sampleRingSize]
		r.read.Store(rd + 1)
		n++
	}
	return n
}

// Available reports how many samples are queued for the reader.
func (r *ringBuffer) Available() int {
	return int(r.write.Load() - r.read.Load())
}
