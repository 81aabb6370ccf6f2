// Package firmware provides a high-level emulation of the GBA BIOS service
// calls: instead of executing real BIOS ROM code through an SVC exception,
// the CPU's SWIHandler hook is routed here and the requested service is
// performed directly in Go, reading arguments from and writing results back
// to the CPU's general-purpose registers per the documented calling
// convention.
package firmware

import (
	"math"

	"goba/internal/gba/cpu"
	"goba/internal/logx"
)

// Memory is the narrow bus surface the firmware needs: absolute
// 0x04000000-space register access for the HALT/IntrWait family, plus
// general reads/writes for the CpuSet/LZ77/RLE/diff-unfilter/bit-unpack
// block-transfer services.
type Memory interface {
	Read8(addr uint32) uint8
	Write8(addr uint32, v uint8)
	Read16(addr uint32, wordCountHint int) uint16
	Write16(addr uint32, v uint16, wordCountHint int)
	Read32(addr uint32) uint32
	Write32(addr uint32, v uint32)
}

const (
	regIF        = 0x04000202
	regSoundBias = 0x04000088
)

// Service selectors, matching the real BIOS's SWI numbering.
const (
	svcSoftReset         = 0x00
	svcRegisterRAMReset  = 0x01
	svcHalt              = 0x02
	svcStop              = 0x03
	svcIntrWait          = 0x04
	svcVBlankIntrWait    = 0x05
	svcDiv               = 0x06
	svcDivArm            = 0x07
	svcSqrt              = 0x08
	svcArcTan            = 0x09
	svcArcTan2           = 0x0A
	svcCpuSet            = 0x0B
	svcCpuFastSet        = 0x0C
	svcBgAffineSet       = 0x0E
	svcObjAffineSet      = 0x0F
	svcBitUnPack         = 0x10
	svcLZ77UnCompWRAM    = 0x11
	svcLZ77UnCompVRAM    = 0x12
	svcRLUnCompWRAM      = 0x14
	svcRLUnCompVRAM      = 0x15
	svcDiff8bitUnFilter  = 0x16
	svcDiff16bitUnFilter = 0x18
	svcSoundBias         = 0x19
	svcMidiKey2Freq      = 0x1F
)

// Dispatcher holds the state a BIOS call needs beyond the CPU's own
// registers: the memory surface for block transfers and an optional
// peripheral-advance hook so long copies don't starve the video unit.
type Dispatcher struct {
	mem     Memory
	advance func(cycles int)
	log     logx.Logger

	resetHandler func(flags uint8)
}

// New builds a Dispatcher. advance may be nil if the caller doesn't need
// mid-copy peripheral ticking (tests, for instance).
func New(mem Memory, advance func(cycles int), log logx.Logger) *Dispatcher {
	if log == nil {
		log = logx.Nop()
	}
	if advance == nil {
		advance = func(int) {}
	}
	return &Dispatcher{mem: mem, advance: advance, log: log}
}

// SetResetHandler installs the callback invoked by the SoftReset service;
// the system facade wires this to its own CPU/bus reinitialization.
func (d *Dispatcher) SetResetHandler(h func(flags uint8)) { d.resetHandler = h }

// Handle is installed as the CPU's SWIHandler.
func (d *Dispatcher) Handle(c *cpu.CPU, comment uint32) {
	switch comment {
	case svcSoftReset:
		if d.resetHandler != nil {
			d.resetHandler(uint8(c.Reg(0)))
		}
	case svcRegisterRAMReset:
		// RAM regions are owned by the bus; the system facade performs the
		// actual clearing since it alone knows backing-store lifetimes.
		if d.resetHandler != nil {
			d.resetHandler(uint8(c.Reg(0)) | 0x80)
		}
	case svcHalt:
		d.rewindAndHalt(c)
	case svcStop:
		d.rewindAndHalt(c)
	case svcIntrWait:
		d.intrWait(c, false)
	case svcVBlankIntrWait:
		d.intrWait(c, true)
	case svcDiv:
		d.div(c, 0, 1)
	case svcDivArm:
		d.div(c, 1, 0)
	case svcSqrt:
		c.SetReg(0, uint32(math.Sqrt(float64(c.Reg(0)))))
	case svcArcTan:
		d.arcTan(c)
	case svcArcTan2:
		d.arcTan2(c)
	case svcCpuSet:
		d.cpuSet(c)
	case svcCpuFastSet:
		d.cpuFastSet(c)
	case svcBgAffineSet:
		d.affineSet(c, true)
	case svcObjAffineSet:
		d.affineSet(c, false)
	case svcBitUnPack:
		d.bitUnpack(c)
	case svcLZ77UnCompWRAM:
		d.lz77Decompress(c, 1)
	case svcLZ77UnCompVRAM:
		d.lz77Decompress(c, 2)
	case svcRLUnCompWRAM:
		d.rlDecompress(c, 1)
	case svcRLUnCompVRAM:
		d.rlDecompress(c, 2)
	case svcDiff8bitUnFilter:
		d.diffUnfilter(c, 1)
	case svcDiff16bitUnFilter:
		d.diffUnfilter(c, 2)
	case svcSoundBias:
		d.soundBias(c)
	case svcMidiKey2Freq:
		d.midiKey2Freq(c)
	default:
		d.log.Warnf("firmware: unimplemented service call %#x, ignoring", comment)
	}
}

func (d *Dispatcher) rewindAndHalt(c *cpu.CPU) {
	width := uint32(4)
	if c.IsThumb() {
		width = 2
	}
	c.SetPC(c.PC() - width)
	c.Halt()
}

// intrWait busy-waits (by rewinding PC and halting, same trick as Halt)
// until one of the bits in r1 (or the vblank bit, for the convenience
// form) is latched in IF, clearing the matched bits once it wakes.
func (d *Dispatcher) intrWait(c *cpu.CPU, vblankOnly bool) {
	discard := c.Reg(0)
	mask := uint16(c.Reg(1))
	if vblankOnly {
		mask = 1
		discard = 1
	}

	iflags := d.mem.Read16(regIF, 0)
	if discard != 0 {
		iflags = 0
	}
	if iflags&mask != 0 {
		d.mem.Write16(regIF, iflags&mask, 0)
		return
	}
	d.rewindAndHalt(c)
}

func (d *Dispatcher) div(c *cpu.CPU, numReg, denReg uint8) {
	number := int32(c.Reg(numReg))
	denom := int32(c.Reg(denReg))
	if denom == 0 {
		c.SetReg(0, 0)
		c.SetReg(1, uint32(number))
		c.SetReg(3, 0)
		return
	}
	quot := number / denom
	rem := number % denom
	c.SetReg(0, uint32(quot))
	c.SetReg(1, uint32(rem))
	if quot < 0 {
		c.SetReg(3, uint32(-quot))
	} else {
		c.SetReg(3, uint32(quot))
	}
}

// arcTan/arcTan2 use the BIOS's 16-bit signed 1.1.14 fixed-point angle
// input and return an angle in the BIOS's 0x0000-0xFFFF full-circle unit.
func (d *Dispatcher) arcTan(c *cpu.CPU) {
	tan := float64(int16(c.Reg(0))) / 16384.0
	angle := math.Atan(tan)
	c.SetReg(0, angleToUnits(angle))
}

func (d *Dispatcher) arcTan2(c *cpu.CPU) {
	x := float64(int16(c.Reg(0))) / 16384.0
	y := float64(int16(c.Reg(1))) / 16384.0
	angle := math.Atan2(y, x)
	c.SetReg(0, angleToUnits(angle))
}

func angleToUnits(radians float64) uint32 {
	units := radians / (2 * math.Pi) * 0x10000
	return uint32(int32(units))
}

// cpuSet control word: bits0-20 unit count, bit24 fixed source (fill
// instead of copy), bit26 set for 16-bit units (clear: 32-bit units).
func (d *Dispatcher) cpuSet(c *cpu.CPU) {
	src := c.Reg(0)
	dst := c.Reg(1)
	ctrl := c.Reg(2)
	count := ctrl & 0x1FFFFF
	wide := ctrl&(1<<26) == 0
	fixed := ctrl&(1<<24) != 0

	for i := uint32(0); i < count; i++ {
		if wide {
			d.mem.Write32(dst, d.mem.Read32(src))
			dst += 4
			if !fixed {
				src += 4
			}
		} else {
			d.mem.Write16(dst, d.mem.Read16(src, 0), 0)
			dst += 2
			if !fixed {
				src += 2
			}
		}
		if i&31 == 31 {
			d.advance(8)
		}
	}
}

// cpuFastSet always transfers 32-bit units in blocks of 8 words.
func (d *Dispatcher) cpuFastSet(c *cpu.CPU) {
	src := c.Reg(0)
	dst := c.Reg(1)
	ctrl := c.Reg(2)
	count := (ctrl & 0x1FFFFF + 7) &^ 7
	fixed := ctrl&(1<<24) != 0

	for i := uint32(0); i < count; i++ {
		d.mem.Write32(dst, d.mem.Read32(src))
		dst += 4
		if !fixed {
			src += 4
		}
		if i&31 == 31 {
			d.advance(6)
		}
	}
}

// affineSet computes rotation/scale matrices from an array of source
// records (origin, screen position, scale, angle) into the packed
// destination format LDM/background or sprite affine registers expect.
func (d *Dispatcher) affineSet(c *cpu.CPU, background bool) {
	src := c.Reg(0)
	dst := c.Reg(1)
	count := c.Reg(2)
	stride := int32(c.Reg(3))

	for i := uint32(0); i < count; i++ {
		ox := fixed32(d.mem.Read32(src))
		oy := fixed32(d.mem.Read32(src + 4))
		sx := fixed16(d.mem.Read16(src+8, 0))
		sy := fixed16(d.mem.Read16(src+10, 0))
		angle := float64(d.mem.Read16(src+12, 0)) / 0x10000 * 2 * math.Pi
		cosA, sinA := math.Cos(angle), math.Sin(angle)

		pa := int32(sx * cosA * 256)
		pb := int32(-sx * sinA * 256)
		pc := int32(sy * sinA * 256)
		pd := int32(sy * cosA * 256)

		screenX := int32(int16(d.mem.Read16(src+16, 0)))
		screenY := int32(int16(d.mem.Read16(src+18, 0)))

		dx := ox - int64(screenX)*int64(pa) - int64(screenY)*int64(pb)
		dy := oy - int64(screenX)*int64(pc) - int64(screenY)*int64(pd)

		if background {
			d.mem.Write32(dst, uint32(pa))
			d.mem.Write32(dst+4, uint32(pb))
			d.mem.Write32(dst+8, uint32(pc))
			d.mem.Write32(dst+12, uint32(pd))
			d.mem.Write32(dst+16, uint32(dx))
			d.mem.Write32(dst+20, uint32(dy))
		} else {
			d.mem.Write16(dst, uint16(pa), 0)
			d.mem.Write16(dst+2, uint16(pb), 0)
			d.mem.Write16(dst+4, uint16(pc), 0)
			d.mem.Write16(dst+6, uint16(pd), 0)
		}

		src += 20
		dst += uint32(stride)
		d.advance(4)
	}
}

func fixed32(v uint32) int64 { return int64(int32(v)) }
func fixed16(v uint16) float64 { return float64(int16(v)) / 256.0 }

// bitUnpack expands packed source elements of srcWidth bits into
// destWidth-bit destination units, adding a constant offset to each
// (skipping the add for zero source values unless bit31 of the offset
// word clears that behaviour).
func (d *Dispatcher) bitUnpack(c *cpu.CPU) {
	src := c.Reg(0)
	dst := c.Reg(1)
	params := c.Reg(2)

	srcLen := d.mem.Read16(params, 0)
	srcWidth := d.mem.Read8(uint32(params + 2))
	destWidth := d.mem.Read8(uint32(params + 3))
	offsetWord := d.mem.Read32(params + 4)
	addOnZero := offsetWord&0x80000000 == 0
	offset := offsetWord & 0x7FFFFFFF

	var srcBitPos uint
	var srcByte uint8
	var outWord uint32
	var outBits uint
	srcAddr := src

	readBits := func(n uint) uint32 {
		var v uint32
		for i := uint(0); i < n; i++ {
			if srcBitPos == 0 {
				srcByte = d.mem.Read8(srcAddr)
				srcAddr++
				srcBitPos = 8
			}
			bit := (srcByte >> (8 - srcBitPos)) & 1
			v |= uint32(bit) << i
			srcBitPos--
		}
		return v
	}

	for i := uint16(0); i < srcLen; i++ {
		elem := readBits(uint(srcWidth))
		if elem != 0 || addOnZero {
			elem += offset
		}
		outWord |= elem << outBits
		outBits += uint(destWidth)
		for outBits >= 32 {
			d.mem.Write32(dst, outWord)
			dst += 4
			outBits -= 32
			outWord = elem >> (uint(destWidth) - outBits)
			if outBits == 0 {
				outWord = 0
			}
		}
	}
	if outBits > 0 {
		d.mem.Write32(dst, outWord)
	}
}

// lz77Decompress implements the GBA's LZSS variant: a flag byte's bits
// (MSB first) select eight following tokens, each a literal byte or a
// back-reference (length 3-18, distance 1-4096). unit is 1 for an 8-bit
// destination store (WRAM) or 2 for a buffered 16-bit store (VRAM).
func (d *Dispatcher) lz77Decompress(c *cpu.CPU, unit int) {
	src := c.Reg(0)
	dst := c.Reg(1)

	header := d.mem.Read32(src)
	size := header >> 8
	src += 4

	out := make([]byte, 0, size)
	for uint32(len(out)) < size {
		flags := d.mem.Read8(src)
		src++
		for bit := 7; bit >= 0 && uint32(len(out)) < size; bit-- {
			if flags&(1<<uint(bit)) == 0 {
				out = append(out, d.mem.Read8(src))
				src++
				continue
			}
			b0 := d.mem.Read8(src)
			b1 := d.mem.Read8(src + 1)
			src += 2
			length := int(b0>>4) + 3
			disp := (int(b0&0xF) << 8) | int(b1) + 1
			start := len(out) - disp
			for i := 0; i < length && uint32(len(out)) < size; i++ {
				out = append(out, out[start+i])
			}
		}
		d.advance(4)
	}

	writeDecompressed(d.mem, dst, out, unit)
}

// rlDecompress implements the GBA's run-length scheme: a flag byte's top
// bit selects a compressed run (one byte repeated len+3 times) or a raw
// run (len+1 literal bytes) for the low 7 bits' length field.
func (d *Dispatcher) rlDecompress(c *cpu.CPU, unit int) {
	src := c.Reg(0)
	dst := c.Reg(1)

	header := d.mem.Read32(src)
	size := header >> 8
	src += 4

	out := make([]byte, 0, size)
	for uint32(len(out)) < size {
		flag := d.mem.Read8(src)
		src++
		if flag&0x80 != 0 {
			length := int(flag&0x7F) + 3
			b := d.mem.Read8(src)
			src++
			for i := 0; i < length; i++ {
				out = append(out, b)
			}
		} else {
			length := int(flag) + 1
			for i := 0; i < length; i++ {
				out = append(out, d.mem.Read8(src))
				src++
			}
		}
		d.advance(4)
	}

	writeDecompressed(d.mem, dst, out, unit)
}

func writeDecompressed(mem Memory, dst uint32, out []byte, unit int) {
	if unit == 1 {
		for i, b := range out {
			mem.Write8(dst+uint32(i), b)
		}
		return
	}
	for i := 0; i+1 < len(out); i += 2 {
		v := uint16(out[i]) | uint16(out[i+1])<<8
		mem.Write16(dst+uint32(i), v, 0)
	}
}

// diffUnfilter reverses a simple delta filter: each output unit is the
// previous output unit plus the corresponding input unit, mod 2^width.
func (d *Dispatcher) diffUnfilter(c *cpu.CPU, unit int) {
	src := c.Reg(0)
	dst := c.Reg(1)

	header := d.mem.Read32(src)
	size := header >> 8
	src += 4

	if unit == 1 {
		var prev uint8
		for i := uint32(0); i < size; i++ {
			prev += d.mem.Read8(src + i)
			d.mem.Write8(dst+i, prev)
		}
		return
	}
	var prev uint16
	for i := uint32(0); i < size; i += 2 {
		prev += d.mem.Read16(src+i, 0)
		d.mem.Write16(dst+i, prev, 0)
	}
}

func (d *Dispatcher) soundBias(c *cpu.CPU) {
	level := c.Reg(0) & 0x3FF
	d.mem.Write16(regSoundBias, uint16(level)|0x200, 0)
}

// midiKey2Freq derives a sample playback frequency from a wave container's
// base frequency, a MIDI key number, and a fine-pitch adjustment.
func (d *Dispatcher) midiKey2Freq(c *cpu.CPU) {
	waveData := c.Reg(0)
	key := float64(c.Reg(1))
	fine := float64(c.Reg(2))

	baseFreq := float64(d.mem.Read32(waveData + 4))
	freq := baseFreq * math.Pow(2, (180-key-fine/256)/12)
	c.SetReg(0, uint32(freq))
}
