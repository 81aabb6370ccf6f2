// Package bus implements the memory bus: region routing, mirroring,
// width-restriction rules, open-bus synthesis, wait-state cycle accounting,
// and the instruction-fetch path the CPU uses to step.
package bus

import (
	"math/bits"

	"goba/internal/gba/audio"
	"goba/internal/gba/cartridge"
	"goba/internal/gba/dma"
	"goba/internal/gba/interrupt"
	"goba/internal/gba/timer"
	"goba/internal/gba/video"
)

const (
	biosSize  = 16 * 1024
	ewramSize = 256 * 1024
	iwramSize = 32 * 1024
)

// Bus owns every memory region and peripheral, and is the single mutable
// reference the system facade steps each tick (the cyclic references among
// peripherals resolve here: peripherals only see narrow local interfaces,
// Bus is the one concrete type that holds all the concrete peripherals).
type Bus struct {
	bios  []byte
	ewram [ewramSize]byte
	iwram [iwramSize]byte

	video   *video.Unit
	audio   *audio.Unit
	timers  *timer.Unit
	dma     *dma.Unit
	cart    *cartridge.Cartridge

	ie      uint16
	iflags  uint16
	ime     bool
	waitcnt uint16

	keyinput uint16
	keycnt   uint16

	lastFetch      uint32
	lastFetchWidth int
	lastPC         uint32
}

// New wires a bus around a loaded cartridge and a (possibly short) firmware
// ROM image; a nil/empty image leaves BIOS reads as open-bus.
func New(cart *cartridge.Cartridge, biosImage []byte) *Bus {
	b := &Bus{
		bios:     make([]byte, biosSize),
		video:    video.New(),
		audio:    audio.New(),
		timers:   timer.New(),
		cart:     cart,
		keyinput: 0x3FF, // active-low: all buttons released
	}
	copy(b.bios, biosImage)
	b.dma = dma.New(b, b)
	return b
}

// Raise implements interrupt.Raiser for every peripheral (video, dma,
// timer) that needs to post an IRQ without importing this package.
func (b *Bus) Raise(bit uint16) { b.iflags |= bit }

// HaltWakePending reports whether any enabled interrupt is latched,
// regardless of the master-enable bit: halt mode wakes on this condition
// alone.
func (b *Bus) HaltWakePending() bool { return b.ie&b.iflags != 0 }

// InterruptPending reports whether the CPU should take the IRQ exception:
// enabled, latched, and master-enable all set.
func (b *Bus) InterruptPending() bool { return b.ime && b.ie&b.iflags != 0 }

// Video / Audio / Cartridge expose the owned peripherals to the system
// facade (framebuffer access, audio draining, save-flush polling, etc.)
// without it needing its own handle into the bus's private fields.
func (b *Bus) Video() *video.Unit   { return b.video }
func (b *Bus) Audio() *audio.Unit   { return b.audio }
func (b *Bus) Cartridge() *cartridge.Cartridge { return b.cart }

// NotePC records the CPU's current program counter, used to decide whether
// firmware ROM reads are legitimate or open-bus.
func (b *Bus) NotePC(pc uint32) { b.lastPC = pc }

func (b *Bus) pcInBIOS() bool { return b.lastPC < biosSize }

// Advance ticks every peripheral by cpuCycles of CPU time, wiring the
// cross-peripheral triggers (HBlank/VBlank DMA, timer-driven FIFO refill)
// that would otherwise need the peripherals to reference each other
// directly.
func (b *Bus) Advance(cpuCycles int) {
	b.timers.Tick(cpuCycles, b, timerSink{b})
	b.video.Tick(cpuCycles, b, b.dma)
	b.audio.Step(cpuCycles)
}

type timerSink struct{ b *Bus }

func (s timerSink) OnTimerOverflow(t int) (refillA, refillB bool) {
	refillA, refillB = s.b.audio.OnTimerOverflow(t)
	if refillA {
		s.b.dma.OnFIFORefill(0)
	}
	if refillB {
		s.b.dma.OnFIFORefill(1)
	}
	return
}

// region identifies which memory area an address falls in, keyed by its
// top byte per the fixed memory map.
type region int

const (
	regionOpen region = iota
	regionBIOS
	regionEWRAM
	regionIWRAM
	regionIO
	regionPalette
	regionVRAM
	regionOAM
	regionROM0
	regionROM1
	regionROM2
	regionSave
)

func classify(addr uint32) region {
	switch addr >> 24 {
	case 0x00:
		if addr < biosSize {
			return regionBIOS
		}
		return regionOpen
	case 0x02:
		return regionEWRAM
	case 0x03:
		return regionIWRAM
	case 0x04:
		return regionIO
	case 0x05:
		return regionPalette
	case 0x06:
		return regionVRAM
	case 0x07:
		return regionOAM
	case 0x08, 0x09:
		return regionROM0
	case 0x0A, 0x0B:
		return regionROM1
	case 0x0C, 0x0D:
		return regionROM2
	case 0x0E, 0x0F:
		return regionSave
	default:
		return regionOpen
	}
}

// openBus32 synthesizes a 32-bit open-bus value from the last instruction
// fetched; a halfword fetch (Thumb) duplicates across both halves.
func (b *Bus) openBus32() uint32 {
	if b.lastFetchWidth == 4 {
		return b.lastFetch
	}
	h := b.lastFetch & 0xFFFF
	return h | h<<16
}

// Read8 / Write8 / Read16 / Write16 / Read32 / Write32 are the bus's six
// typed operations (plus FetchInstruction below).
func (b *Bus) Read8(addr uint32) uint8 {
	switch classify(addr) {
	case regionBIOS:
		if b.pcInBIOS() {
			return b.bios[addr]
		}
		return byte(b.openBus32())
	case regionEWRAM:
		return b.ewram[addr&(ewramSize-1)]
	case regionIWRAM:
		return b.iwram[addr&(iwramSize-1)]
	case regionIO:
		return b.readIORegister(addr & 0xFFFFFF)
	case regionPalette:
		return b.video.ReadPalette8(addr)
	case regionVRAM:
		return b.video.ReadVRAM8(addr)
	case regionOAM:
		return b.video.ReadOAM8(addr)
	case regionROM0, regionROM1, regionROM2:
		return b.cart.ReadROM8(addr & 0x01FFFFFF)
	case regionSave:
		return b.cart.ReadSave8(addr & 0xFFFF)
	default:
		return byte(b.openBus32())
	}
}

func (b *Bus) Write8(addr uint32, v uint8) {
	switch classify(addr) {
	case regionEWRAM:
		b.ewram[addr&(ewramSize-1)] = v
	case regionIWRAM:
		b.iwram[addr&(iwramSize-1)] = v
	case regionIO:
		b.writeIORegister(addr&0xFFFFFF, v)
	case regionPalette:
		b.video.WritePalette8(addr, v)
	case regionVRAM:
		b.video.WriteVRAM8(addr, v)
	case regionOAM:
		b.video.WriteOAM8(addr, v)
	case regionSave:
		b.cart.WriteSave8(addr&0xFFFF, v)
	}
}

func (b *Bus) Read16(addr uint32, wordCountHint int) uint16 {
	aligned := addr &^ 1
	v := b.read16Aligned(aligned, wordCountHint)
	if addr&1 != 0 {
		v = v>>8 | v<<8
	}
	return v
}

func (b *Bus) read16Aligned(addr uint32, wordCountHint int) uint16 {
	switch classify(addr) {
	case regionBIOS:
		if b.pcInBIOS() {
			return uint16(b.bios[addr]) | uint16(b.bios[addr+1])<<8
		}
		return uint16(b.openBus32())
	case regionEWRAM:
		off := addr & (ewramSize - 1)
		return uint16(b.ewram[off]) | uint16(b.ewram[off+1])<<8
	case regionIWRAM:
		off := addr & (iwramSize - 1)
		return uint16(b.iwram[off]) | uint16(b.iwram[off+1])<<8
	case regionIO:
		lo := b.readIORegister(addr & 0xFFFFFF)
		hi := b.readIORegister((addr + 1) & 0xFFFFFF)
		return uint16(lo) | uint16(hi)<<8
	case regionPalette:
		return b.video.ReadPalette16(addr)
	case regionVRAM:
		return b.video.ReadVRAM16(addr)
	case regionOAM:
		return b.video.ReadOAM16(addr)
	case regionROM0, regionROM1, regionROM2:
		off := addr & 0x01FFFFFF
		return uint16(b.cart.ReadROM8(off)) | uint16(b.cart.ReadROM8(off+1))<<8
	case regionSave:
		return b.cart.ReadSave16(wordCountHint)
	default:
		return uint16(b.openBus32())
	}
}

func (b *Bus) Write16(addr uint32, v uint16, wordCountHint int) {
	aligned := addr &^ 1
	if addr&1 != 0 {
		v = v>>8 | v<<8
	}
	switch classify(aligned) {
	case regionEWRAM:
		off := aligned & (ewramSize - 1)
		b.ewram[off], b.ewram[off+1] = byte(v), byte(v>>8)
	case regionIWRAM:
		off := aligned & (iwramSize - 1)
		b.iwram[off], b.iwram[off+1] = byte(v), byte(v>>8)
	case regionIO:
		b.writeIORegister(aligned&0xFFFFFF, byte(v))
		b.writeIORegister((aligned+1)&0xFFFFFF, byte(v>>8))
	case regionPalette:
		b.video.WritePalette16(aligned, v)
	case regionVRAM:
		b.video.WriteVRAM16(aligned, v)
	case regionOAM:
		b.video.WriteOAM16(aligned, v)
	case regionSave:
		b.cart.WriteSave16(v, wordCountHint)
	}
}

func (b *Bus) Read32(addr uint32) uint32 {
	aligned := addr &^ 3
	v := b.read32Aligned(aligned)
	rot := (addr & 3) * 8
	if rot != 0 {
		v = bits.RotateLeft32(v, -int(rot))
	}
	return v
}

func (b *Bus) read32Aligned(addr uint32) uint32 {
	switch classify(addr) {
	case regionBIOS:
		if b.pcInBIOS() {
			return uint32(b.bios[addr]) | uint32(b.bios[addr+1])<<8 | uint32(b.bios[addr+2])<<16 | uint32(b.bios[addr+3])<<24
		}
		return b.openBus32()
	case regionEWRAM:
		off := addr & (ewramSize - 1)
		return uint32(b.ewram[off]) | uint32(b.ewram[off+1])<<8 | uint32(b.ewram[off+2])<<16 | uint32(b.ewram[off+3])<<24
	case regionIWRAM:
		off := addr & (iwramSize - 1)
		return uint32(b.iwram[off]) | uint32(b.iwram[off+1])<<8 | uint32(b.iwram[off+2])<<16 | uint32(b.iwram[off+3])<<24
	case regionIO:
		lo := b.read16Aligned(addr, 0)
		hi := b.read16Aligned(addr+2, 0)
		return uint32(lo) | uint32(hi)<<16
	case regionPalette:
		return uint32(b.video.ReadPalette16(addr)) | uint32(b.video.ReadPalette16(addr+2))<<16
	case regionVRAM:
		return b.video.ReadVRAM32(addr)
	case regionOAM:
		return b.video.ReadOAM32(addr)
	case regionROM0, regionROM1, regionROM2:
		off := addr & 0x01FFFFFF
		return uint32(b.cart.ReadROM8(off)) | uint32(b.cart.ReadROM8(off+1))<<8 |
			uint32(b.cart.ReadROM8(off+2))<<16 | uint32(b.cart.ReadROM8(off+3))<<24
	case regionSave:
		lo := uint32(b.cart.ReadSave8(addr & 0xFFFF))
		return lo | lo<<8 | lo<<16 | lo<<24
	default:
		return b.openBus32()
	}
}

func (b *Bus) Write32(addr uint32, v uint32) {
	aligned := addr &^ 3

	if aligned == 0x040000A0 {
		b.audio.WriteFIFOA(v)
		return
	}
	if aligned == 0x040000A4 {
		b.audio.WriteFIFOB(v)
		return
	}

	switch classify(aligned) {
	case regionEWRAM:
		off := aligned & (ewramSize - 1)
		b.ewram[off], b.ewram[off+1], b.ewram[off+2], b.ewram[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	case regionIWRAM:
		off := aligned & (iwramSize - 1)
		b.iwram[off], b.iwram[off+1], b.iwram[off+2], b.iwram[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	case regionIO:
		b.writeIORegister(aligned&0xFFFFFF, byte(v))
		b.writeIORegister((aligned+1)&0xFFFFFF, byte(v>>8))
		b.writeIORegister((aligned+2)&0xFFFFFF, byte(v>>16))
		b.writeIORegister((aligned+3)&0xFFFFFF, byte(v>>24))
	case regionPalette:
		b.video.WritePalette16(aligned, uint16(v))
		b.video.WritePalette16(aligned+2, uint16(v>>16))
	case regionVRAM:
		b.video.WriteVRAM32(aligned, v)
	case regionOAM:
		b.video.WriteOAM32(aligned, v)
	case regionSave:
		b.cart.WriteSave8(aligned&0xFFFF, byte(v))
	}
}

// FetchInstruction reads a straight ROM/RAM code word, never touching
// save-memory state machines, and records it for open-bus synthesis.
// width is 2 (Thumb) or 4 (ARM) bytes.
func (b *Bus) FetchInstruction(addr uint32, width int) uint32 {
	var v uint32
	if width == 2 {
		v = uint32(b.read16Aligned(addr&^1, 0))
	} else {
		v = b.read32Aligned(addr &^ 3)
	}
	b.lastFetch = v
	b.lastFetchWidth = width
	return v
}

// waitTable maps a 2-bit WAITCNT selector to first-access wait cycles.
var waitTable = [4]int{4, 3, 2, 8}

func (b *Bus) romCycles(win region) int {
	var sel uint16
	switch win {
	case regionROM0:
		sel = (b.waitcnt >> 2) & 0x3
	case regionROM1:
		sel = (b.waitcnt >> 5) & 0x3
	case regionROM2:
		sel = (b.waitcnt >> 8) & 0x3
	}
	return waitTable[sel]
}

// CyclesFor returns the access cycle cost for addr at the given bit width
// (8, 16 or 32), per the current wait-state configuration.
func (b *Bus) CyclesFor(addr uint32, width int) int {
	r := classify(addr)
	switch r {
	case regionBIOS, regionIWRAM, regionIO, regionOAM:
		return 1
	case regionEWRAM:
		if width == 32 {
			return 6
		}
		return 3
	case regionPalette, regionVRAM:
		if width == 32 {
			return 2
		}
		return 1
	case regionROM0, regionROM1, regionROM2:
		c := b.romCycles(r)
		if width == 32 {
			return c * 2
		}
		return c
	case regionSave:
		return waitTable[b.waitcnt&0x3]
	default:
		return 1
	}
}
