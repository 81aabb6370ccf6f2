// Package system is the core facade: it owns the CPU, bus, and HLE
// firmware dispatcher, and exposes the host-facing API a frontend drives
// (load a ROM, step, read the framebuffer/audio, persist saves).
package system

import (
	"fmt"

	"goba/internal/gba/bus"
	"goba/internal/gba/cartridge"
	"goba/internal/gba/cpu"
	"goba/internal/gba/firmware"
	"goba/internal/gba/video"
	"goba/internal/logx"
)

// Direct-boot constants: the BIOS's own mode-specific stack pointers and
// the cartridge ROM entry address, reproduced here since the firmware
// layer never executes real BIOS reset code.
const (
	spUser = 0x03007F00
	spIRQ  = 0x03007FA0
	spSVC  = 0x03007FE0
	romEntry = 0x08000000
)

// executable address windows (top byte of a 32-bit address) an instruction
// fetch may legally land in; anything else is an invalid-PC fault.
var executableTopBytes = map[uint32]bool{
	0x00: true, 0x02: true, 0x03: true,
	0x08: true, 0x09: true, 0x0A: true, 0x0B: true, 0x0C: true, 0x0D: true,
}

// stallCycleBudget is roughly 10 seconds of GBA clock (16.78MHz) without
// PC motion, treated as equivalent to an invalid-PC fault.
const stallCycleBudget = 16 * 1024 * 1024 * 10

// System is the emulator core.
type System struct {
	cpu      *cpu.CPU
	bus      *bus.Bus
	cart     *cartridge.Cartridge
	firmware *firmware.Dispatcher
	header   cartridge.Header
	log      logx.Logger

	faults *faultLog

	lastPC       uint32
	stallCounter uint64
	crashed      bool
}

// New builds an unloaded core; call LoadROM before Step.
func New(log logx.Logger) *System {
	if log == nil {
		log = logx.Nop()
	}
	return &System{log: log, faults: &faultLog{}}
}

// LoadROM parses the header, builds a fresh cartridge/bus/CPU around it,
// installs the HLE firmware dispatcher, and performs a direct boot.
func (s *System) LoadROM(rom []byte) error {
	header, err := cartridge.ParseHeader(rom)
	if err != nil {
		return fmt.Errorf("system: %w", err)
	}
	cart, err := cartridge.New(rom)
	if err != nil {
		return fmt.Errorf("system: %w", err)
	}

	s.header = header
	s.cart = cart
	s.bus = bus.New(cart, nil)
	s.cpu = cpu.New(s.bus)
	s.firmware = firmware.New(s.bus, s.bus.Advance, s.log)
	s.firmware.SetResetHandler(func(uint8) { s.Reset() })
	s.cpu.SetSWIHandler(s.firmware.Handle)

	if !header.Valid {
		s.log.Warnf("system: ROM header checksum mismatch, booting anyway")
	}

	s.Reset()
	return nil
}

// LoadSave installs a save blob sized for the cartridge's detected backing.
func (s *System) LoadSave(blob []byte) error {
	if s.cart == nil {
		return fmt.Errorf("system: no ROM loaded")
	}
	return s.cart.LoadSave(blob)
}

// Reset reinitializes the CPU to the direct-boot state: System mode, ARM
// state, IRQ enabled, each mode's banked SP preloaded the way the real
// BIOS leaves them, PC at the cartridge entry point.
func (s *System) Reset() {
	if s.cpu == nil {
		return
	}
	s.cpu.Reset()
	s.cpu.SetBankedSP(cpu.ModeSVC, spSVC)
	s.cpu.SetBankedSP(cpu.ModeIRQ, spIRQ)
	s.cpu.SetBankedSP(cpu.ModeUSR, spUser)
	s.cpu.SetMode(cpu.ModeSYS)
	s.cpu.SetIRQDisabled(false)
	s.cpu.SetPC(romEntry)

	*s.faults = faultLog{}
	s.lastPC = romEntry
	s.stallCounter = 0
	s.crashed = false
}

// Step runs one CPU instruction (or exception-entry / halted tick) and
// advances every peripheral by its cycle cost. It returns 0 once the core
// has recorded a crash; the containing loop should stop calling Step and
// surface CrashReport to the host.
func (s *System) Step() uint32 {
	if s.crashed {
		return 0
	}

	pc := s.cpu.PC()
	if !executableTopBytes[pc>>24] {
		s.crash("invalid-pc", pc)
		return 0
	}

	thumb := s.cpu.IsThumb()
	width := uint32(4)
	if thumb {
		width = 2
	}

	cycles := s.cpu.Step()
	s.bus.Advance(cycles)

	newPC := s.cpu.PC()
	if newPC != pc+width {
		s.faults.recordBranch(newPC, s.regSnapshot(), s.cpu.CPSR())
	}

	if newPC == s.lastPC {
		s.stallCounter += uint64(cycles)
		if s.stallCounter > stallCycleBudget {
			s.crash("stall", newPC)
			return 0
		}
	} else {
		s.stallCounter = 0
		s.lastPC = newPC
	}

	return uint32(cycles)
}

func (s *System) crash(reason string, pc uint32) {
	s.crashed = true
	regs := s.regSnapshot()
	sp := s.cpu.Reg(13)
	s.faults.recordCrash(reason, pc, regs, s.cpu.CPSR(), s.bus.Read32, sp)
}

func (s *System) regSnapshot() [16]uint32 {
	var regs [16]uint32
	for i := uint8(0); i < 16; i++ {
		regs[i] = s.cpu.Reg(i)
	}
	return regs
}

// Crashed reports whether Step has stopped advancing the core.
func (s *System) Crashed() bool { return s.crashed }

// CrashReport returns the recorded fault, nil if none has occurred.
func (s *System) CrashReport() *CrashReport { return s.faults.report() }

// Joypad button bits, the order SetKeyState's pressedMask expects.
const (
	ButtonA uint16 = 1 << iota
	ButtonB
	ButtonSelect
	ButtonStart
	ButtonRight
	ButtonLeft
	ButtonUp
	ButtonDown
	ButtonR
	ButtonL
)

// SetKeyState forwards the host's pressed-button bitmask to the joypad
// registers (bit order: A, B, Select, Start, Right, Left, Up, Down, R, L).
func (s *System) SetKeyState(pressedMask uint16) { s.bus.SetKeyState(pressedMask) }

// Framebuffer exposes the most recently completed frame, ARGB32,
// read-only between frames.
func (s *System) Framebuffer() *[video.Width * video.Height]uint32 {
	return s.bus.Video().Framebuffer()
}

// FrameReady reports whether a new frame has completed since the last
// ResetFrameReady call, letting the containing loop know when to present.
func (s *System) FrameReady() bool { return s.bus.Video().IsFrameReady() }

func (s *System) ResetFrameReady() { s.bus.Video().ResetFrameReady() }

// AudioSamples drains up to len(out)/2 stereo sample pairs from the core's
// lock-free PCM ring into out, returning the sample-pair count copied.
func (s *System) AudioSamples(out []int16) int {
	return s.bus.Audio().ReadSamples(out) / 2
}

// SaveData returns the current save blob for persistence.
func (s *System) SaveData() []byte {
	if s.cart == nil {
		return nil
	}
	return s.cart.Snapshot()
}

// SaveDirty reports whether the save backing has been written since the
// last LoadSave/Snapshot, for a debounced flush policy.
func (s *System) SaveDirty() bool {
	return s.cart != nil && s.cart.Dirty()
}

// ROMInfo exposes the parsed cartridge header for informational display.
func (s *System) ROMInfo() cartridge.Header { return s.header }
