// Package cpu implements the ARM7TDMI interpreter: full ARM and Thumb
// decode/execute, banked registers, the barrel shifter, and exception
// entry/return.
package cpu

// Processor modes, encoded in CPSR bits 4-0.
const (
	ModeUSR uint8 = 0b10000
	ModeFIQ uint8 = 0b10001
	ModeIRQ uint8 = 0b10010
	ModeSVC uint8 = 0b10011
	ModeABT uint8 = 0b10111
	ModeUND uint8 = 0b11011
	ModeSYS uint8 = 0b11111
)

// CPSR flag/control bit positions.
const (
	flagN uint32 = 1 << 31
	flagZ uint32 = 1 << 30
	flagC uint32 = 1 << 29
	flagV uint32 = 1 << 28
	bitI  uint32 = 1 << 7
	bitF  uint32 = 1 << 6
	bitT  uint32 = 1 << 5
)

// registers holds the full banked register file. R8-R14 bank per mode
// (FIQ banks R8-R14, the rest bank only R13/R14), so each bank is a
// distinct field rather than a single array that gets swapped on a mode
// change; get/set resolve the live bank from the CPSR mode bits.
type registers struct {
	r [8]uint32 // R0-R7, shared by every mode

	r8_12     [5]uint32 // R8-R12, User/System/SVC/ABT/UND/IRQ bank
	r8_12_fiq [5]uint32 // R8-R12, FIQ bank

	spUsr, lrUsr uint32
	spSvc, lrSvc uint32
	spAbt, lrAbt uint32
	spUnd, lrUnd uint32
	spIrq, lrIrq uint32
	spFiq, lrFiq uint32

	pc uint32

	cpsr uint32

	spsrSvc, spsrAbt, spsrUnd, spsrIrq, spsrFiq uint32
}

func newRegisters() *registers {
	r := &registers{}
	r.cpsr = uint32(ModeSVC) | bitI | bitF
	return r
}

func (r *registers) mode() uint8 { return uint8(r.cpsr & 0x1F) }

func (r *registers) setMode(mode uint8) {
	r.cpsr = (r.cpsr &^ 0x1F) | uint32(mode)
}

func (r *registers) isThumb() bool    { return r.cpsr&bitT != 0 }
func (r *registers) setThumb(v bool) {
	if v {
		r.cpsr |= bitT
	} else {
		r.cpsr &^= bitT
	}
}

func (r *registers) irqDisabled() bool { return r.cpsr&bitI != 0 }
func (r *registers) setIRQDisabled(v bool) {
	if v {
		r.cpsr |= bitI
	} else {
		r.cpsr &^= bitI
	}
}

func (r *registers) fiqDisabled() bool { return r.cpsr&bitF != 0 }
func (r *registers) setFIQDisabled(v bool) {
	if v {
		r.cpsr |= bitF
	} else {
		r.cpsr &^= bitF
	}
}

func (r *registers) flagN() bool { return r.cpsr&flagN != 0 }
func (r *registers) flagZ() bool { return r.cpsr&flagZ != 0 }
func (r *registers) flagC() bool { return r.cpsr&flagC != 0 }
func (r *registers) flagV() bool { return r.cpsr&flagV != 0 }

func (r *registers) setFlags(n, z, c, v bool) {
	r.cpsr &^= flagN | flagZ | flagC | flagV
	if n {
		r.cpsr |= flagN
	}
	if z {
		r.cpsr |= flagZ
	}
	if c {
		r.cpsr |= flagC
	}
	if v {
		r.cpsr |= flagV
	}
}

func (r *registers) setFlagsNZ(result uint32) {
	r.setFlags(result&0x80000000 != 0, result == 0, r.flagC(), r.flagV())
}

// get returns R0-R15 for the current mode. Reading R15 returns the raw pc
// field; PC-as-operand adjustment (+8 ARM / +4 Thumb) is the caller's job,
// since it depends on which instruction word is currently executing.
func (r *registers) get(n uint8) uint32 {
	if n == 15 {
		return r.pc
	}
	if n < 8 {
		return r.r[n]
	}
	if n == 13 {
		return r.getBankedSP(r.mode())
	}
	if n == 14 {
		return r.getBankedLR(r.mode())
	}
	if r.mode() == ModeFIQ {
		return r.r8_12_fiq[n-8]
	}
	return r.r8_12[n-8]
}

func (r *registers) set(n uint8, v uint32) {
	if n == 15 {
		r.pc = v
		return
	}
	if n < 8 {
		r.r[n] = v
		return
	}
	if n == 13 {
		r.setBankedSP(r.mode(), v)
		return
	}
	if n == 14 {
		r.setBankedLR(r.mode(), v)
		return
	}
	if r.mode() == ModeFIQ {
		r.r8_12_fiq[n-8] = v
		return
	}
	r.r8_12[n-8] = v
}

func (r *registers) getBankedSP(mode uint8) uint32 {
	switch mode {
	case ModeSVC:
		return r.spSvc
	case ModeABT:
		return r.spAbt
	case ModeUND:
		return r.spUnd
	case ModeIRQ:
		return r.spIrq
	case ModeFIQ:
		return r.spFiq
	default:
		return r.spUsr
	}
}

func (r *registers) setBankedSP(mode uint8, v uint32) {
	switch mode {
	case ModeSVC:
		r.spSvc = v
	case ModeABT:
		r.spAbt = v
	case ModeUND:
		r.spUnd = v
	case ModeIRQ:
		r.spIrq = v
	case ModeFIQ:
		r.spFiq = v
	default:
		r.spUsr = v
	}
}

func (r *registers) getBankedLR(mode uint8) uint32 {
	switch mode {
	case ModeSVC:
		return r.lrSvc
	case ModeABT:
		return r.lrAbt
	case ModeUND:
		return r.lrUnd
	case ModeIRQ:
		return r.lrIrq
	case ModeFIQ:
		return r.lrFiq
	default:
		return r.lrUsr
	}
}

func (r *registers) setBankedLR(mode uint8, v uint32) {
	switch mode {
	case ModeSVC:
		r.lrSvc = v
	case ModeABT:
		r.lrAbt = v
	case ModeUND:
		r.lrUnd = v
	case ModeIRQ:
		r.lrIrq = v
	case ModeFIQ:
		r.lrFiq = v
	default:
		r.lrUsr = v
	}
}

// getUser/setUser access the User-mode bank directly, used by the S-bit
// "user bank transfer" form of LDM/STM.
func (r *registers) getUser(n uint8) uint32 {
	if n < 8 {
		return r.r[n]
	}
	if n == 13 {
		return r.spUsr
	}
	if n == 14 {
		return r.lrUsr
	}
	return r.r8_12[n-8]
}

func (r *registers) setUser(n uint8, v uint32) {
	if n < 8 {
		r.r[n] = v
		return
	}
	if n == 13 {
		r.spUsr = v
		return
	}
	if n == 14 {
		r.lrUsr = v
		return
	}
	r.r8_12[n-8] = v
}

func (r *registers) hasSPSR() bool {
	switch r.mode() {
	case ModeSVC, ModeABT, ModeUND, ModeIRQ, ModeFIQ:
		return true
	}
	return false
}

func (r *registers) getSPSR() uint32 {
	switch r.mode() {
	case ModeSVC:
		return r.spsrSvc
	case ModeABT:
		return r.spsrAbt
	case ModeUND:
		return r.spsrUnd
	case ModeIRQ:
		return r.spsrIrq
	case ModeFIQ:
		return r.spsrFiq
	default:
		return r.cpsr
	}
}

func (r *registers) setSPSR(v uint32) {
	switch r.mode() {
	case ModeSVC:
		r.spsrSvc = v
	case ModeABT:
		r.spsrAbt = v
	case ModeUND:
		r.spsrUnd = v
	case ModeIRQ:
		r.spsrIrq = v
	case ModeFIQ:
		r.spsrFiq = v
	}
}
