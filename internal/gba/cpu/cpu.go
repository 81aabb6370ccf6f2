package cpu

// Bus is the narrow memory surface the interpreter drives each step.
type Bus interface {
	Read8(addr uint32) uint8
	Write8(addr uint32, v uint8)
	Read16(addr uint32, wordCountHint int) uint16
	Write16(addr uint32, v uint16, wordCountHint int)
	Read32(addr uint32) uint32
	Write32(addr uint32, v uint32)
	FetchInstruction(addr uint32, width int) uint32
	CyclesFor(addr uint32, width int) int
	NotePC(pc uint32)
	HaltWakePending() bool
	InterruptPending() bool
}

// SWIHandler intercepts a software interrupt with a high-level emulation of
// the firmware call it names, instead of taking the real SVC exception.
type SWIHandler func(c *CPU, comment uint32)

// Exception vectors.
const (
	vectorUndefined = 0x00000004
	vectorSWI       = 0x00000008
	vectorIRQ       = 0x00000018
)

// CPU is the ARM7TDMI interpreter core.
type CPU struct {
	r       *registers
	bus     Bus
	halted  bool
	swi     SWIHandler
	cycles  uint64
}

func New(bus Bus) *CPU {
	return &CPU{r: newRegisters(), bus: bus}
}

// SetSWIHandler installs a high-level BIOS call dispatcher; nil restores
// real SVC exception entry.
func (c *CPU) SetSWIHandler(h SWIHandler) { c.swi = h }

// Reset sets the CPU to the post-power-on state: Supervisor mode, IRQ/FIQ
// disabled, ARM state, PC at the firmware entry point.
func (c *CPU) Reset() {
	c.r = newRegisters()
	c.r.pc = 0
	c.r.setIRQDisabled(true)
	c.r.setFIQDisabled(true)
	c.halted = false
}

// Halt puts the CPU to sleep until an enabled interrupt is latched; called
// by the SWI handler servicing Halt/Stop/IntrWait BIOS calls.
func (c *CPU) Halt() { c.halted = true }

// PC returns the raw program counter (the address of the next instruction
// to fetch), used by debuggers and the firmware layer.
func (c *CPU) PC() uint32 { return c.r.pc }

func (c *CPU) SetPC(addr uint32) { c.r.pc = addr }

func (c *CPU) Reg(n uint8) uint32       { return c.r.get(n) }
func (c *CPU) SetReg(n uint8, v uint32) { c.r.set(n, v) }
func (c *CPU) CPSR() uint32             { return c.r.cpsr }
func (c *CPU) IsThumb() bool            { return c.r.isThumb() }

// SetMode switches the active processor mode, used by the facade to seed
// each mode's banked stack pointer at direct-boot time.
func (c *CPU) SetMode(mode uint8) { c.r.setMode(mode) }

// SetBankedSP writes a mode's banked R13 directly, regardless of the
// currently active mode.
func (c *CPU) SetBankedSP(mode uint8, v uint32) { c.r.setBankedSP(mode, v) }

func (c *CPU) SetIRQDisabled(v bool) { c.r.setIRQDisabled(v) }

// Step advances the interpreter by exactly one instruction (or one
// exception-entry / halted tick) and returns its cycle cost.
func (c *CPU) Step() int {
	c.bus.NotePC(c.r.pc)

	if c.halted {
		if !c.bus.HaltWakePending() {
			return 1
		}
		c.halted = false
	}

	if c.bus.InterruptPending() && !c.r.irqDisabled() {
		c.enterIRQ()
		return 3
	}

	width := 4
	if c.r.isThumb() {
		width = 2
	}
	addr := c.r.pc &^ uint32(width-1)

	instr := c.bus.FetchInstruction(addr, width)
	cycles := c.bus.CyclesFor(addr, width*8)
	c.r.pc = addr + uint32(width)

	if width == 4 {
		c.executeARM(instr)
	} else {
		c.executeThumb(uint16(instr))
	}

	c.cycles += uint64(cycles)
	return cycles
}

// enterIRQ takes the IRQ exception. pc already holds the address of the
// instruction that would have been fetched next; the +4 LR offset is the
// fixed convention IRQ return sequences ("SUBS PC,LR,#4") expect.
func (c *CPU) enterIRQ() {
	c.enterException(ModeIRQ, vectorIRQ, c.r.pc+4, true)
}

// enterException is the shared exception-entry sequence: bank SPSR from
// the current CPSR, switch mode, force ARM state, disable IRQ when
// disableIRQ is set, and branch to vector. The FIQ-disable bit is left as
// it was.
func (c *CPU) enterException(mode uint8, vector, lr uint32, disableIRQ bool) {
	oldCPSR := c.r.cpsr
	c.r.setMode(mode)
	c.r.setSPSR(oldCPSR)
	c.r.setThumb(false)
	if disableIRQ {
		c.r.setIRQDisabled(true)
	}
	c.r.set(14, lr)
	c.r.pc = vector
}

// returnFromException restores CPSR from the current mode's SPSR and loads
// pc, used by MOVS/LDM-with-PC forms that write PC while S is set. The
// restored T bit decides the alignment mask, not the mode being left:
// returning into Thumb state must keep bit 1 of the target address.
func (c *CPU) returnFromException(newPC uint32) {
	if c.r.hasSPSR() {
		c.r.cpsr = c.r.getSPSR()
	}
	if c.r.isThumb() {
		newPC &^= 1
	} else {
		newPC &^= 3
	}
	c.r.pc = newPC
}

// pcOperand is R15 as read by an instruction operand: the fetch address of
// the currently executing instruction, plus two instruction widths (the
// ARM7TDMI's three-stage pipeline effect).
func (c *CPU) pcOperand() uint32 {
	if c.r.isThumb() {
		return c.r.pc + 2
	}
	return c.r.pc + 4
}

func (c *CPU) checkCondition(cond uint32) bool {
	n, z, cy, v := c.r.flagN(), c.r.flagZ(), c.r.flagC(), c.r.flagV()
	switch cond {
	case 0x0:
		return z
	case 0x1:
		return !z
	case 0x2:
		return cy
	case 0x3:
		return !cy
	case 0x4:
		return n
	case 0x5:
		return !n
	case 0x6:
		return v
	case 0x7:
		return !v
	case 0x8:
		return cy && !z
	case 0x9:
		return !cy || z
	case 0xA:
		return n == v
	case 0xB:
		return n != v
	case 0xC:
		return !z && n == v
	case 0xD:
		return z || n != v
	case 0xE:
		return true
	default:
		return false
	}
}

// --- barrel shifter ---

// shiftLSL/shiftLSR/shiftASR/shiftROR apply one of the four shift types to
// value, returning the result and the carry flag it produces. LSL by 0
// returns value and carryIn unchanged. With immediate set, an encoded
// amount of 0 means LSR #32, ASR #32 and RRX respectively. A register
// shift amount of 0 is special-cased by the caller (dpOperand2 returns the
// value and carry unchanged without calling these).
func shiftLSL(value uint32, amount uint32, carryIn bool) (uint32, bool) {
	switch {
	case amount == 0:
		return value, carryIn
	case amount < 32:
		return value << amount, (value>>(32-amount))&1 != 0
	case amount == 32:
		return 0, value&1 != 0
	default:
		return 0, false
	}
}

func shiftLSR(value uint32, amount uint32, immediate bool) (uint32, bool) {
	if amount == 0 {
		if immediate {
			return 0, value&0x80000000 != 0 // LSR #32
		}
		return value, false
	}
	if amount < 32 {
		return value >> amount, (value>>(amount-1))&1 != 0
	}
	if amount == 32 {
		return 0, value&0x80000000 != 0
	}
	return 0, false
}

func shiftASR(value uint32, amount uint32, immediate bool) (uint32, bool) {
	if amount == 0 {
		if immediate {
			amount = 32
		} else {
			return value, false
		}
	}
	if amount >= 32 {
		if value&0x80000000 != 0 {
			return 0xFFFFFFFF, true
		}
		return 0, false
	}
	return uint32(int32(value) >> amount), (value>>(amount-1))&1 != 0
}

func shiftROR(value uint32, amount uint32, immediate bool, carryIn bool) (uint32, bool) {
	if amount == 0 {
		if immediate {
			// ROR #0 encodes RRX: rotate right by 1 through the carry flag.
			carryOut := value&1 != 0
			result := value >> 1
			if carryIn {
				result |= 0x80000000
			}
			return result, carryOut
		}
		return value, carryIn
	}
	amount %= 32
	if amount == 0 {
		return value, value&0x80000000 != 0
	}
	return (value >> amount) | (value << (32 - amount)), (value>>(amount-1))&1 != 0
}

// --- arithmetic flags ---

func addCarry(a, b uint32) bool {
	return uint64(a)+uint64(b) > 0xFFFFFFFF
}

func addOverflow(a, b, result uint32) bool {
	return (a^result)&(b^result)&0x80000000 != 0
}

func subCarry(a, b uint32) bool { return a >= b }

func subOverflow(a, b, result uint32) bool {
	return (a^b)&(a^result)&0x80000000 != 0
}
