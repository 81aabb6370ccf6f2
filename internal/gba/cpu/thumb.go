package cpu

// executeThumb decodes and runs one 16-bit Thumb instruction. The 19
// standard encoding formats are distinguished by their leading bits;
// this mirrors the same operand/flag helpers the ARM decoder uses.
func (c *CPU) executeThumb(instr uint16) {
	switch {
	case instr&0xF800 == 0x1800: // format 2: add/subtract
		c.thumbAddSub(instr)
	case instr&0xE000 == 0x0000: // format 1: move shifted register
		c.thumbMoveShifted(instr)
	case instr&0xE000 == 0x2000: // format 3: move/compare/add/subtract immediate
		c.thumbImmediateOp(instr)
	case instr&0xFC00 == 0x4000: // format 4: ALU operations
		c.thumbALU(instr)
	case instr&0xFC00 == 0x4400: // format 5: hi register operations / BX
		c.thumbHiRegOp(instr)
	case instr&0xF800 == 0x4800: // format 6: PC-relative load
		c.thumbPCRelativeLoad(instr)
	case instr&0xF200 == 0x5000: // format 7: load/store with register offset
		c.thumbLoadStoreReg(instr)
	case instr&0xF200 == 0x5200: // format 8: load/store sign-extended byte/halfword
		c.thumbLoadStoreSigned(instr)
	case instr&0xE000 == 0x6000: // format 9: load/store with immediate offset
		c.thumbLoadStoreImm(instr)
	case instr&0xF000 == 0x8000: // format 10: load/store halfword
		c.thumbLoadStoreHalfword(instr)
	case instr&0xF000 == 0x9000: // format 11: SP-relative load/store
		c.thumbSPRelative(instr)
	case instr&0xF000 == 0xA000: // format 12: load address
		c.thumbLoadAddress(instr)
	case instr&0xFF00 == 0xB000: // format 13: add offset to SP
		c.thumbAddSPOffset(instr)
	case instr&0xF600 == 0xB400: // format 14: push/pop registers
		c.thumbPushPop(instr)
	case instr&0xF000 == 0xC000: // format 15: multiple load/store
		c.thumbMultipleTransfer(instr)
	case instr&0xFF00 == 0xDF00: // format 17: software interrupt
		c.execSWI(uint32(instr & 0xFF))
	case instr&0xF000 == 0xD000: // format 16: conditional branch
		c.thumbConditionalBranch(instr)
	case instr&0xF800 == 0xE000: // format 18: unconditional branch
		c.thumbUnconditionalBranch(instr)
	case instr&0xF000 == 0xF000: // format 19: long branch with link
		c.thumbLongBranchLink(instr)
	default:
		c.enterException(ModeUND, vectorUndefined, c.r.pc, true)
	}
}

func thumbRd(instr uint16) uint8 { return uint8(instr & 0x7) }
func thumbRs(instr uint16) uint8 { return uint8((instr >> 3) & 0x7) }

// format 1
func (c *CPU) thumbMoveShifted(instr uint16) {
	op := (instr >> 11) & 0x3
	offset := uint32((instr >> 6) & 0x1F)
	rs := c.r.get(thumbRs(instr))
	rd := thumbRd(instr)

	var result uint32
	var carry bool
	switch op {
	case 0:
		result, carry = shiftLSL(rs, offset, c.r.flagC())
	case 1:
		result, carry = shiftLSR(rs, offset, true)
	default:
		result, carry = shiftASR(rs, offset, true)
	}
	c.r.set(rd, result)
	c.r.setFlags(result&0x80000000 != 0, result == 0, carry, c.r.flagV())
}

// format 2
func (c *CPU) thumbAddSub(instr uint16) {
	immediate := instr&(1<<10) != 0
	subtract := instr&(1<<9) != 0
	rd := thumbRd(instr)
	a := c.r.get(thumbRs(instr))

	var b uint32
	if immediate {
		b = uint32((instr >> 6) & 0x7)
	} else {
		b = c.r.get(uint8((instr >> 6) & 0x7))
	}

	var result uint32
	var carry, overflow bool
	if subtract {
		result = a - b
		carry = subCarry(a, b)
		overflow = subOverflow(a, b, result)
	} else {
		result = a + b
		carry = addCarry(a, b)
		overflow = addOverflow(a, b, result)
	}
	c.r.set(rd, result)
	c.r.setFlags(result&0x80000000 != 0, result == 0, carry, overflow)
}

// format 3
func (c *CPU) thumbImmediateOp(instr uint16) {
	op := (instr >> 11) & 0x3
	rd := uint8((instr >> 8) & 0x7)
	imm := uint32(instr & 0xFF)
	a := c.r.get(rd)

	switch op {
	case 0: // MOV
		c.r.set(rd, imm)
		c.r.setFlags(false, imm == 0, c.r.flagC(), c.r.flagV())
	case 1: // CMP
		result := a - imm
		c.r.setFlags(result&0x80000000 != 0, result == 0, subCarry(a, imm), subOverflow(a, imm, result))
	case 2: // ADD
		result := a + imm
		c.r.set(rd, result)
		c.r.setFlags(result&0x80000000 != 0, result == 0, addCarry(a, imm), addOverflow(a, imm, result))
	default: // SUB
		result := a - imm
		c.r.set(rd, result)
		c.r.setFlags(result&0x80000000 != 0, result == 0, subCarry(a, imm), subOverflow(a, imm, result))
	}
}

// format 4
func (c *CPU) thumbALU(instr uint16) {
	op := (instr >> 6) & 0xF
	rs := c.r.get(thumbRs(instr))
	rd := thumbRd(instr)
	a := c.r.get(rd)

	var result uint32
	writes := true
	carry := c.r.flagC()
	overflow := c.r.flagV()

	switch op {
	case 0x0: // AND
		result = a & rs
	case 0x1: // EOR
		result = a ^ rs
	case 0x2: // LSL
		result, carry = shiftLSL(a, rs&0xFF, carry)
	case 0x3: // LSR
		amt := rs & 0xFF
		if amt == 0 {
			result = a
		} else {
			result, carry = shiftLSR(a, amt, true)
		}
	case 0x4: // ASR
		amt := rs & 0xFF
		if amt == 0 {
			result = a
		} else {
			result, carry = shiftASR(a, amt, true)
		}
	case 0x5: // ADC
		cin := uint32(0)
		if carry {
			cin = 1
		}
		result = a + rs + cin
		carry = addCarry(a, rs) || addCarry(a+rs, cin)
		overflow = addOverflow(a, rs, result)
	case 0x6: // SBC
		borrow := uint32(1)
		if carry {
			borrow = 0
		}
		result = a - rs - borrow
		carry = uint64(a) >= uint64(rs)+uint64(borrow)
		overflow = subOverflow(a, rs, result)
	case 0x7: // ROR
		amt := rs & 0xFF
		if amt == 0 {
			result = a
		} else {
			result, carry = shiftROR(a, amt, false, carry)
		}
	case 0x8: // TST
		result = a & rs
		writes = false
	case 0x9: // NEG
		result = 0 - rs
		carry = subCarry(0, rs)
		overflow = subOverflow(0, rs, result)
	case 0xA: // CMP
		result = a - rs
		carry = subCarry(a, rs)
		overflow = subOverflow(a, rs, result)
		writes = false
	case 0xB: // CMN
		result = a + rs
		carry = addCarry(a, rs)
		overflow = addOverflow(a, rs, result)
		writes = false
	case 0xC: // ORR
		result = a | rs
	case 0xD: // MUL
		result = a * rs
	case 0xE: // BIC
		result = a &^ rs
	default: // MVN
		result = ^rs
	}

	if writes {
		c.r.set(rd, result)
	}
	c.r.setFlags(result&0x80000000 != 0, result == 0, carry, overflow)
}

// format 5
func (c *CPU) thumbHiRegOp(instr uint16) {
	op := (instr >> 8) & 0x3
	h1 := instr&(1<<7) != 0
	h2 := instr&(1<<6) != 0
	rs := uint8((instr>>3)&0x7) + boolBank(h2)
	rd := thumbRd(instr) + boolBank(h1)

	a := c.operand(rd)
	b := c.operand(rs)

	switch op {
	case 0: // ADD
		c.r.set(rd, a+b)
		if rd == 15 {
			c.r.pc &^= 1
		}
	case 1: // CMP
		result := a - b
		c.r.setFlags(result&0x80000000 != 0, result == 0, subCarry(a, b), subOverflow(a, b, result))
	case 2: // MOV
		c.r.set(rd, b)
		if rd == 15 {
			c.r.pc &^= 1
		}
	default: // BX
		c.r.setThumb(b&1 != 0)
		c.r.pc = b &^ 1
	}
}

func boolBank(h bool) uint8 {
	if h {
		return 8
	}
	return 0
}

// format 6
func (c *CPU) thumbPCRelativeLoad(instr uint16) {
	rd := uint8((instr >> 8) & 0x7)
	word := uint32(instr&0xFF) << 2
	base := (c.pcOperand() &^ 3)
	c.r.set(rd, c.bus.Read32(base+word))
}

// format 7
func (c *CPU) thumbLoadStoreReg(instr uint16) {
	l := instr&(1<<11) != 0
	b := instr&(1<<10) != 0
	ro := c.r.get(uint8((instr >> 6) & 0x7))
	rb := c.r.get(uint8((instr >> 3) & 0x7))
	rd := thumbRd(instr)
	addr := rb + ro

	if l {
		if b {
			c.r.set(rd, uint32(c.bus.Read8(addr)))
		} else {
			c.r.set(rd, c.bus.Read32(addr))
		}
	} else {
		if b {
			c.bus.Write8(addr, uint8(c.r.get(rd)))
		} else {
			c.bus.Write32(addr, c.r.get(rd))
		}
	}
}

// format 8
func (c *CPU) thumbLoadStoreSigned(instr uint16) {
	h := instr&(1<<11) != 0
	s := instr&(1<<10) != 0
	ro := c.r.get(uint8((instr >> 6) & 0x7))
	rb := c.r.get(uint8((instr >> 3) & 0x7))
	rd := thumbRd(instr)
	addr := rb + ro

	switch {
	case !s && !h: // STRH
		c.bus.Write16(addr, uint16(c.r.get(rd)), 0)
	case !s && h: // LDRH
		c.r.set(rd, uint32(c.bus.Read16(addr, 0)))
	case s && !h: // LDSB
		c.r.set(rd, uint32(int32(int8(c.bus.Read8(addr)))))
	default: // LDSH
		c.r.set(rd, uint32(int32(int16(c.bus.Read16(addr, 0)))))
	}
}

// format 9
func (c *CPU) thumbLoadStoreImm(instr uint16) {
	b := instr&(1<<12) != 0
	l := instr&(1<<11) != 0
	offset := uint32((instr >> 6) & 0x1F)
	rb := c.r.get(uint8((instr >> 3) & 0x7))
	rd := thumbRd(instr)

	if b {
		addr := rb + offset
		if l {
			c.r.set(rd, uint32(c.bus.Read8(addr)))
		} else {
			c.bus.Write8(addr, uint8(c.r.get(rd)))
		}
		return
	}
	addr := rb + offset*4
	if l {
		c.r.set(rd, c.bus.Read32(addr))
	} else {
		c.bus.Write32(addr, c.r.get(rd))
	}
}

// format 10
func (c *CPU) thumbLoadStoreHalfword(instr uint16) {
	l := instr&(1<<11) != 0
	offset := uint32((instr>>6)&0x1F) * 2
	rb := c.r.get(uint8((instr >> 3) & 0x7))
	rd := thumbRd(instr)
	addr := rb + offset

	if l {
		c.r.set(rd, uint32(c.bus.Read16(addr, 0)))
	} else {
		c.bus.Write16(addr, uint16(c.r.get(rd)), 0)
	}
}

// format 11
func (c *CPU) thumbSPRelative(instr uint16) {
	l := instr&(1<<11) != 0
	rd := uint8((instr >> 8) & 0x7)
	word := uint32(instr&0xFF) << 2
	addr := c.r.get(13) + word

	if l {
		c.r.set(rd, c.bus.Read32(addr))
	} else {
		c.bus.Write32(addr, c.r.get(rd))
	}
}

// format 12
func (c *CPU) thumbLoadAddress(instr uint16) {
	sp := instr&(1<<11) != 0
	rd := uint8((instr >> 8) & 0x7)
	word := uint32(instr&0xFF) << 2

	if sp {
		c.r.set(rd, c.r.get(13)+word)
	} else {
		c.r.set(rd, (c.pcOperand()&^3)+word)
	}
}

// format 13
func (c *CPU) thumbAddSPOffset(instr uint16) {
	negative := instr&(1<<7) != 0
	offset := uint32(instr&0x7F) << 2
	sp := c.r.get(13)
	if negative {
		c.r.set(13, sp-offset)
	} else {
		c.r.set(13, sp+offset)
	}
}

// format 14
func (c *CPU) thumbPushPop(instr uint16) {
	pop := instr&(1<<11) != 0
	includeExtra := instr&(1<<8) != 0
	list := instr & 0xFF

	if pop {
		addr := c.r.get(13)
		for i := uint8(0); i < 8; i++ {
			if list&(1<<i) != 0 {
				c.r.set(i, c.bus.Read32(addr))
				addr += 4
			}
		}
		if includeExtra {
			c.r.pc = c.bus.Read32(addr) &^ 1
			addr += 4
		}
		c.r.set(13, addr)
		return
	}

	count := 0
	for i := uint8(0); i < 8; i++ {
		if list&(1<<i) != 0 {
			count++
		}
	}
	if includeExtra {
		count++
	}
	addr := c.r.get(13) - uint32(count)*4
	base := addr
	for i := uint8(0); i < 8; i++ {
		if list&(1<<i) != 0 {
			c.bus.Write32(addr, c.r.get(i))
			addr += 4
		}
	}
	if includeExtra {
		c.bus.Write32(addr, c.r.get(14))
	}
	c.r.set(13, base)
}

// format 15
func (c *CPU) thumbMultipleTransfer(instr uint16) {
	l := instr&(1<<11) != 0
	rb := uint8((instr >> 8) & 0x7)
	list := instr & 0xFF

	addr := c.r.get(rb)
	for i := uint8(0); i < 8; i++ {
		if list&(1<<i) == 0 {
			continue
		}
		if l {
			c.r.set(i, c.bus.Read32(addr))
		} else {
			c.bus.Write32(addr, c.r.get(i))
		}
		addr += 4
	}
	// LDMIA with the base register in the list already loaded rb from
	// memory above; writeback would overwrite that with the incremented
	// address, so it's suppressed for that case.
	if !(l && list&(1<<rb) != 0) {
		c.r.set(rb, addr)
	}
}

// format 16
func (c *CPU) thumbConditionalBranch(instr uint16) {
	cond := uint32((instr >> 8) & 0xF)
	if !c.checkCondition(cond) {
		return
	}
	offset := int32(int8(instr & 0xFF))
	c.r.pc = uint32(int32(c.pcOperand()) + offset*2)
}

// format 18
func (c *CPU) thumbUnconditionalBranch(instr uint16) {
	offset := instr & 0x7FF
	signed := int32(int16(offset<<5)) >> 5 // sign-extend 11 bits
	c.r.pc = uint32(int32(c.pcOperand()) + signed*2)
}

// format 19
func (c *CPU) thumbLongBranchLink(instr uint16) {
	low := instr&(1<<11) != 0
	offset := uint32(instr & 0x7FF)

	if !low {
		signed := int32(offset<<21) >> 21
		c.r.set(14, uint32(int32(c.pcOperand())+signed<<12))
		return
	}

	next := c.r.pc | 1
	target := c.r.get(14) + offset<<1
	c.r.pc = target
	c.r.set(14, next)
}
