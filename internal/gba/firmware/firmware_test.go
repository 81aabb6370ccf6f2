package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goba/internal/gba/cpu"
)

// fakeMem backs both the firmware Memory surface and the CPU's Bus
// interface with a sparse byte map, little-endian, wide enough to address
// any spot a test cares about without allocating a full address space.
type fakeMem struct {
	m map[uint32]uint8
}

func newFakeMem() *fakeMem { return &fakeMem{m: make(map[uint32]uint8)} }

func (f *fakeMem) Read8(addr uint32) uint8  { return f.m[addr] }
func (f *fakeMem) Write8(addr uint32, v uint8) { f.m[addr] = v }

func (f *fakeMem) Read16(addr uint32, _ int) uint16 {
	return uint16(f.Read8(addr)) | uint16(f.Read8(addr+1))<<8
}
func (f *fakeMem) Write16(addr uint32, v uint16, _ int) {
	f.Write8(addr, uint8(v))
	f.Write8(addr+1, uint8(v>>8))
}

func (f *fakeMem) Read32(addr uint32) uint32 {
	return uint32(f.Read16(addr, 0)) | uint32(f.Read16(addr+2, 0))<<16
}
func (f *fakeMem) Write32(addr uint32, v uint32) {
	f.Write16(addr, uint16(v), 0)
	f.Write16(addr+2, uint16(v>>16), 0)
}

func (f *fakeMem) FetchInstruction(addr uint32, _ int) uint32 { return f.Read32(addr) }
func (f *fakeMem) CyclesFor(uint32, int) int                  { return 1 }
func (f *fakeMem) NotePC(uint32)                              {}
func (f *fakeMem) HaltWakePending() bool                      { return false }
func (f *fakeMem) InterruptPending() bool                     { return false }

func newTestCPU() (*cpu.CPU, *fakeMem) {
	mem := newFakeMem()
	return cpu.New(mem), mem
}

func TestSoftResetInvokesResetHandlerWithFlagsRegister(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	var got uint8
	d.SetResetHandler(func(flags uint8) { got = flags })

	c.SetReg(0, 0x42)
	d.Handle(c, svcSoftReset)
	assert.Equal(t, uint8(0x42), got)
}

func TestRegisterRAMResetSetsHighBitOnFlags(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	var got uint8
	d.SetResetHandler(func(flags uint8) { got = flags })

	c.SetReg(0, 0x01)
	d.Handle(c, svcRegisterRAMReset)
	assert.Equal(t, uint8(0x81), got)
}

func TestHaltRewindsPCByInstructionWidth(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	c.SetPC(0x08001000)
	d.Handle(c, svcHalt)
	assert.Equal(t, uint32(0x08000FFC), c.PC(), "ARM-mode SWI rewinds PC by 4")
}

func TestIntrWaitReturnsImmediatelyWhenFlagAlreadySetAndNotDiscarding(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	mem.Write16(regIF, 0x01, 0)
	pc := uint32(0x08001000)
	c.SetPC(pc)

	c.SetReg(0, 0) // don't discard
	c.SetReg(1, 0x01)
	d.Handle(c, svcIntrWait)

	assert.Equal(t, pc, c.PC(), "already-pending flag should return without halting")
	assert.Equal(t, uint16(0x01), mem.Read16(regIF, 0))
}

func TestIntrWaitHaltsWhenFlagNotYetSet(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	pc := uint32(0x08001000)
	c.SetPC(pc)

	c.SetReg(0, 0)
	c.SetReg(1, 0x02)
	d.Handle(c, svcIntrWait)

	assert.Equal(t, pc-4, c.PC())
}

func TestIntrWaitDiscardsAlreadySetFlagsWhenR0Nonzero(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	mem.Write16(regIF, 0x01, 0)
	pc := uint32(0x08001000)
	c.SetPC(pc)

	c.SetReg(0, 1) // discard
	c.SetReg(1, 0x01)
	d.Handle(c, svcIntrWait)

	assert.Equal(t, pc-4, c.PC(), "discard flag forces a wait for a fresh flag")
}

func TestVBlankIntrWaitAlwaysWaitsForNextFlag(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	mem.Write16(regIF, 0x01, 0) // vblank bit already pending
	pc := uint32(0x08001000)
	c.SetPC(pc)

	d.Handle(c, svcVBlankIntrWait)

	assert.Equal(t, pc-4, c.PC(), "VBlankIntrWait ignores a stale pending flag and waits for the next one")
}

func TestDivComputesQuotientRemainderAndAbsQuotient(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	c.SetReg(0, uint32(int32(-7)))
	c.SetReg(1, uint32(int32(2)))
	d.Handle(c, svcDiv)

	assert.Equal(t, int32(-3), int32(c.Reg(0)))
	assert.Equal(t, int32(-1), int32(c.Reg(1)))
	assert.Equal(t, uint32(3), c.Reg(3))
}

func TestDivByZeroReturnsDocumentedSpecialCase(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	c.SetReg(0, 55)
	c.SetReg(1, 0)
	d.Handle(c, svcDiv)

	assert.Equal(t, uint32(0), c.Reg(0))
	assert.Equal(t, uint32(55), c.Reg(1))
	assert.Equal(t, uint32(0), c.Reg(3))
}

func TestDivArmSwapsOperandRegisters(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	c.SetReg(1, uint32(int32(10)))
	c.SetReg(0, uint32(int32(3)))
	d.Handle(c, svcDivArm)

	assert.Equal(t, int32(3), int32(c.Reg(0)))
	assert.Equal(t, int32(1), int32(c.Reg(1)))
}

func TestSqrtComputesIntegerSquareRoot(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	c.SetReg(0, 16)
	d.Handle(c, svcSqrt)
	assert.Equal(t, uint32(4), c.Reg(0))
}

func TestArcTanConvertsFixedPointTangentToAngleUnits(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	c.SetReg(0, 16384) // 1.0 in 1.1.14, atan(1) = pi/4
	d.Handle(c, svcArcTan)
	assert.Equal(t, uint32(8192), c.Reg(0))
}

func TestArcTan2ResolvesSecondQuadrant(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	c.SetReg(0, uint32(uint16(int16(-16384)))) // x = -1.0
	c.SetReg(1, 0)                             // y = 0
	d.Handle(c, svcArcTan2)
	assert.Equal(t, uint32(32768), c.Reg(0))
}

func TestCpuSetWideCopiesWordsIncrementingBothPointers(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	mem.Write32(0x100, 0x11111111)
	mem.Write32(0x104, 0x22222222)

	c.SetReg(0, 0x100)
	c.SetReg(1, 0x200)
	c.SetReg(2, 2) // count=2, bits24/26 clear: wide copy
	d.Handle(c, svcCpuSet)

	assert.Equal(t, uint32(0x11111111), mem.Read32(0x200))
	assert.Equal(t, uint32(0x22222222), mem.Read32(0x204))
}

func TestCpuSetFixedSourceFillsRepeatedWord(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	mem.Write32(0x100, 0xABCDEF01)

	c.SetReg(0, 0x100)
	c.SetReg(1, 0x200)
	c.SetReg(2, 3|(1<<24)) // count=3, fixed source
	d.Handle(c, svcCpuSet)

	assert.Equal(t, uint32(0xABCDEF01), mem.Read32(0x200))
	assert.Equal(t, uint32(0xABCDEF01), mem.Read32(0x204))
	assert.Equal(t, uint32(0xABCDEF01), mem.Read32(0x208))
}

func TestCpuSetNarrowTransferUses16BitUnits(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	mem.Write16(0x100, 0xAAAA, 0)
	mem.Write16(0x102, 0xBBBB, 0)

	c.SetReg(0, 0x100)
	c.SetReg(1, 0x200)
	c.SetReg(2, 2|(1<<26)) // count=2, narrow transfer
	d.Handle(c, svcCpuSet)

	assert.Equal(t, uint16(0xAAAA), mem.Read16(0x200, 0))
	assert.Equal(t, uint16(0xBBBB), mem.Read16(0x202, 0))
}

func TestCpuFastSetRoundsCountUpToMultipleOfEight(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	for i := uint32(0); i < 8; i++ {
		mem.Write32(0x100+i*4, 0x1000+i)
	}

	c.SetReg(0, 0x100)
	c.SetReg(1, 0x200)
	c.SetReg(2, 1) // requested count of 1 still copies a full 8-word block
	d.Handle(c, svcCpuFastSet)

	for i := uint32(0); i < 8; i++ {
		assert.Equal(t, 0x1000+i, mem.Read32(0x200+i*4))
	}
}

func TestBitUnpackExpandsNibblesWithOffset(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	const params, src, dst = 0x300, 0x400, 0x500
	mem.Write16(params, 2, 0)    // 2 source elements
	mem.Write8(params+2, 4)     // 4-bit source width
	mem.Write8(params+3, 8)     // 8-bit destination width
	mem.Write32(params+4, 0x10) // offset 0x10, bit31 clear: add offset even on zero
	mem.Write8(src, 0x12)       // low nibble 0x2, high nibble 0x1

	c.SetReg(0, src)
	c.SetReg(1, dst)
	c.SetReg(2, params)
	d.Handle(c, svcBitUnPack)

	assert.Equal(t, uint32(0x1112), mem.Read32(dst))
}

func TestLZ77DecompressExpandsLiteralRun(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	const src, dst = 0x400, 0x500
	mem.Write32(src, 4<<8) // decompressed size 4
	mem.Write8(src+4, 0x00) // flags: all four tokens are literals
	mem.Write8(src+5, 'A')
	mem.Write8(src+6, 'B')
	mem.Write8(src+7, 'A')
	mem.Write8(src+8, 'B')

	c.SetReg(0, src)
	c.SetReg(1, dst)
	d.Handle(c, svcLZ77UnCompWRAM)

	assert.Equal(t, uint8('A'), mem.Read8(dst))
	assert.Equal(t, uint8('B'), mem.Read8(dst+1))
	assert.Equal(t, uint8('A'), mem.Read8(dst+2))
	assert.Equal(t, uint8('B'), mem.Read8(dst+3))
}

func TestLZ77DecompressExpandsBackReference(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	const src, dst = 0x400, 0x500
	mem.Write32(src, 4<<8)
	// token1 literal 'X', token2 backref length 3 / distance 1
	mem.Write8(src+4, 0x40) // bit7=0 (literal), bit6=1 (backref)
	mem.Write8(src+5, 'X')
	mem.Write8(src+6, 0x00) // b0: length nibble 0 -> length 3
	mem.Write8(src+7, 0x00) // b1: distance low byte 0 -> distance 1

	c.SetReg(0, src)
	c.SetReg(1, dst)
	d.Handle(c, svcLZ77UnCompWRAM)

	for i := uint32(0); i < 4; i++ {
		assert.Equal(t, uint8('X'), mem.Read8(dst+i))
	}
}

func TestRLDecompressHandlesCompressedAndRawRuns(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	const src, dst = 0x400, 0x500
	mem.Write32(src, 5<<8) // 3 compressed + 2 raw bytes
	mem.Write8(src+4, 0x80) // compressed run, length 0+3=3
	mem.Write8(src+5, 'Z')
	mem.Write8(src+6, 0x01) // raw run, length 1+1=2
	mem.Write8(src+7, 'Q')
	mem.Write8(src+8, 'R')

	c.SetReg(0, src)
	c.SetReg(1, dst)
	d.Handle(c, svcRLUnCompWRAM)

	want := []uint8{'Z', 'Z', 'Z', 'Q', 'R'}
	for i, w := range want {
		assert.Equal(t, w, mem.Read8(dst+uint32(i)))
	}
}

func TestDiffUnfilter8BitAccumulatesDeltas(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	const src, dst = 0x400, 0x500
	mem.Write32(src, 3<<8)
	mem.Write8(src+4, 10)
	mem.Write8(src+5, 10)
	mem.Write8(src+6, 10)

	c.SetReg(0, src)
	c.SetReg(1, dst)
	d.Handle(c, svcDiff8bitUnFilter)

	assert.Equal(t, uint8(10), mem.Read8(dst))
	assert.Equal(t, uint8(20), mem.Read8(dst+1))
	assert.Equal(t, uint8(30), mem.Read8(dst+2))
}

func TestSoundBiasSetsFixedHighBitsAlongsideLevel(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)

	c.SetReg(0, 0x180)
	d.Handle(c, svcSoundBias)

	assert.Equal(t, uint16(0x380), mem.Read16(regSoundBias, 0))
}

func TestMidiKey2FreqIsUnchangedAtReferenceKey(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	const waveData = 0x400
	mem.Write32(waveData+4, 22050)

	c.SetReg(0, waveData)
	c.SetReg(1, 180) // key chosen so the exponent (180-key-fine/256)/12 is 0
	c.SetReg(2, 0)
	d.Handle(c, svcMidiKey2Freq)

	assert.Equal(t, uint32(22050), c.Reg(0))
}

func TestHandleUnimplementedServiceIsANoOp(t *testing.T) {
	c, mem := newTestCPU()
	d := New(mem, nil, nil)
	c.SetReg(0, 0xDEAD)

	assert.NotPanics(t, func() { d.Handle(c, 0x1A) })
	assert.Equal(t, uint32(0xDEAD), c.Reg(0), "an unrecognized service call must not touch registers")
}
