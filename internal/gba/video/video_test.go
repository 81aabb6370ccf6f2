package video

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goba/internal/gba/interrupt"
)

type fakeRaiser struct {
	raised []uint16
}

func (r *fakeRaiser) Raise(bit uint16) { r.raised = append(r.raised, bit) }

type fakeDMA struct {
	hblanks, vblanks int
}

func (d *fakeDMA) OnHBlank() { d.hblanks++ }
func (d *fakeDMA) OnVBlank() { d.vblanks++ }

func TestHBlankFlagAndIRQFireAtHBlankCycle(t *testing.T) {
	u := New()
	u.WriteIO8(regDISPSTAT, byte(dispstatHBlankIRQ))
	irq := &fakeRaiser{}
	dma := &fakeDMA{}

	u.Tick(hblankCycle, irq, dma)
	assert.Equal(t, []uint16{interrupt.HBlank}, irq.raised)
	assert.Equal(t, 1, dma.hblanks)
}

func TestVBlankFlagAndIRQFireAfterVisibleLines(t *testing.T) {
	u := New()
	u.WriteIO8(regDISPSTAT, byte(dispstatVBlankIRQ))
	irq := &fakeRaiser{}
	dma := &fakeDMA{}

	u.Tick(cyclesPerLine*visibleLines, irq, dma)
	assert.Contains(t, irq.raised, interrupt.VBlank)
	assert.Equal(t, 1, dma.vblanks)
	assert.True(t, u.IsFrameReady())
}

func TestFrameReadyClearsOnResetAndScanlineWrapsAfterTotalLines(t *testing.T) {
	u := New()
	irq := &fakeRaiser{}
	u.Tick(cyclesPerLine*totalLines, irq, nil)
	assert.True(t, u.IsFrameReady())
	u.ResetFrameReady()
	assert.False(t, u.IsFrameReady())
	assert.Equal(t, uint16(0), u.VCount(), "scanline counter should have wrapped back to 0")
}

func TestVCountMatchRaisesIRQWhenEnabled(t *testing.T) {
	u := New()
	irq := &fakeRaiser{}
	// DISPSTAT high byte holds the VCount compare target; enable its IRQ too.
	u.WriteIO8(regDISPSTAT, byte(dispstatVCountIRQ))
	u.WriteIO8(regDISPSTAT+1, 5)

	u.Tick(cyclesPerLine*5, irq, nil)
	assert.Contains(t, irq.raised, interrupt.VCount)
}

func TestForceBlankPaintsBackdropAcrossWholeLine(t *testing.T) {
	u := New()
	u.WritePalette16(0, 0x1234)
	u.WriteIO8(regDISPCNT, byte(dispcntForceBlank))

	irq := &fakeRaiser{}
	u.Tick(cyclesPerLine, irq, nil)

	fb := u.Framebuffer()
	want := bgr555ToARGB(0x1234)
	for x := 0; x < Width; x++ {
		assert.Equal(t, want, fb[x])
	}
}

func TestPaletteWrite8DuplicatesAcrossHalfword(t *testing.T) {
	u := New()
	u.WritePalette8(4, 0xAB)
	assert.Equal(t, uint8(0xAB), u.ReadPalette8(4))
	assert.Equal(t, uint8(0xAB), u.ReadPalette8(5))
}

func TestVRAMWrite8DuplicatesInBGRegionButIgnoredInOBJRegion(t *testing.T) {
	u := New() // default mode 0, OBJ tiles start at 0x10000
	u.WriteVRAM8(0x100, 0x7E)
	assert.Equal(t, uint8(0x7E), u.ReadVRAM8(0x100))
	assert.Equal(t, uint8(0x7E), u.ReadVRAM8(0x101), "BG region duplicates the byte across the halfword")

	before := u.ReadVRAM8(0x10000)
	u.WriteVRAM8(0x10000, 0xFF)
	assert.Equal(t, before, u.ReadVRAM8(0x10000), "OBJ tile region ignores 8-bit writes")
}

func TestVRAMAddressMirrorsTopWindowOntoEarlierBlock(t *testing.T) {
	u := New()
	u.WriteVRAM16(0x10010, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), u.ReadVRAM16(0x18010), "top mirror window should fold back 0x8000 bytes")
}

func TestOAMWrite8IsIgnored(t *testing.T) {
	u := New()
	u.WriteOAM16(0, 0x1234)
	before := u.ReadOAM8(0)
	u.WriteOAM8(0, 0xFF)
	assert.Equal(t, before, u.ReadOAM8(0))
}

func TestBGScrollRegistersAreMaskedTo9Bits(t *testing.T) {
	u := New()
	u.WriteIO8(regBG0HOFS, 0xFF)
	u.WriteIO8(regBG0HOFS+1, 0xFF)
	assert.Equal(t, uint16(0x1FF), u.regs.bghofs[0])
}

func TestAffineReferencePointSignExtendsFrom28Bits(t *testing.T) {
	u := New()
	base := uint32(regBG2PA + 8) // BG2 refX field starts at offset 8 within the affine block
	u.writeAffineByte(base, 0xFF)
	u.writeAffineByte(base+1, 0xFF)
	u.writeAffineByte(base+2, 0xFF)
	u.writeAffineByte(base+3, 0x0F) // top nibble carries the sign bit within 28 bits
	assert.Equal(t, int32(-1), u.regs.bgAffine[0].refX)
}

func TestDisplayModeReadsDISPCNTLowThreeBits(t *testing.T) {
	u := New()
	u.WriteIO8(regDISPCNT, 0x05)
	assert.Equal(t, uint16(5), u.DisplayMode())
}

func TestRenderBitmapMode3CopiesVRAMDirectly(t *testing.T) {
	u := New()
	u.WriteIO8(regDISPCNT, 0x03) // mode 3
	u.WriteIO8(regDISPCNT+1, byte(dispcntBG2>>8))
	u.WriteVRAM16(0, 0x7FFF) // white

	irq := &fakeRaiser{}
	u.Tick(cyclesPerLine, irq, nil)

	fb := u.Framebuffer()
	assert.Equal(t, bgr555ToARGB(0x7FFF), fb[0])
}

func TestRenderBitmapMode4UsesFrameSelectForSecondBuffer(t *testing.T) {
	u := New()
	u.WritePalette16(2, 0x1F) // palette entry 1 (red, BGR555 low bits)
	u.WriteVRAM8(0xA000, 1)   // second frame's first pixel indexes palette 1
	u.WriteIO8(regDISPCNT, 0x04|byte(dispcntFrameSel)) // mode 4, frame select 1
	u.WriteIO8(regDISPCNT+1, byte(dispcntBG2>>8))

	irq := &fakeRaiser{}
	u.Tick(cyclesPerLine, irq, nil)

	fb := u.Framebuffer()
	assert.Equal(t, bgr555ToARGB(0x1F), fb[0])
}

func TestRenderTiledBGResolvesTileAndPalette(t *testing.T) {
	u := New()
	u.WriteIO8(regDISPCNT, 0x00) // mode 0
	u.WriteIO8(regDISPCNT+1, byte(dispcntBG0>>8))
	u.WriteIO8(regBG0CNT, 0) // char base 0, screen base 0, 4bpp, 32x32 map

	// screen entry at map (0,0): tile index 1, palette bank 0
	u.WriteVRAM16(0, 1)
	// tile 1, 4bpp: 32 bytes per tile; pixel (0,0) low nibble = color index 2
	u.WriteVRAM8(32, 0x02)
	// palette bank 0, color 2
	u.WritePalette16(2*2, 0x03FF)

	var out [Width]layerPixel
	u.renderTiledBG(0, 0, &out)
	assert.True(t, out[0].opaque)
	assert.Equal(t, uint16(0x03FF), out[0].color)
}

func TestIsVideoRegisterBoundsCheck(t *testing.T) {
	assert.True(t, IsVideoRegister(regDISPCNT))
	assert.True(t, IsVideoRegister(regBLDYEnd))
	assert.False(t, IsVideoRegister(regBLDYEnd+1))
}

func TestApplyBlendSkipsWhenTopLayerNotFirstTarget(t *testing.T) {
	u := New()
	u.regs.bldcnt = 1<<6 | 0x02 // mode=alpha, first target=BG1 only
	// top is BG0 (rank 0), which BLDCNT does not name as a first target.
	out := u.applyBlend(0x1F, 0x3E0, 0, 1, false)
	assert.Equal(t, bgr555ToARGB(0x1F), out, "a non-target top layer must pass through unblended")
}

func TestApplyBlendAlphaBlendsEligibleTargets(t *testing.T) {
	u := New()
	u.regs.bldcnt = 1<<6 | 0x01 | 0x02<<8 // mode=alpha, first=BG0, second=BG1
	u.regs.bldalpha = 8 | 8<<8            // eva=8, evb=8
	top := uint16(0x1F)                   // BG0: red
	bottom := uint16(0x3E0)                // BG1: green
	out := u.applyBlend(top, bottom, 0, 1, false)
	assert.Equal(t, uint32(0xFF7B7B00), out, "equal-weighted blend of red and green halves each channel")
}

func TestApplyBlendAlphaSkipsWhenBottomNotSecondTarget(t *testing.T) {
	u := New()
	u.regs.bldcnt = 1<<6 | 0x01 // mode=alpha, first=BG0, no second targets selected
	out := u.applyBlend(0x1F, 0x3E0, 0, 1, false)
	assert.Equal(t, bgr555ToARGB(0x1F), out, "alpha blend needs an eligible second-target layer beneath")
}

func TestApplyBlendSemiTransparentObjNeedsEligibleSecondTarget(t *testing.T) {
	u := New()
	u.regs.bldcnt = 2 << 6 // mode=brighten, no target bits set at all
	// A semi-transparent sprite (rank -1) forces alpha mode, but blending
	// still requires BG1 (rank 1) to be a selected second target.
	outNoTarget := u.applyBlend(0x1F, 0x3E0, -1, 1, true)
	assert.Equal(t, bgr555ToARGB(0x1F), outNoTarget, "forced alpha still needs a second-target layer")

	u.regs.bldcnt = 2<<6 | 0x02<<8 // second target=BG1
	u.regs.bldalpha = 8 | 8<<8
	outBlended := u.applyBlend(0x1F, 0x3E0, -1, 1, true)
	assert.Equal(t, uint32(0xFF7B7B00), outBlended, "forced alpha blends once the bottom layer is eligible")
}
