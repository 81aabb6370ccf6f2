package video

// OAM layout constants.
const (
	oamEntrySize  = 8
	oamEntryCount = 128
)

// spriteDims maps a sprite's shape/size OAM fields to its pixel footprint.
var spriteDims = [4][4][2]int{
	0: {{8, 8}, {16, 16}, {32, 32}, {64, 64}},   // square
	1: {{16, 8}, {32, 8}, {32, 16}, {64, 32}},   // wide
	2: {{8, 16}, {8, 32}, {16, 32}, {32, 64}},   // tall
}

func (u *Unit) readSpriteAffineParam(group uint16, which int) int32 {
	entryIdx := int(group)*4 + which
	raw := u.ReadOAM16(uint32(entryIdx*oamEntrySize + 6))
	return int32(int16(raw))
}

// renderSprites composites all 128 OAM entries onto the scanline, in OAM
// index order from 127 down to 0 so that, at equal priority, the
// lowest-indexed sprite ends up drawn on top. OBJ-window
// sprites contribute only to winMask, never a visible pixel.
func (u *Unit) renderSprites(y int, out *[Width]layerPixel, semi *[Width]bool, winMask *[Width]bool) {
	mapping1D := u.regs.dispcnt&dispcnt1DMapping != 0

	for idx := oamEntryCount - 1; idx >= 0; idx-- {
		base := uint32(idx * oamEntrySize)
		attr0 := u.ReadOAM16(base)
		attr1 := u.ReadOAM16(base + 2)
		attr2 := u.ReadOAM16(base + 4)

		isAffine := attr0&0x100 != 0
		if !isAffine && attr0&0x200 != 0 {
			continue // disabled
		}
		doubleSize := isAffine && attr0&0x200 != 0

		shape := (attr0 >> 14) & 0x3
		if shape == 3 {
			continue // prohibited
		}
		sizeSel := (attr1 >> 14) & 0x3
		w, h := spriteDims[shape][sizeSel][0], spriteDims[shape][sizeSel][1]
		boxW, boxH := w, h
		if doubleSize {
			boxW, boxH = w*2, h*2
		}

		yCoord := int(attr0 & 0xFF)
		if yCoord >= Height {
			yCoord -= 256 // sprite wraps up from the bottom edge (Tonc-style OBJ placement)
		}
		if y < yCoord || y >= yCoord+boxH {
			continue
		}
		xCoord := int(attr1 & 0x1FF)
		if xCoord >= 256 {
			xCoord -= 512 // 9-bit field; top half is the negative range
		}

		objMode := (attr0 >> 10) & 0x3
		if objMode == 3 {
			continue
		}
		semiTransparent := objMode == 1
		isWindowSprite := objMode == 2

		colorMode256 := attr0&0x2000 != 0
		tileIndex := attr2 & 0x3FF
		priority := uint8((attr2 >> 10) & 0x3)
		palBank := (attr2 >> 12) & 0xF

		var pa, pb, pc, pd int32
		hflip, vflip := false, false
		if isAffine {
			group := (attr1 >> 9) & 0x1F
			pa = u.readSpriteAffineParam(group, 0)
			pb = u.readSpriteAffineParam(group, 1)
			pc = u.readSpriteAffineParam(group, 2)
			pd = u.readSpriteAffineParam(group, 3)
		} else {
			hflip = attr1&0x1000 != 0
			vflip = attr1&0x2000 != 0
		}

		localY := y - yCoord
		dy := localY - boxH/2

		for sx := 0; sx < boxW; sx++ {
			screenX := xCoord + sx
			if screenX < 0 || screenX >= Width {
				continue
			}
			dx := sx - boxW/2

			var texX, texY int
			if isAffine {
				fx := pa*int32(dx) + pb*int32(dy)
				fy := pc*int32(dx) + pd*int32(dy)
				texX = int(fx>>8) + w/2
				texY = int(fy>>8) + h/2
				if texX < 0 || texX >= w || texY < 0 || texY >= h {
					continue
				}
			} else {
				texX, texY = dx+w/2, dy+h/2
				if hflip {
					texX = w - 1 - texX
				}
				if vflip {
					texY = h - 1 - texY
				}
			}

			colorIndex, paletteAddr := u.spriteTexel(tileIndex, texX, texY, w, colorMode256, palBank, mapping1D)
			if colorIndex == 0 {
				continue
			}

			if isWindowSprite {
				winMask[screenX] = true
				continue
			}

			if !out[screenX].opaque || priority <= out[screenX].priority {
				out[screenX] = layerPixel{color: u.ReadPalette16(paletteAddr), opaque: true, priority: priority}
				semi[screenX] = semiTransparent
			}
		}
	}
}

// spriteTexel resolves a sprite-local pixel to its palette index and
// palette RAM address, honoring 1D/2D OBJ tile mapping and 4bpp/8bpp color
// depth.
func (u *Unit) spriteTexel(tileIndex uint16, texX, texY, widthPixels int, colorMode256 bool, palBank uint16, mapping1D bool) (uint8, uint32) {
	const objCharBase = 0x10000
	tileX, tileY := texX/8, texY/8
	subX, subY := texX%8, texY%8
	rowTiles := widthPixels / 8

	if colorMode256 {
		var tileOffset int
		if mapping1D {
			tileOffset = tileY*rowTiles + tileX
		} else {
			tileOffset = tileY*32 + tileX
		}
		addr := uint32(objCharBase) + (uint32(tileIndex)+uint32(tileOffset)*2)*32
		idx := u.ReadVRAM8(addr + uint32(subY*8+subX))
		if idx == 0 {
			return 0, 0
		}
		return idx, 0x200 + uint32(idx)*2
	}

	var tileOffset int
	if mapping1D {
		tileOffset = tileY*rowTiles + tileX
	} else {
		tileOffset = tileY*32 + tileX
	}
	addr := uint32(objCharBase) + (uint32(tileIndex)+uint32(tileOffset))*32
	b := u.ReadVRAM8(addr + uint32(subY*4+subX/2))
	var idx uint8
	if subX%2 == 0 {
		idx = b & 0xF
	} else {
		idx = b >> 4
	}
	if idx == 0 {
		return 0, 0
	}
	return idx, 0x200 + (uint32(palBank)*16+uint32(idx))*2
}
