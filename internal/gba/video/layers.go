package video

// bgMapDims returns the tiled-background map dimensions in tiles for a
// BGxCNT screen-size field.
func bgMapDims(size uint16) (width, height int) {
	switch size {
	case 0:
		return 32, 32
	case 1:
		return 64, 32
	case 2:
		return 32, 64
	default:
		return 64, 64
	}
}

// bgScreenBlock resolves a tile coordinate to the 2KB screen block holding
// its map entry, for background sizes built from more than one block.
func bgScreenBlock(size uint16, tileX, tileY int) (block, localX, localY int) {
	switch size {
	case 0:
		return 0, tileX, tileY
	case 1:
		return tileX / 32, tileX % 32, tileY
	case 2:
		return tileY / 32, tileX, tileY % 32
	default:
		bx, by := tileX/32, tileY/32
		return by*2 + bx, tileX % 32, tileY % 32
	}
}

// renderTiledBG renders one scanline of a text-mode background (mode 0's
// four layers, or BG0/BG1 in mode 1),
func (u *Unit) renderTiledBG(bg, y int, out *[Width]layerPixel) {
	cnt := u.regs.bgcnt[bg]
	priority := uint8(cnt & 0x3)
	charBase := uint32((cnt>>2)&0x3) * 0x4000
	colorMode256 := cnt&0x80 != 0
	screenBase := uint32((cnt>>8)&0x1F) * 0x800
	sizeSel := (cnt >> 14) & 0x3

	widthTiles, heightTiles := bgMapDims(sizeSel)
	scrollX := int(u.regs.bghofs[bg])
	scrollY := int(u.regs.bgvofs[bg])
	mapY := (y + scrollY) % (heightTiles * 8)
	if mapY < 0 {
		mapY += heightTiles * 8
	}

	for x := 0; x < Width; x++ {
		mapX := (x + scrollX) % (widthTiles * 8)
		if mapX < 0 {
			mapX += widthTiles * 8
		}
		tileX, tileY := mapX/8, mapY/8
		block, lx, ly := bgScreenBlock(sizeSel, tileX, tileY)
		entryAddr := screenBase + uint32(block)*0x800 + uint32(ly*32+lx)*2
		entry := u.ReadVRAM16(entryAddr)

		tileIndex := entry & 0x3FF
		hflip := entry&0x400 != 0
		vflip := entry&0x800 != 0
		palBank := (entry >> 12) & 0xF

		px, py := mapX%8, mapY%8
		if hflip {
			px = 7 - px
		}
		if vflip {
			py = 7 - py
		}

		var colorIndex uint8
		var paletteAddr uint32
		if colorMode256 {
			tileAddr := charBase + uint32(tileIndex)*64 + uint32(py)*8 + uint32(px)
			colorIndex = u.ReadVRAM8(tileAddr)
			paletteAddr = uint32(colorIndex) * 2
		} else {
			tileAddr := charBase + uint32(tileIndex)*32 + uint32(py)*4 + uint32(px/2)
			b := u.ReadVRAM8(tileAddr)
			if px%2 == 0 {
				colorIndex = b & 0xF
			} else {
				colorIndex = b >> 4
			}
			paletteAddr = (uint32(palBank)*16 + uint32(colorIndex)) * 2
		}

		if colorIndex == 0 {
			out[x] = layerPixel{}
			continue
		}
		out[x] = layerPixel{color: u.ReadPalette16(paletteAddr), opaque: true, priority: priority}
	}
}

// affineMapSize returns the square map size, in tiles, for an affine
// background's BGxCNT screen-size field.
func affineMapSize(size uint16) int {
	switch size {
	case 0:
		return 16
	case 1:
		return 32
	case 2:
		return 64
	default:
		return 128
	}
}

// renderAffineBG renders one scanline of an affine (rotate/scale)
// background. refIndex selects which of the two hardware affine reference
// blocks (BG2=0, BG3=1) drives this layer.
func (u *Unit) renderAffineBG(bg, refIndex, y int, out *[Width]layerPixel) {
	cnt := u.regs.bgcnt[bg]
	priority := uint8(cnt & 0x3)
	charBase := uint32((cnt>>2)&0x3) * 0x4000
	screenBase := uint32((cnt>>8)&0x1F) * 0x800
	sizeTiles := affineMapSize((cnt >> 14) & 0x3)
	sizePixels := sizeTiles * 8
	wrap := cnt&0x2000 != 0

	a := u.regs.bgAffine[refIndex]
	ref := u.affineRef[refIndex]

	for x := 0; x < Width; x++ {
		fx := ref.x + a.pa*int32(x)
		fy := ref.y + a.pc*int32(x)
		tx := int(fx >> 8)
		ty := int(fy >> 8)

		if tx < 0 || ty < 0 || tx >= sizePixels || ty >= sizePixels {
			if !wrap {
				out[x] = layerPixel{}
				continue
			}
			tx = ((tx % sizePixels) + sizePixels) % sizePixels
			ty = ((ty % sizePixels) + sizePixels) % sizePixels
		}

		tileX, tileY := tx/8, ty/8
		entryAddr := screenBase + uint32(tileY*sizeTiles+tileX)
		tileIndex := u.ReadVRAM8(entryAddr)

		px, py := tx%8, ty%8
		tileAddr := charBase + uint32(tileIndex)*64 + uint32(py)*8 + uint32(px)
		colorIndex := u.ReadVRAM8(tileAddr)
		if colorIndex == 0 {
			out[x] = layerPixel{}
			continue
		}
		out[x] = layerPixel{color: u.ReadPalette16(uint32(colorIndex) * 2), opaque: true, priority: priority}
	}
}

// renderBitmapMode3 renders mode 3: a single 240x160 direct 15-bit bitmap.
func (u *Unit) renderBitmapMode3(y int, out *[Width]layerPixel) {
	priority := uint8(u.regs.bgcnt[2] & 0x3)
	rowBase := uint32(y*Width) * 2
	for x := 0; x < Width; x++ {
		color := u.ReadVRAM16(rowBase + uint32(x)*2)
		out[x] = layerPixel{color: color, opaque: true, priority: priority}
	}
}

// renderBitmapMode4 renders mode 4: a double-buffered 240x160 8bpp
// palette-indexed bitmap selected by DISPCNT's frame-select bit.
func (u *Unit) renderBitmapMode4(y int, out *[Width]layerPixel) {
	priority := uint8(u.regs.bgcnt[2] & 0x3)
	frameBase := uint32(0)
	if u.regs.dispcnt&dispcntFrameSel != 0 {
		frameBase = 0xA000
	}
	rowBase := frameBase + uint32(y*Width)
	for x := 0; x < Width; x++ {
		idx := u.ReadVRAM8(rowBase + uint32(x))
		if idx == 0 {
			out[x] = layerPixel{}
			continue
		}
		out[x] = layerPixel{color: u.ReadPalette16(uint32(idx) * 2), opaque: true, priority: priority}
	}
}

// renderBitmapMode5 renders mode 5: a double-buffered 160x128 direct
// 15-bit bitmap; pixels outside its smaller bounds stay transparent.
func (u *Unit) renderBitmapMode5(y int, out *[Width]layerPixel) {
	const modeWidth, modeHeight = 160, 128
	priority := uint8(u.regs.bgcnt[2] & 0x3)
	if y >= modeHeight {
		for x := range out {
			out[x] = layerPixel{}
		}
		return
	}
	frameBase := uint32(0)
	if u.regs.dispcnt&dispcntFrameSel != 0 {
		frameBase = 0xA000
	}
	rowBase := frameBase + uint32(y*modeWidth)*2
	for x := 0; x < Width; x++ {
		if x >= modeWidth {
			out[x] = layerPixel{}
			continue
		}
		out[x] = layerPixel{color: u.ReadVRAM16(rowBase + uint32(x)*2), opaque: true, priority: priority}
	}
}
