package video

// bgr555ToARGB expands a 15-bit BGR555 color to ARGB32 with full alpha,
// matching the 5-bit-channel expansion mode-3 test expects.
func bgr555ToARGB(c uint16) uint32 {
	r := expand5((c) & 0x1F)
	g := expand5((c >> 5) & 0x1F)
	b := expand5((c >> 10) & 0x1F)
	return 0xFF000000 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func expand5(v uint16) uint8 {
	return uint8((v << 3) | (v >> 2))
}

type layerPixel struct {
	color    uint16
	opaque   bool
	priority uint8
}

// windowMask says which layers (and whether color effects) may draw at a
// given pixel.
type windowMask struct {
	bg    [4]bool
	obj   bool
	blend bool
}

var allEnabledMask = windowMask{bg: [4]bool{true, true, true, true}, obj: true, blend: true}

func maskFromWININ(v uint16) windowMask {
	return windowMask{
		bg:    [4]bool{v&1 != 0, v&2 != 0, v&4 != 0, v&8 != 0},
		obj:   v&0x10 != 0,
		blend: v&0x20 != 0,
	}
}

func (u *Unit) renderScanline(y int) {
	if u.regs.dispcnt&dispcntForceBlank != 0 {
		backdrop := bgr555ToARGB(u.ReadPalette16(0))
		for x := 0; x < Width; x++ {
			u.frame[y*Width+x] = backdrop
		}
		return
	}

	mode := u.DisplayMode()
	var bgLayers [4][Width]layerPixel
	bgActive := [4]bool{}

	switch mode {
	case 0:
		for bg := 0; bg < 4; bg++ {
			if u.regs.dispcnt&(dispcntBG0<<bg) != 0 {
				bgActive[bg] = true
				u.renderTiledBG(bg, y, &bgLayers[bg])
			}
		}
	case 1:
		for bg := 0; bg < 2; bg++ {
			if u.regs.dispcnt&(dispcntBG0<<bg) != 0 {
				bgActive[bg] = true
				u.renderTiledBG(bg, y, &bgLayers[bg])
			}
		}
		if u.regs.dispcnt&dispcntBG2 != 0 {
			bgActive[2] = true
			u.renderAffineBG(2, 0, y, &bgLayers[2])
		}
	case 2:
		if u.regs.dispcnt&dispcntBG2 != 0 {
			bgActive[2] = true
			u.renderAffineBG(2, 0, y, &bgLayers[2])
		}
		if u.regs.dispcnt&dispcntBG3 != 0 {
			bgActive[3] = true
			u.renderAffineBG(3, 1, y, &bgLayers[3])
		}
	case 3:
		if u.regs.dispcnt&dispcntBG2 != 0 {
			bgActive[2] = true
			u.renderBitmapMode3(y, &bgLayers[2])
		}
	case 4:
		if u.regs.dispcnt&dispcntBG2 != 0 {
			bgActive[2] = true
			u.renderBitmapMode4(y, &bgLayers[2])
		}
	case 5:
		if u.regs.dispcnt&dispcntBG2 != 0 {
			bgActive[2] = true
			u.renderBitmapMode5(y, &bgLayers[2])
		}
	}

	var sprites [Width]layerPixel
	var spriteSemi [Width]bool
	var spriteWindow [Width]bool
	if u.regs.dispcnt&dispcntOBJ != 0 {
		u.renderSprites(y, &sprites, &spriteSemi, &spriteWindow)
	}

	masks := u.computeWindowMasks(y, &spriteWindow)

	backdropColor := u.ReadPalette16(0)

	// advance affine reference points for the next scanline once this
	// line's pixels have been produced from the current values.
	for i := 0; i < 2; i++ {
		u.affineRef[i].x += u.regs.bgAffine[i].pb
		u.affineRef[i].y += u.regs.bgAffine[i].pd
	}

	for x := 0; x < Width; x++ {
		mask := masks[x]

		type candidate struct {
			priority uint8
			rank     int8 // tiebreak: lower wins; OBJ=-1, BG0..3=0..3, backdrop=4
			color    uint16
			isObj    bool
			semi     bool
		}
		best := candidate{priority: priorityBackdrop, rank: 4, color: backdropColor}
		second := best

		consider := func(c candidate) {
			if c.priority < best.priority || (c.priority == best.priority && c.rank < best.rank) {
				second = best
				best = c
			} else if c.priority < second.priority || (c.priority == second.priority && c.rank < second.rank) {
				second = c
			}
		}

		for bg := 0; bg < 4; bg++ {
			if !bgActive[bg] || !mask.bg[bg] {
				continue
			}
			p := bgLayers[bg][x]
			if p.opaque {
				consider(candidate{priority: p.priority, rank: int8(bg), color: p.color})
			}
		}
		if mask.obj {
			sp := sprites[x]
			if sp.opaque {
				consider(candidate{priority: sp.priority, rank: -1, color: sp.color, isObj: true, semi: spriteSemi[x]})
			}
		}

		out := bgr555ToARGB(best.color)
		if mask.blend {
			out = u.applyBlend(best.color, second.color, best.rank, second.rank, best.isObj && best.semi)
		}
		u.frame[y*Width+x] = out
	}
}

// computeWindowMasks evaluates WIN0 (highest priority), then WIN1, then the
// OBJ window, then the outside-all-windows mask, for every x on this line.
func (u *Unit) computeWindowMasks(y int, spriteWindow *[Width]bool) [Width]windowMask {
	var out [Width]windowMask
	win0On := u.regs.dispcnt&dispcntWin0 != 0
	win1On := u.regs.dispcnt&dispcntWin1 != 0
	winObjOn := u.regs.dispcnt&dispcntWinOBJ != 0
	anyWindow := win0On || win1On || winObjOn

	if !anyWindow {
		for x := range out {
			out[x] = allEnabledMask
		}
		return out
	}

	in0 := inWindowV(u.regs.win0v, y) && win0On
	in1 := inWindowV(u.regs.win1v, y) && win1On
	outsideMask := windowMask{
		bg:    [4]bool{u.regs.winout&1 != 0, u.regs.winout&2 != 0, u.regs.winout&4 != 0, u.regs.winout&8 != 0},
		obj:   u.regs.winout&0x10 != 0,
		blend: u.regs.winout&0x20 != 0,
	}
	objMask := windowMask{
		bg:    [4]bool{u.regs.winout&0x100 != 0, u.regs.winout&0x200 != 0, u.regs.winout&0x400 != 0, u.regs.winout&0x800 != 0},
		obj:   u.regs.winout&0x1000 != 0,
		blend: u.regs.winout&0x2000 != 0,
	}
	win0Mask := maskFromWININ(u.regs.winin)
	win1Mask := maskFromWININ(u.regs.winin >> 8)

	for x := 0; x < Width; x++ {
		switch {
		case in0 && inWindowH(u.regs.win0h, x):
			out[x] = win0Mask
		case in1 && inWindowH(u.regs.win1h, x):
			out[x] = win1Mask
		case winObjOn && spriteWindow[x]:
			out[x] = objMask
		default:
			out[x] = outsideMask
		}
	}
	return out
}

func inWindowH(reg uint16, x int) bool {
	left := int(reg >> 8)
	right := int(reg & 0xFF)
	if right > Width || right == 0 {
		right = Width
	}
	if left <= right {
		return x >= left && x < right
	}
	return x >= left || x < right // wraparound per hardware quirk
}

func inWindowV(reg uint16, y int) bool {
	top := int(reg >> 8)
	bottom := int(reg & 0xFF)
	if bottom > Height || bottom == 0 {
		bottom = Height
	}
	if top <= bottom {
		return y >= top && y < bottom
	}
	return y >= top || y < bottom
}

// layerBit maps a candidate's tiebreak rank (OBJ=-1, BG0..3=0..3,
// backdrop=4) to its bit position in BLDCNT's first-/second-target
// select fields (BG0..3, OBJ, BD in bits 0-5 / 8-13).
func layerBit(rank int8) uint8 {
	switch {
	case rank == -1:
		return 1 << 4
	case rank >= 0 && rank <= 3:
		return 1 << uint8(rank)
	default:
		return 1 << 5
	}
}

// applyBlend implements the four color-effect modes, gated by BLDCNT's
// first-/second-target layer selection: a layer only blends if it's one
// of the layers BLDCNT names for that role. A semi-transparent sprite
// pixel forces alpha blending regardless of BLDCNT's selected mode, but
// still needs an eligible second-target layer beneath it.
func (u *Unit) applyBlend(top, bottom uint16, topRank, bottomRank int8, forceAlpha bool) uint32 {
	firstTargets := uint8(u.regs.bldcnt & 0x3F)
	secondTargets := uint8((u.regs.bldcnt >> 8) & 0x3F)
	bottomIsSecond := secondTargets&layerBit(bottomRank) != 0

	mode := (u.regs.bldcnt >> 6) & 0x3
	switch {
	case forceAlpha && bottomIsSecond:
		mode = 1
	case forceAlpha:
		return bgr555ToARGB(top)
	case firstTargets&layerBit(topRank) == 0:
		return bgr555ToARGB(top)
	}

	switch mode {
	case 1: // alpha blend
		if !bottomIsSecond {
			return bgr555ToARGB(top)
		}
		eva := int32(u.regs.bldalpha & 0x1F)
		evb := int32((u.regs.bldalpha >> 8) & 0x1F)
		r := blendChan(int32(top&0x1F), int32(bottom&0x1F), eva, evb)
		g := blendChan(int32((top>>5)&0x1F), int32((bottom>>5)&0x1F), eva, evb)
		b := blendChan(int32((top>>10)&0x1F), int32((bottom>>10)&0x1F), eva, evb)
		return 0xFF000000 | uint32(expand5(uint16(r)))<<16 | uint32(expand5(uint16(g)))<<8 | uint32(expand5(uint16(b)))
	case 2: // brighten
		y := int32(u.regs.bldy & 0x1F)
		return bgr555ToARGB(brighten(top, y, true))
	case 3: // darken
		y := int32(u.regs.bldy & 0x1F)
		return bgr555ToARGB(brighten(top, y, false))
	default:
		return bgr555ToARGB(top)
	}
}

func blendChan(a, b, eva, evb int32) int32 {
	v := (a*eva + b*evb) / 16
	if v > 31 {
		v = 31
	}
	return v
}

func brighten(c uint16, coeff int32, up bool) uint16 {
	chan5 := func(v uint16) uint16 {
		cv := int32(v)
		if up {
			cv = cv + (31-cv)*coeff/16
		} else {
			cv = cv - cv*coeff/16
		}
		if cv < 0 {
			cv = 0
		}
		if cv > 31 {
			cv = 31
		}
		return uint16(cv)
	}
	r := chan5(c & 0x1F)
	g := chan5((c >> 5) & 0x1F)
	b := chan5((c >> 10) & 0x1F)
	return r | g<<5 | b<<10
}
