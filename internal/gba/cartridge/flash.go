package cartridge

// Flash variants.
const (
	Flash64K  = 64 * 1024
	Flash128K = 128 * 1024

	sectorSize = 4 * 1024

	cmdAddr1 = 0x5555
	cmdAddr2 = 0x2AAA
)

// flashState is the command automaton's state. Six named states cover the
// unlock/command/erase-unlock/erase-command progression; single-byte
// program and bank-select are one-shot actions taken directly out of
// readyForCommand and don't need dedicated persistent states of their own.
type flashState uint8

const (
	flashIdle flashState = iota
	flashUnlocked1
	flashReadyForCommand
	flashIDMode
	flashEraseUnlocked1
	flashEraseReadyForCommand
)

// Maker/device ID pairs for the two sizes the core emulates; values chosen
// to match the Macronix/Sanyo parts real GBA flash carts shipped with.
const (
	makerIDMacronix = 0xC2
	deviceID64K     = 0x1C
	deviceID128K    = 0x09
)

// Flash implements the 64KB/128KB SST/Macronix-style command flash used as
// one of the three mutually-exclusive save backings. Only one
// of {SRAM, Flash, EEPROM} is ever active per cartridge.
type Flash struct {
	data       []byte
	size       int
	state      flashState
	bank       int  // 128KB variant only: which 64KB bank is window-selected
	pendingOp  byte // 0xA0 (byte program) or 0xB0 (bank select) consumed on the next write
	dirty      bool
}

func NewFlash(size int) *Flash {
	f := &Flash{data: make([]byte, size), size: size}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	return f
}

func (f *Flash) bankOffset() int {
	if f.size == Flash128K {
		return f.bank * 0x10000
	}
	return 0
}

// Read8 returns flash contents, or maker/device IDs while in ID mode
// (reads at offsets 0/1 of the bank return maker/device per hardware).
func (f *Flash) Read8(addr uint32) uint8 {
	off := addr & 0xFFFF
	if f.state == flashIDMode {
		switch off {
		case 0:
			return makerIDMacronix
		case 1:
			if f.size == Flash128K {
				return deviceID128K
			}
			return deviceID64K
		}
	}
	idx := f.bankOffset() + int(off)
	if idx < 0 || idx >= len(f.data) {
		return 0xFF
	}
	return f.data[idx]
}

// Write8 feeds the command automaton, or, once pendingOp selects a direct
// action, performs the byte program / bank select it names. Any write
// outside the expected sequence returns the automaton to idle.
func (f *Flash) Write8(addr uint32, v uint8) {
	off := addr & 0xFFFF

	if f.pendingOp == 0xA0 {
		f.pendingOp = 0
		idx := f.bankOffset() + int(off)
		if idx >= 0 && idx < len(f.data) {
			f.data[idx] &= v // flash programming can only clear bits; matches real hardware AND semantics
			f.dirty = true
		}
		f.state = flashIdle
		return
	}
	if f.pendingOp == 0xB0 {
		f.pendingOp = 0
		f.bank = int(v) & 1
		f.state = flashIdle
		return
	}

	switch f.state {
	case flashIdle:
		if off == cmdAddr1 && v == 0xAA {
			f.state = flashUnlocked1
			return
		}
	case flashUnlocked1:
		if off == cmdAddr2 && v == 0x55 {
			f.state = flashReadyForCommand
			return
		}
	case flashReadyForCommand:
		switch v {
		case 0x90:
			f.state = flashIDMode
			return
		case 0xF0:
			f.state = flashIdle
			return
		case 0x80:
			f.state = flashEraseUnlocked1
			return
		case 0xA0:
			f.pendingOp = 0xA0
			return
		case 0xB0:
			if f.size == Flash128K {
				f.pendingOp = 0xB0
				return
			}
		}
	case flashIDMode:
		if v == 0xF0 {
			f.state = flashIdle
			return
		}
	case flashEraseUnlocked1:
		if off == cmdAddr1 && v == 0xAA {
			f.state = flashEraseReadyForCommand
			return
		}
	case flashEraseReadyForCommand:
		if off == cmdAddr2 && v == 0x55 {
			// stay, waiting for the final erase command byte
			return
		}
		if v == 0x10 && off == cmdAddr1 {
			f.chipErase()
			f.state = flashIdle
			return
		}
		if v == 0x30 {
			f.sectorErase(f.bankOffset() + int(off))
			f.state = flashIdle
			return
		}
	}
	f.state = flashIdle
}

func (f *Flash) chipErase() {
	for i := range f.data {
		f.data[i] = 0xFF
	}
	f.dirty = true
}

func (f *Flash) sectorErase(addr int) {
	base := (addr / sectorSize) * sectorSize
	end := base + sectorSize
	if end > len(f.data) {
		end = len(f.data)
	}
	for i := base; i < end; i++ {
		f.data[i] = 0xFF
	}
	f.dirty = true
}

func (f *Flash) Dirty() bool {
	d := f.dirty
	f.dirty = false
	return d
}

func (f *Flash) Snapshot() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

func (f *Flash) Load(blob []byte) {
	for i := range f.data {
		f.data[i] = 0xFF
	}
	copy(f.data, blob)
}
