package cartridge

import "fmt"

// Header is the parsed subset of the 192-byte GBA ROM header the core
// cares about. Logo data and reserved fields are ignored; only
// title/code/maker/checksum are surfaced to the rest of the engine.
type Header struct {
	Title      string
	GameCode   string
	MakerCode  string
	Checksum   byte
	Valid      bool
}

const (
	headerTitleOff  = 0xA0
	headerTitleLen  = 12
	headerCodeOff   = 0xAC
	headerCodeLen   = 4
	headerMakerOff  = 0xB0
	headerMakerLen  = 2
	headerChecksum  = 0xBD
	headerRegionEnd = 0xBC // checksum covers bytes [0xA0, 0xBC)
)

// ParseHeader reads the header fields out of a ROM image and validates the
// header checksum. A mismatched checksum does not prevent boot;
// the caller observes it via Header.Valid.
func ParseHeader(rom []byte) (Header, error) {
	if len(rom) < 0xC0 {
		return Header{}, fmt.Errorf("cartridge: ROM truncated, have %d bytes, need at least 0xC0", len(rom))
	}

	h := Header{
		Title:     trimTitle(rom[headerTitleOff : headerTitleOff+headerTitleLen]),
		GameCode:  string(rom[headerCodeOff : headerCodeOff+headerCodeLen]),
		MakerCode: string(rom[headerMakerOff : headerMakerOff+headerMakerLen]),
		Checksum:  rom[headerChecksum],
	}

	var sum int32
	for _, b := range rom[headerTitleOff:headerRegionEnd] {
		sum += int32(b)
	}
	computed := byte((-0x19 - sum) & 0xFF)
	h.Valid = computed == h.Checksum
	return h, nil
}

func trimTitle(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}
