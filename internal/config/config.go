// Package config resolves the handful of host-facing knobs (which ROM to
// load, which frontend to drive it with, save-file location) from CLI flags
// into one plain struct the rest of the program reads. The audio sample
// rate is not a flag; Validate fills in its default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Frontend selects which presentation backend cmd/goba wires up.
type Frontend string

const (
	FrontendWindow   Frontend = "window"
	FrontendTerminal Frontend = "terminal"
	FrontendHeadless Frontend = "headless"
)

// Config is the resolved set of run options for one emulator session.
type Config struct {
	ROMPath      string
	SavePath     string
	Frontend     Frontend
	Scale        int
	SampleRate   int
	HeadlessFrames int
	Verbose      bool
}

// Validate checks option combinations that can't be expressed as simple
// flag defaults (a ROM path is always required; headless mode needs a
// positive frame count).
func (c *Config) Validate() error {
	if c.ROMPath == "" {
		return fmt.Errorf("config: no ROM path provided")
	}
	if c.Frontend == FrontendHeadless && c.HeadlessFrames <= 0 {
		return fmt.Errorf("config: headless mode requires a positive frame count")
	}
	if c.Scale <= 0 {
		c.Scale = 1
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 32768
	}
	return nil
}

// DefaultSavePath derives a .sav sibling of the ROM file, the convention
// every GBA frontend uses for battery-backed save storage.
func DefaultSavePath(romPath string) string {
	ext := filepath.Ext(romPath)
	base := strings.TrimSuffix(romPath, ext)
	return base + ".sav"
}

// ParseFrontend validates a --frontend flag value.
func ParseFrontend(s string) (Frontend, error) {
	switch Frontend(s) {
	case FrontendWindow, FrontendTerminal, FrontendHeadless:
		return Frontend(s), nil
	default:
		return "", fmt.Errorf("config: unknown frontend %q (want window, terminal, or headless)", s)
	}
}

// ReadROM loads a ROM image from disk.
func ReadROM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return data, nil
}

// ReadSave loads an existing save blob, returning nil (not an error) if
// none exists yet.
func ReadSave(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	return data, nil
}

// WriteSave persists a save blob, creating the file if needed.
func WriteSave(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
