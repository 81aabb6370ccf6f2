package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"goba/internal/config"
	"goba/internal/frontend/audio"
	"goba/internal/frontend/terminal"
	"goba/internal/frontend/window"
	"goba/internal/gba/system"
	"goba/internal/logx"
)

func main() {
	app := cli.NewApp()
	app.Name = "goba"
	app.Usage = "goba [options] <ROM file>"
	app.Description = "A Game Boy Advance emulator core"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rom",
			Usage: "Path to the ROM file",
		},
		cli.StringFlag{
			Name:  "save",
			Usage: "Path to the save file (default: <rom>.sav)",
		},
		cli.StringFlag{
			Name:  "frontend",
			Usage: "Presentation backend: window, terminal, or headless",
			Value: "window",
		},
		cli.IntFlag{
			Name:  "scale",
			Usage: "Integer window scale factor",
			Value: 3,
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "Number of frames to run in headless mode",
			Value: 0,
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable debug logging",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "goba:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	romPath := c.String("rom")
	if romPath == "" {
		if c.NArg() > 0 {
			romPath = c.Args().Get(0)
		} else {
			cli.ShowAppHelp(c)
			return errors.New("no ROM path provided")
		}
	}

	frontendKind, err := config.ParseFrontend(c.String("frontend"))
	if err != nil {
		return err
	}

	cfg := config.Config{
		ROMPath:        romPath,
		SavePath:       c.String("save"),
		Frontend:       frontendKind,
		Scale:          c.Int("scale"),
		HeadlessFrames: c.Int("frames"),
		Verbose:        c.Bool("verbose"),
	}
	if cfg.SavePath == "" {
		cfg.SavePath = config.DefaultSavePath(cfg.ROMPath)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logx.Nop()
	if cfg.Verbose {
		log = logx.Stderr()
	}

	rom, err := config.ReadROM(cfg.ROMPath)
	if err != nil {
		return err
	}
	save, err := config.ReadSave(cfg.SavePath)
	if err != nil {
		return err
	}

	sys := system.New(log)
	if err := sys.LoadROM(rom); err != nil {
		return err
	}
	if save != nil {
		if err := sys.LoadSave(save); err != nil {
			return err
		}
	}

	info := sys.ROMInfo()
	log.Infof("loaded %q (%s)", info.Title, info.GameCode)

	player, err := audio.New(sys)
	if err != nil {
		log.Warnf("audio: %v, running muted", err)
	} else {
		player.Start()
		defer player.Close()
	}

	var crash *system.CrashReport
	switch cfg.Frontend {
	case config.FrontendHeadless:
		crash = runHeadless(sys, cfg.HeadlessFrames)
	case config.FrontendTerminal:
		rend, err := terminal.New(sys)
		if err != nil {
			return err
		}
		crash = rend.Run()
	default:
		win := window.New(sys, cfg.Scale)
		if err := win.Run("goba - " + info.Title); err != nil {
			return err
		}
		crash = sys.CrashReport()
	}

	if crash != nil {
		log.Warnf("core halted: %s at pc=%#08x", crash.Reason, crash.PC)
	}

	if sys.SaveDirty() {
		if err := config.WriteSave(cfg.SavePath, sys.SaveData()); err != nil {
			return err
		}
	}
	return nil
}

func runHeadless(sys *system.System, frames int) *system.CrashReport {
	for f := 0; f < frames; f++ {
		for !sys.FrameReady() {
			if sys.Step() == 0 {
				return sys.CrashReport()
			}
		}
		sys.ResetFrameReady()
	}
	return sys.CrashReport()
}
