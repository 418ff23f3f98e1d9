// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

// Command erc32sim runs the ERC32 instruction-set simulator against a
// ROM image, connecting UART A to the host terminal the way the teacher
// emulator connects its single console to stdin/stderr. UART B is left
// unconnected unless a device is given for it.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gmofishsauce/erc32sim"
	"github.com/gmofishsauce/erc32sim/internal/config"
)

var (
	cfgFile   string
	savedTerm *term.State
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "erc32sim: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "erc32sim",
		Short: "Cycle-accurate simulator for the SPARC ERC32 microcontroller",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML configuration file")

	runCmd := newRunCommand()
	root.AddCommand(runCmd)
	return root
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <rom-image>",
		Short: "Load a ROM image and run it to completion or a cycle limit",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	flags := cmd.Flags()
	flags.Uint32("rom-size", 1<<20, "ROM size in bytes, power of two")
	flags.Uint32("ram-size", 1<<22, "RAM size in bytes, power of two")
	flags.Uint32("ram-base", erc32.RAMBaseDflt, "RAM base address")
	flags.Bool("sparclite-board", false, "Select the SPARClite-style alternate RAM base (0x40000000) unless --ram-base is also given")
	flags.Bool("rom8-mode", false, "Treat ROM as an 8-bit-wide bus")
	flags.Bool("rom-write-protect", true, "Reject guest writes to ROM")
	flags.Uint32("freq-mhz", 16, "Nominal clock frequency, for reporting only")
	flags.String("uart-a-device", "", "Path to a file/fifo backing UART A (default: host terminal)")
	flags.String("uart-b-device", "", "Path to a file/fifo backing UART B (default: discarded)")
	flags.String("watchdog-trapd-window", "once-before-arm", `Watchdog MEC_TRAPD policy: "once-before-arm" or "always"`)
	flags.Int("verbose", 0, "Trace verbosity, 0-3")
	flags.String("trace", "", "Write execution trace to file")
	flags.Uint64("max-cycles", 0, "Stop after N cycles (0 = unlimited)")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	cfg.ROMImage = args[0]
	if cfg.SparcliteBoard && !cmd.Flags().Changed("ram-base") {
		cfg.RAMBase = erc32.RAMBaseLite
	}

	image, err := os.ReadFile(cfg.ROMImage)
	if err != nil {
		return fmt.Errorf("reading ROM image: %w", err)
	}

	mcfg := erc32.MachineConfig{
		ROMSize:                   cfg.ROMSize,
		RAMSize:                   cfg.RAMSize,
		RAMBase:                   cfg.RAMBase,
		ROM8Mode:                  cfg.ROM8Mode,
		ROMWriteProtect:           cfg.ROMWriteProtect,
		FreqMHz:                   cfg.FreqMHz,
		WatchdogTrapDisableWindow: cfg.WatchdogTrapDisableWindow,
		VerboseLevel:              cfg.VerboseLevel,
	}
	mcfg.UARTADevice = openUARTDevice(cfg.UARTADevice, os.Stdin, os.Stdout)
	mcfg.UARTBDevice = openUARTDevice(cfg.UARTBDevice, nil, nil)

	m, err := erc32.NewMachine(mcfg)
	if err != nil {
		return err
	}
	if err := m.LoadROM(image); err != nil {
		return err
	}

	if cfg.TraceFile != "" {
		f, err := os.Create(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("creating trace file: %w", err)
		}
		defer f.Close()
		m.SetTraceOutput(f)
	}

	if err := setupTerminal(); err != nil {
		return fmt.Errorf("setting up terminal: %w", err)
	}
	defer restoreTerminal()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		// Request an orderly stop at the next step_one boundary
		// (spec.md §5's ctrl_c contract) rather than tearing the
		// process down from this goroutine; RunUntilEvent below polls
		// m.StopRequested() and returns, letting the normal
		// terminal-restore/reporting path run on the main goroutine.
		m.RequestStop()
	}()

	m.Reset(0)

	start := time.Now()
	m.RunUntilEvent(cfg.MaxCycles)
	elapsed := time.Since(start)

	restoreTerminal()

	cycles := m.Scheduler.Now()
	fmt.Fprintf(os.Stderr, "\nerc32sim: halted after %d cycles in %v\n", cycles, elapsed.Round(time.Millisecond))
	if elapsed.Seconds() > 0 {
		fmt.Fprintf(os.Stderr, "erc32sim: %.3f simulated MHz\n", float64(cycles)/1_000_000.0/elapsed.Seconds())
	}
	if m.StopRequested() {
		os.Exit(130)
	}
	return nil
}

// stdioReadWriter pairs an independent reader and writer (stdin/stdout,
// neither of which alone is bidirectional in the general case) into a
// single io.ReadWriter for a UART's host side.
type stdioReadWriter struct {
	r io.Reader
	w io.Writer
}

func (s stdioReadWriter) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s stdioReadWriter) Write(p []byte) (int, error) { return s.w.Write(p) }

// defaultReadWriter combines whichever of defaultR/defaultW are non-nil
// into the fallback io.ReadWriter for "no explicit device configured".
func defaultReadWriter(defaultR, defaultW *os.File) io.ReadWriter {
	switch {
	case defaultR != nil && defaultW != nil:
		return stdioReadWriter{r: defaultR, w: defaultW}
	case defaultR != nil:
		return defaultR
	case defaultW != nil:
		return defaultW
	default:
		return nil
	}
}

// openUARTDevice opens path as a bidirectional UART backing file, or
// falls back to defaultR/defaultW (typically the host terminal's stdin
// for RX and stdout for TX, or a discard sink) when path is empty. It
// returns a plain io.ReadWriter, not *os.File, so that "no backing
// device at all" comes back as a true nil interface rather than an
// interface wrapping a nil *os.File (which UART.poll's `host != nil`
// check would see as present).
func openUARTDevice(path string, defaultR *os.File, defaultW *os.File) io.ReadWriter {
	if path == "" {
		return defaultReadWriter(defaultR, defaultW)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "erc32sim: opening %s: %v (falling back to default)\n", path, err)
		return defaultReadWriter(defaultR, defaultW)
	}
	return f
}

func setupTerminal() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	state, err := term.GetState(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	savedTerm = state
	_, err = term.MakeRaw(int(os.Stdin.Fd()))
	return err
}

func restoreTerminal() {
	if savedTerm != nil && term.IsTerminal(int(os.Stdin.Fd())) {
		term.Restore(int(os.Stdin.Fd()), savedTerm)
		savedTerm = nil
	}
}
