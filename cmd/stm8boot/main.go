// Copyright 2017 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command stm8boot reads and programs STM8 flash through the ROM UART
// bootloader.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jacobsa/go-serial/serial"
	"github.com/openchirp/stm8boot"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/cheggaaa/pb.v1"
)

var (
	portName    string
	baudRate    uint
	noInit      bool
	routinesDir string
	verbose     bool
	execute     string
	busyLimit   int
)

var rootCmd = &cobra.Command{
	Use:   "stm8boot",
	Short: "Program STM8 devices through the ROM UART bootloader",
	Long: `stm8boot talks to the STM8 ROM bootloader in reply mode. Without a
subcommand it connects and prints the device information.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *stm8boot.Session) error {
			printInfo(cmd.OutOrStdout(), s)
			return nil
		})
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&portName, "port", "p", "", "serial port (usually /dev/tty* or COM*)")
	flags.UintVarP(&baudRate, "baud", "b", 115200, "serial baud rate")
	flags.BoolVarP(&noInit, "no-init", "c", false, "resume the connection, don't send the initial INIT (baud rate must be kept the same as the first init)")
	flags.StringVar(&routinesDir, "routines", "routines", "directory holding the erase/write routines as <version>.bin")
	flags.BoolVarP(&verbose, "verbose", "V", false, "log every bootloader command")
	flags.StringVarP(&execute, "go", "g", "", "start execution at this address after a successful operation (0 = flash start)")
	flags.IntVar(&busyLimit, "busy-limit", 0, "give up after this many BUSY responses (0 waits forever)")
	_ = rootCmd.MarkPersistentFlagRequired("port")
}

func main() {
	log.SetOutput(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// withSession opens the port, performs the handshake, runs fn and, if it
// succeeded, the optional execute step.
func withSession(fn func(*stm8boot.Session) error, opts ...stm8boot.Option) error {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	})
	if err != nil {
		return errors.Wrapf(err, "open %s", portName)
	}
	defer port.Close()

	cat, err := stm8boot.LoadCatalogue(os.DirFS(routinesDir))
	if err != nil {
		return errors.Wrap(err, "load erase/write routines")
	}
	if cat.Len() == 0 {
		log.Warnf("no erase/write routines found in %q, use --routines to point at ST's E_W_ROUTINE files", routinesDir)
	}

	logger := log.WithField("port", portName)
	opts = append([]stm8boot.Option{
		stm8boot.WithInit(!noInit),
		stm8boot.WithCatalogue(cat),
		stm8boot.WithLogger(logger),
		stm8boot.WithBusyLimit(busyLimit),
	}, opts...)

	s, err := stm8boot.Handshake(port, opts...)
	if err != nil {
		return routineHint(err, cat)
	}
	defer s.Close()

	if err := fn(s); err != nil {
		return err
	}
	if execute == "" {
		return nil
	}
	addr, err := strconv.ParseUint(execute, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "bad execute address %q", execute)
	}
	if addr == 0 {
		addr = uint64(s.Device().FlashStart)
	}
	logger.Infof("starting execution at address 0x%08x", addr)
	return s.Execute(uint32(addr))
}

// routineHint names the --routines flag when the handshake failed for
// lack of a routine.
func routineHint(err error, cat *stm8boot.Catalogue) error {
	if !errors.Is(err, stm8boot.ErrMissingRoutine) {
		return err
	}
	if cat.Len() == 0 {
		return errors.Wrapf(err, "no routines in %q (set --routines)", routinesDir)
	}
	return errors.Wrapf(err, "routine not in %q (set --routines)", routinesDir)
}

func printInfo(w io.Writer, s *stm8boot.Session) {
	d := s.Device()
	fmt.Fprintf(w, "BL-Version   : 0x%02x\n", s.Version())
	fmt.Fprintf(w, "Device       : %s\n", d.Name)
	fmt.Fprintf(w, "Commands     : %v\n", s.Commands())
	fmt.Fprintf(w, "RAM          : 0x%06x-0x%06x\n", d.RAMStart, d.RAMEnd)
	fmt.Fprintf(w, "Flash        : 0x%06x-0x%06x (%d pages of %d bytes per sector)\n", d.FlashStart, d.FlashEnd, d.PagesPerSector, d.PageSize)
	fmt.Fprintf(w, "Option bytes : 0x%06x-0x%06x\n", d.OptionStart, d.OptionEnd)
	fmt.Fprintf(w, "System       : 0x%06x-0x%06x\n", d.SystemStart, d.SystemEnd)
}

// progressBar renders stm8boot progress reports, one bar per phase.
type progressBar struct {
	phase string
	bar   *pb.ProgressBar
}

func (p *progressBar) report(pr stm8boot.Progress) {
	if pr.Phase != p.phase {
		p.finish()
		p.phase = pr.Phase
		p.bar = pb.New(pr.Total).SetUnits(pb.U_BYTES).Prefix(pr.Phase + " ")
		p.bar.Output = os.Stderr
		p.bar.Start()
	}
	p.bar.Set(pr.Done)
}

func (p *progressBar) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
