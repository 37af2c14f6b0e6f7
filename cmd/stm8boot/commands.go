package main

import (
	"bytes"
	"context"
	"os"
	"os/signal"
	"strconv"

	"github.com/openchirp/stm8boot"
	"github.com/openchirp/stm8boot/firmware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	verify      bool
	retries     int
	erasePages  int
	forceBinary bool
)

var readCmd = &cobra.Command{
	Use:   "read FILE",
	Short: "Read flash to file",
	Long:  `Read the whole flash. Files ending in .hex or .ihx are written as Intel HEX.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bar := &progressBar{}
		return withSession(func(s *stm8boot.Session) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			var buf bytes.Buffer
			err := s.ReadImage(ctx, &buf)
			bar.finish()
			if err != nil {
				return err
			}
			if err := firmware.Save(args[0], s.Device().FlashStart, buf.Bytes()); err != nil {
				return errors.Wrapf(err, "save %s", args[0])
			}
			log.Infof("read %d bytes into %s", buf.Len(), args[0])
			return nil
		}, stm8boot.WithProgressCallback(bar.report))
	},
}

var writeCmd = &cobra.Command{
	Use:   "write FILE",
	Short: "Write file to flash",
	Long: `Erase and program the flash. Intel HEX files carry their own addresses,
binary files are placed at the start of flash.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if erasePages < 0 || erasePages > 0xFF {
			return errors.New("you need to specify a page count between 0 and 255")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		bar := &progressBar{}
		return withSession(func(s *stm8boot.Session) error {
			img, err := firmware.Load(args[0], s.Device().FlashStart, forceBinary)
			if err != nil {
				return errors.Wrapf(err, "load %s", args[0])
			}
			log.WithField("format", img.Format).Infof("writing %d bytes", len(img.Data))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			err = s.WriteImage(ctx, img.Data)
			bar.finish()
			return err
		},
			stm8boot.WithVerify(verify),
			stm8boot.WithRetries(retries),
			stm8boot.WithErasePages(byte(erasePages)),
			stm8boot.WithProgressCallback(bar.report),
		)
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase flash pages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if erasePages < 0 || erasePages > 0xFF {
			return errors.New("you need to specify a page count between 0 and 255")
		}
		return withSession(func(s *stm8boot.Session) error {
			return s.Erase(byte(erasePages))
		})
	},
}

var enableBootloaderCmd = &cobra.Command{
	Use:   "enable-bootloader",
	Short: "Enable the STM8 bootloader option bytes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *stm8boot.Session) error {
			return s.EnableBootloader()
		})
	},
}

var execCmd = &cobra.Command{
	Use:   "exec ADDRESS",
	Short: "Start execution at ADDRESS (0 = flash start)",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		// control has left the bootloader after the first GO
		if execute != "" {
			return errors.New("--go cannot be combined with exec")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return errors.Wrapf(err, "bad address %q", args[0])
		}
		return withSession(func(s *stm8boot.Session) error {
			if addr == 0 {
				addr = uint64(s.Device().FlashStart)
			}
			return s.Execute(uint32(addr))
		})
	},
}

func init() {
	writeCmd.Flags().BoolVarP(&verify, "verify", "v", false, "verify writes")
	writeCmd.Flags().IntVarP(&retries, "retries", "n", stm8boot.DefaultRetries, "retry failed verifies up to count times per chunk")
	writeCmd.Flags().BoolVarP(&forceBinary, "binary", "f", false, "force binary parser")
	for _, c := range []*cobra.Command{writeCmd, eraseCmd} {
		c.Flags().IntVarP(&erasePages, "erase-pages", "e", int(stm8boot.STM8_ERASE_ALL), "only erase n pages (255 erases everything)")
	}

	rootCmd.AddCommand(readCmd, writeCmd, eraseCmd, enableBootloaderCmd, execCmd)
}
