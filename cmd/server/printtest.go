package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ragefit/pos/internal/logger"
	"ragefit/pos/internal/printer"
	"ragefit/pos/internal/receipt"
)

func newPrintTestCmd(a *app) *cobra.Command {
	var (
		device    string
		toFile    bool
		withKick  bool
		writeWait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "print-test",
		Short: "Print a test page on the configured receipt printer",
		Example: `  posd print-test
  posd print-test --device /dev/usb/lp1 --kick
  posd print-test --device ./receipt.bin --file`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if device == "" {
				device = cfg.PrinterDevice
			}
			log := logger.WithComponent("print-test")
			ctx, cancel := context.WithTimeout(cmd.Context(), writeWait)
			defer cancel()

			connector := printer.DeviceConnector{Path: device, Append: toFile || cfg.PrinterKind == "file"}
			transport, err := connector.Connect(ctx)
			if err != nil {
				return err
			}
			defer transport.Close()

			payload := receipt.TestPage(brandingFrom(cfg), time.Now().In(loadLocation(cfg.Timezone)))
			if withKick {
				payload = append(payload, receipt.DrawerKick()...)
			}
			if err := transport.Write(ctx, payload); err != nil {
				return err
			}
			log.Info().Str("printer", transport.Name()).Int("bytes", len(payload)).Msg("test page sent")
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", len(payload), transport.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "printer device node or file (default PRINTER_DEVICE)")
	cmd.Flags().BoolVar(&toFile, "file", false, "create or append to a plain file instead of a device node")
	cmd.Flags().BoolVar(&withKick, "kick", false, "also pulse the cash drawer")
	cmd.Flags().DurationVar(&writeWait, "timeout", 10*time.Second, "give up after this long")
	return cmd
}
