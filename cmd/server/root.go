package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragefit/pos/internal/config"
	"ragefit/pos/internal/logger"
)

// app is filled in by the root command before any subcommand runs.
type app struct {
	envFile  string
	cfg      config.Config
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "posd",
		Short: "Point-of-sale register daemon",
		Long: `posd runs the register: sales, inventory, shifts and the receipt
printer queue, behind a local HTTP command surface.

Configuration comes from the environment, optionally seeded from a .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(a.envFile); err != nil {
				return fmt.Errorf("load %s: %w", a.envFile, err)
			}
			a.cfg = config.Load()
			closeLog, err := logger.Setup(logger.LogConfig{
				Level:  a.cfg.LogLevel,
				Format: a.cfg.LogFormat,
				Output: a.cfg.LogOutput,
			})
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			a.closeLog = closeLog
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "optional dotenv file read before the environment")

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newPrintTestCmd(a))
	return root
}
