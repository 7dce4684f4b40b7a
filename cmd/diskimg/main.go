package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nace/diskimg/internal/cli"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	quiet      bool
	noColor    bool
	configFile string
	noAuth     bool

	ctx *cli.GlobalContext
)

func main() {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx.CancelJobsOn(sigCtx)
	err := rootCmd.ExecuteContext(sigCtx)
	stop()
	if err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "diskimg",
	Short: "diskimg - disk image attach and restore tool",
	Long: `diskimg attaches disk images as loop devices, inspects the devices derived
from them, releases and detaches them, and restores raw or XZ-compressed
disk images onto block devices.

All device operations go through the UDisks2 storage daemon, so no root
privileges are needed where the daemon's policy allows them.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Update context components with parsed flag values
		ctx.Logger.Verbose = verbose
		ctx.Logger.Quiet = quiet
		ctx.Logger.NoColor = noColor
		if noAuth {
			ctx.Viper.Set("interactive-auth", false)
		}

		return ctx.LoadConfig(configFile)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./config.yaml, ~/.config/diskimg/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format: table, json or yaml")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-interactive-auth", false, "Fail instead of asking for authorization")

	// Create initial context with default values
	// Will be updated in PersistentPreRunE with parsed flag values
	ctx = cli.NewGlobalContext(false, false, false)
	_ = ctx.Viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	// Register commands
	rootCmd.AddCommand(cli.NewAttachCommand(ctx))
	rootCmd.AddCommand(cli.NewDetachCommand(ctx))
	rootCmd.AddCommand(cli.NewInspectCommand(ctx))
	rootCmd.AddCommand(cli.NewListCommand(ctx))
	rootCmd.AddCommand(cli.NewRestoreCommand(ctx))

	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
