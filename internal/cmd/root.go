package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/docconnect/videocall/internal/ui"
	"github.com/docconnect/videocall/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "videocall",
	Short:   "Peer-to-peer appointment video calls over WebRTC",
	Long:    `videocall joins the room of an appointment on a signaling server and negotiates a direct WebRTC call with the other participant. It reconnects to the signaling server on its own and keeps the call state visible in the terminal.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
