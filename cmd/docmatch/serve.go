package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if port, _ := cmd.Flags().GetString("port"); port != "" {
			a.Config.Port = port
		}
		return a.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (default: PORT)")

	rootCmd.AddCommand(serveCmd)
}
