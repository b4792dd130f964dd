// main.go - Operator CLI for the document matching service

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stakbuild/docmatch/configs"
	"github.com/stakbuild/docmatch/internal/app"
	"github.com/stakbuild/docmatch/internal/common"
)

var rootCmd = &cobra.Command{
	Use:   "docmatch",
	Short: "Match construction documents to projects and vendors",
	Long: `docmatch predicts the project and vendor of invoices, client-bill invoices
and contracts, and keeps stored vendor predictions in step with each
company's vendor roster.

Configuration comes from the environment, optionally seeded from an env
file. With --memory nothing is read from or written to MongoDB; pass --seed
to load projects and vendors for that run.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("env-file", "", "env file to load before reading the environment (default: .env)")
	rootCmd.PersistentFlags().Bool("memory", false, "use the in-memory store instead of MongoDB")
	rootCmd.PersistentFlags().String("seed", "", "YAML or JSON master data loaded into the in-memory store")
}

// openApp loads configuration and wires the pipeline for a command.
func openApp(cmd *cobra.Command) (*app.App, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	memory, _ := cmd.Flags().GetBool("memory")
	seed, _ := cmd.Flags().GetString("seed")

	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := configs.LoadConfig(files...)
	if err != nil {
		return nil, err
	}
	logger, err := common.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return app.New(cmd.Context(), cfg, logger, app.Options{Memory: memory, SeedFile: seed})
}

// closeApp releases a's clients and flushes its logger.
func closeApp(a *app.App) {
	if err := a.Close(context.Background()); err != nil {
		a.Logger.Warn("close", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
