// Package cli defines Cobra command definitions for the ccgrid CLI.
// This file contains the root command, shared flags, and config loading.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/config"
)

var (
	dirFlag    string
	serverFlag string
	tokenFlag  string
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "ccgrid",
	Short: "Orchestrate Claude agent teams",
	Long: `ccgrid runs a Lead agent that delegates to a team of sub-agents,
tracks every teammate through lifecycle hooks, mirrors the shared task
list, arbitrates tool permissions, and streams it all to observers.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Directory holding .ccgrid/ (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "ccgrid server URL (default: from config)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API token (default: from config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(bridgeCmd)
}

// projectDir returns the directory holding .ccgrid/.
func projectDir() (string, error) {
	if dirFlag != "" {
		return dirFlag, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return dir, nil
}

func loadConfig() (*config.Config, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, err
	}
	return config.Load(dir)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
