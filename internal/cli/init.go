// init.go implements the "ccgrid init" command.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/config"
	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize ccgrid in the current project",
	Long: `Create .ccgrid/ with a default config.yaml and an empty permission
rule file. A random API token is generated unless --no-token is given.`,
	RunE: runInit,
}

var (
	forceFlag   bool
	noTokenFlag bool
)

func init() {
	initCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing configuration without asking")
	initCmd.Flags().BoolVar(&noTokenFlag, "no-token", false, "Leave the API unauthenticated")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}

	cfgPath := filepath.Join(dir, ".ccgrid", "config.yaml")
	if _, statErr := os.Stat(cfgPath); statErr == nil && !forceFlag {
		fmt.Println("Warning: .ccgrid/config.yaml already exists.")
		fmt.Print("Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if !noTokenFlag {
		cfg.Server.AuthToken = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if err := config.WriteConfig(dir, cfg); err != nil {
		return err
	}

	rulesPath := filepath.Join(dir, cfg.Storage.RulesPath)
	if _, statErr := os.Stat(rulesPath); errors.Is(statErr, fs.ErrNotExist) {
		if err := permission.NewFileRuleStore(rulesPath).Save(nil); err != nil {
			return fmt.Errorf("writing rule file: %w", err)
		}
	}

	fmt.Printf("Initialized ccgrid in %s\n", filepath.Join(dir, ".ccgrid"))
	fmt.Printf("  config: %s\n", cfgPath)
	fmt.Printf("  rules:  %s\n", rulesPath)
	if cfg.Server.AuthToken != "" {
		fmt.Println("  API token written to config (server.auth_token)")
	}
	fmt.Println("\nStart the server with: ccgrid serve")
	return nil
}
