// run.go implements the "ccgrid run" command, which starts a session on a
// running server.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/O6lvl4/ccgrid-sub001/internal/orchestrator"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

var runCmd = &cobra.Command{
	Use:   `run "task description"`,
	Short: "Start a session with a Lead and its team",
	Long: `Create a session on the ccgrid server. The Lead receives the task
description and delegates to the teammates given with --teammate or
--team-file. With --watch the command follows the session until it
finishes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	cwdFlag       string
	nameFlag      string
	modelFlag     string
	budgetFlag    float64
	teammateFlags []string
	teamFileFlag  string
	bypassFlag    bool
	watchFlag     bool
)

func init() {
	runCmd.Flags().StringVar(&cwdFlag, "cwd", "", "Working directory of the agents (default: current directory)")
	runCmd.Flags().StringVar(&nameFlag, "name", "", "Session name (default: first line of the task)")
	runCmd.Flags().StringVar(&modelFlag, "model", "", "Lead model (default: claude.model from config)")
	runCmd.Flags().Float64Var(&budgetFlag, "budget", 0, "Maximum spend in USD (0 = unlimited)")
	runCmd.Flags().StringArrayVar(&teammateFlags, "teammate", nil, `Teammate as "Name" or "Name:Role" (repeatable)`)
	runCmd.Flags().StringVar(&teamFileFlag, "team-file", "", "YAML file listing teammates")
	runCmd.Flags().BoolVar(&bypassFlag, "bypass", false, "Skip permission arbitration for this session")
	runCmd.Flags().BoolVar(&watchFlag, "watch", false, "Follow the session until it finishes")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cwd := cwdFlag
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
	}
	if cwd, err = filepath.Abs(cwd); err != nil {
		return fmt.Errorf("resolving cwd: %w", err)
	}

	team, err := parseTeammates(teammateFlags)
	if err != nil {
		return err
	}
	if teamFileFlag != "" {
		fromFile, fileErr := readTeamFile(teamFileFlag)
		if fileErr != nil {
			return fileErr
		}
		team = append(team, fromFile...)
	}

	req := orchestrator.CreateRequest{
		Name:            nameFlag,
		Cwd:             cwd,
		Model:           modelFlag,
		TaskDescription: strings.Join(args, " "),
		Teammates:       team,
	}
	if budgetFlag > 0 {
		budget := budgetFlag
		req.MaxBudgetUSD = &budget
	}
	if bypassFlag {
		req.PermissionMode = session.PermissionBypass
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := newAPIClient(cfg)
	var created session.Session
	if err := client.do(ctx, "POST", "/api/sessions", req, &created); err != nil {
		return err
	}
	fmt.Printf("Session %s started (%s)\n", created.ID, created.Status)

	if !watchFlag {
		fmt.Printf("Follow it with: ccgrid watch %s\n", created.ID)
		return nil
	}
	return watchSession(ctx, client, created.ID, replayFlag, true)
}

// parseTeammates reads --teammate values of the form "Name" or "Name:Role".
func parseTeammates(values []string) ([]session.TeammateSpec, error) {
	var team []session.TeammateSpec
	for _, v := range values {
		name, role, _ := strings.Cut(v, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid --teammate %q: name is empty", v)
		}
		team = append(team, session.TeammateSpec{Name: name, Role: strings.TrimSpace(role)})
	}
	return team, nil
}

type teamFile struct {
	Teammates []session.TeammateSpec `yaml:"teammates"`
}

// readTeamFile loads teammate specs from a YAML file with a top-level
// "teammates" list.
func readTeamFile(path string) ([]session.TeammateSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading team file: %w", err)
	}
	var f teamFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing team file %s: %w", path, err)
	}
	return f.Teammates, nil
}
