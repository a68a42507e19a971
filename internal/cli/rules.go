// rules.go implements the "ccgrid rules" command group for editing the
// permission rule file.
package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List and edit permission rules",
	Long: `Permission rules auto-resolve tool-use requests. They are evaluated
in order and the first match wins; requests matching no rule wait for a
human decision. The running server re-reads the rule file on every
request, so edits apply immediately.`,
	RunE: runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <allow|deny> <tool> [pattern]",
	Short: "Append a rule",
	Long: `Append a rule. Tool is an exact tool name or "*". The optional
pattern matches the request's file_path, path or command input: a
trailing "*" matches any suffix, otherwise the match is exact.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRulesAdd,
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <index>",
	Short: "Remove the rule at index",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesRemove,
}

func init() {
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
}

func ruleStore() (*permission.FileRuleStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return permission.NewFileRuleStore(cfg.Storage.RulesPath), nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	store, err := ruleStore()
	if err != nil {
		return err
	}
	rules, err := store.Rules()
	if err != nil {
		return err
	}
	printRules(os.Stdout, store.Path(), rules)
	return nil
}

func printRules(w io.Writer, path string, rules []permission.Rule) {
	if len(rules) == 0 {
		fmt.Fprintf(w, "No rules in %s. Every request waits for a decision.\n", path)
		return
	}
	for i, r := range rules {
		fmt.Fprintf(w, "  %2d  %s\n", i, r)
	}
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	rule := permission.Rule{Behavior: args[0], Tool: args[1]}
	if len(args) == 3 {
		rule.Pattern = args[2]
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	store, err := ruleStore()
	if err != nil {
		return err
	}
	if err := store.Add(rule); err != nil {
		return err
	}
	fmt.Printf("Added rule: %s\n", rule)
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}
	store, err := ruleStore()
	if err != nil {
		return err
	}
	if err := store.Remove(index); err != nil {
		return err
	}
	fmt.Printf("Removed rule %d\n", index)
	return nil
}
