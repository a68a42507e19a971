// Package permission decides tool-use requests, either automatically from
// persisted rules or by waiting for a human decision.
package permission

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
)

// Rule auto-resolves matching permission requests.
type Rule struct {
	Tool     string `yaml:"tool" json:"tool"`                           // exact tool name or "*"
	Pattern  string `yaml:"pattern,omitempty" json:"pattern,omitempty"` // optional path/command pattern
	Behavior string `yaml:"behavior" json:"behavior"`                   // allow or deny
}

// String renders the rule for audit messages.
func (r Rule) String() string {
	if r.Pattern == "" {
		return fmt.Sprintf("%s %s", r.Behavior, r.Tool)
	}
	return fmt.Sprintf("%s %s(%s)", r.Behavior, r.Tool, r.Pattern)
}

// Validate checks that the rule names a tool and a known behavior.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Tool) == "" {
		return errors.New("rule tool must not be empty")
	}
	if r.Behavior != engine.BehaviorAllow && r.Behavior != engine.BehaviorDeny {
		return fmt.Errorf("rule behavior %q must be %q or %q", r.Behavior, engine.BehaviorAllow, engine.BehaviorDeny)
	}
	return nil
}

// RuleSource supplies the current ordered rule list.
type RuleSource interface {
	Rules() ([]Rule, error)
}

// StaticRules is an in-memory RuleSource.
type StaticRules []Rule

// Rules returns the list itself.
func (s StaticRules) Rules() ([]Rule, error) { return s, nil }

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// FileRuleStore keeps rules in a YAML file. Every read goes to disk so
// edits made by other processes take effect on the next evaluation.
type FileRuleStore struct {
	path string
	mu   sync.Mutex // serializes read-modify-write cycles in this process
}

// NewFileRuleStore creates a store backed by path.
func NewFileRuleStore(path string) *FileRuleStore {
	return &FileRuleStore{path: path}
}

// Path returns the backing file location.
func (s *FileRuleStore) Path() string { return s.path }

// Rules reads the rule file. A missing file yields no rules.
func (s *FileRuleStore) Rules() ([]Rule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	return f.Rules, nil
}

// Save replaces the whole rule list.
func (s *FileRuleStore) Save(rules []Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(rules)
}

func (s *FileRuleStore) saveLocked(rules []Rule) error {
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	if rules == nil {
		rules = []Rule{}
	}

	data, err := yaml.Marshal(ruleFile{Rules: rules})
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}
	return nil
}

// Add appends a rule to the end of the list.
func (s *FileRuleStore) Add(rule Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.Rules()
	if err != nil {
		return err
	}
	return s.saveLocked(append(rules, rule))
}

// Remove deletes the rule at index.
func (s *FileRuleStore) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.Rules()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(rules) {
		return fmt.Errorf("rule index %d out of range (have %d rules)", index, len(rules))
	}
	return s.saveLocked(append(rules[:index], rules[index+1:]...))
}
