// Package config loads and validates the declarative application config
// that names the stacks, the deploy steps, and the extra commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure. Configuration
// errors are fatal at startup, before any deployment action begins.
var ErrInvalidConfig = errors.New("invalid config")

// ApplicationScope is the operation scope that refers to the application
// itself rather than one of its stacks.
const ApplicationScope = "application"

// Config is the root of the application config file.
type Config struct {
	Application Application `yaml:"application"`
	// TemplateRepo optionally names a git repository whose working tree
	// becomes the base directory for relative stack template paths.
	TemplateRepo  string        `yaml:"template-repo"`
	Stacks        []StackConfig `yaml:"stacks"`
	DeploySteps   []StepConfig  `yaml:"deploy-steps"`
	ExtraCommands []string      `yaml:"extra-commands"`
}

// Application holds the application-wide settings shared by every stack.
type Application struct {
	Name   string            `yaml:"name"`
	Bucket string            `yaml:"bucket"`
	Tags   map[string]string `yaml:"tags"`
}

// StackConfig describes one CloudFormation stack.
type StackConfig struct {
	Name          string            `yaml:"name"`
	AccountUnique bool              `yaml:"account_unique"`
	Template      string            `yaml:"template"`
	Parameters    map[string]string `yaml:"parameters"`
	// TimeoutSeconds bounds changeset execution for this stack; zero
	// means the deployer default.
	TimeoutSeconds int  `yaml:"timeout"`
	CleanLogGroups bool `yaml:"clean_log_groups"`
}

// Timeout returns the stack's execution timeout as a duration.
func (s StackConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// StepConfig describes one deploy step: exactly one of Stack or Operation
// is set.
type StepConfig struct {
	Stack     string `yaml:"stack"`
	Operation string `yaml:"operation"`
	// OnDelete overrides the step's tear-down: "pass" skips it, any other
	// value names a registered cleanup operation.
	OnDelete    string `yaml:"on_delete"`
	IgnoreError bool   `yaml:"ignore_error"`
}

// Load reads, decodes, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StackNames returns the configured stack names in order.
func (c *Config) StackNames() []string {
	names := make([]string, len(c.Stacks))
	for i, stack := range c.Stacks {
		names[i] = stack.Name
	}
	return names
}

func (c *Config) validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("%w: undefined application name", ErrInvalidConfig)
	}
	if len(c.Stacks) == 0 {
		return fmt.Errorf("%w: no stacks defined", ErrInvalidConfig)
	}
	if len(c.DeploySteps) == 0 {
		return fmt.Errorf("%w: no deploy-steps defined", ErrInvalidConfig)
	}

	stacks := map[string]bool{}
	for _, stack := range c.Stacks {
		if stack.Name == "" {
			return fmt.Errorf("%w: stack with empty name", ErrInvalidConfig)
		}
		if stacks[stack.Name] {
			return fmt.Errorf("%w: duplicate stack %q", ErrInvalidConfig, stack.Name)
		}
		if stack.Template == "" {
			return fmt.Errorf("%w: stack %q has no template", ErrInvalidConfig, stack.Name)
		}
		stacks[stack.Name] = true
	}

	for _, step := range c.DeploySteps {
		if err := c.validateStep(step, stacks); err != nil {
			return err
		}
	}

	for _, command := range c.ExtraCommands {
		if !c.isValidMethod(command, stacks) {
			return fmt.Errorf("%w: invalid command %q", ErrInvalidConfig, command)
		}
	}
	return nil
}

func (c *Config) validateStep(step StepConfig, stacks map[string]bool) error {
	switch {
	case step.Stack == "" && step.Operation == "":
		return fmt.Errorf("%w: step defines neither stack nor operation", ErrInvalidConfig)
	case step.Stack != "" && step.Operation != "":
		return fmt.Errorf("%w: step defines both stack %q and operation %q",
			ErrInvalidConfig, step.Stack, step.Operation)
	case step.Stack != "" && !stacks[step.Stack]:
		return fmt.Errorf("%w: step references unknown stack %q", ErrInvalidConfig, step.Stack)
	case step.Operation != "" && !c.isValidMethod(step.Operation, stacks):
		return fmt.Errorf("%w: invalid operation %q", ErrInvalidConfig, step.Operation)
	}

	if step.OnDelete != "" && step.OnDelete != "pass" && !c.isValidMethod(step.OnDelete, stacks) {
		return fmt.Errorf("%w: invalid on_delete %q", ErrInvalidConfig, step.OnDelete)
	}
	return nil
}

// isValidMethod checks an operation reference of the form `scope.method`,
// where scope is a stack name or the application scope. Whether the
// method itself resolves is decided later against the operation registry.
func (c *Config) isValidMethod(method string, stacks map[string]bool) bool {
	if strings.Count(method, ".") != 1 {
		return false
	}
	scope, name, _ := strings.Cut(method, ".")
	if name == "" {
		return false
	}
	return scope == ApplicationScope || stacks[scope]
}
