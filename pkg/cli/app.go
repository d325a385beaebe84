package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"github.com/sportsbet/ennio/pkg/cfn"
	"github.com/sportsbet/ennio/pkg/config"
	"github.com/sportsbet/ennio/pkg/gitsource"
	"github.com/sportsbet/ennio/pkg/orchestrator"
	"github.com/sportsbet/ennio/pkg/version"
)

// app wires the config, the AWS clients, and the pipeline together for
// one command invocation. Clients are constructed once here and injected
// into everything that needs them.
type app struct {
	log       *zap.SugaredLogger
	cfg       *config.Config
	namespace string
	stacks    map[string]*cfn.Stack
	registry  *orchestrator.Registry
	orch      *orchestrator.Orchestrator
	store     version.Store
	checkout  string
}

type buildOptions struct {
	forceDelete bool
	noRollback  bool
	operations  map[string]orchestrator.Operation
	cleanups    map[string]orchestrator.CleanupFunc
}

func newApp(ctx context.Context, log *zap.SugaredLogger, cfgPath string, opts buildOptions) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cfnClient := cloudformation.NewFromConfig(awsCfg)
	logsClient := cloudwatchlogs.NewFromConfig(awsCfg)
	ssmClient := ssm.NewFromConfig(awsCfg)

	namespace := os.Getenv("NAMESPACE")
	if namespace == "" {
		namespace = cfg.Application.Name
	}

	a := &app{
		log:       log,
		cfg:       cfg,
		namespace: namespace,
		stacks:    map[string]*cfn.Stack{},
		registry:  orchestrator.NewRegistry(),
		store:     version.NewParameterStore(ssmClient, log, namespace),
	}

	if cfg.TemplateRepo != "" {
		checkout, err := gitsource.Checkout(log, cfg.TemplateRepo, "")
		if err != nil {
			return nil, err
		}
		a.checkout = checkout
	}

	for _, sc := range cfg.Stacks {
		stack := cfn.NewStack(cfnClient, logsClient, log, cfn.Config{
			Name:           sc.Name,
			AppName:        cfg.Application.Name,
			Namespace:      namespace,
			AccountUnique:  sc.AccountUnique,
			Template:       a.resolveTemplate(sc.Template),
			Parameters:     sc.Parameters,
			Tags:           cfg.Application.Tags,
			Timeout:        sc.Timeout(),
			SweepLogGroups: sc.CleanLogGroups,
		})
		a.stacks[sc.Name] = stack

		a.registry.RegisterOperation(sc.Name+".deploy", stack.Deploy)
		a.registry.RegisterOperation(sc.Name+".rollback", stack.Rollback)
		a.registry.RegisterCleanup(sc.Name+".delete", stack.Delete)
	}
	for name, op := range opts.operations {
		a.registry.RegisterOperation(name, op)
	}
	for name, fn := range opts.cleanups {
		a.registry.RegisterCleanup(name, fn)
	}

	for _, command := range cfg.ExtraCommands {
		if _, err := a.registry.Operation(command); err != nil {
			return nil, fmt.Errorf("%w: extra command %v", config.ErrInvalidConfig, err)
		}
	}

	steps, err := a.buildSteps(opts.forceDelete)
	if err != nil {
		return nil, err
	}

	var orchOpts []orchestrator.Option
	if opts.noRollback {
		orchOpts = append(orchOpts, orchestrator.WithRollbackDisabled())
	}
	a.orch = orchestrator.New(log, cfg.Application.Name, steps, a.store, orchOpts...)
	return a, nil
}

// resolveTemplate anchors relative template paths to the template
// repository checkout when one is configured.
func (a *app) resolveTemplate(template string) string {
	if a.checkout == "" || filepath.IsAbs(template) ||
		strings.HasPrefix(template, "http://") || strings.HasPrefix(template, "https://") {
		return template
	}
	return filepath.Join(a.checkout, template)
}

// buildSteps turns the deploy-steps config into pipeline steps, resolving
// every operation reference up front so bad references fail before any
// deployment action runs.
func (a *app) buildSteps(forceDelete bool) ([]orchestrator.Step, error) {
	steps := make([]orchestrator.Step, 0, len(a.cfg.DeploySteps))
	for _, sc := range a.cfg.DeploySteps {
		if sc.Stack != "" {
			onDelete, err := a.stackOnDelete(sc, forceDelete)
			if err != nil {
				return nil, err
			}
			steps = append(steps, orchestrator.NewStackStep(a.stacks[sc.Stack], onDelete, sc.IgnoreError))
			continue
		}

		op, err := a.registry.Operation(sc.Operation)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		onDelete := orchestrator.NoOp(a.log)
		if sc.OnDelete != "" && sc.OnDelete != "pass" {
			onDelete, err = a.registry.Cleanup(sc.OnDelete)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
			}
		}
		steps = append(steps, orchestrator.NewOperationStep(sc.Operation, op, onDelete, sc.IgnoreError))
	}
	return steps, nil
}

// stackOnDelete decides what a stack step does during tear-down. A nil
// cleanup means the stack itself is deleted. forceDelete overrides any
// configured on_delete so delete-all can remove everything.
func (a *app) stackOnDelete(sc config.StepConfig, forceDelete bool) (orchestrator.CleanupFunc, error) {
	if forceDelete || sc.OnDelete == "" {
		return nil, nil
	}
	if sc.OnDelete == "pass" {
		return orchestrator.NoOp(a.log), nil
	}
	fn, err := a.registry.Cleanup(sc.OnDelete)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return fn, nil
}

// close releases resources tied to one invocation.
func (a *app) close() {
	if a.checkout != "" {
		if err := gitsource.Cleanup(a.checkout); err != nil {
			a.log.Warnf("Failed to clean up template checkout: %v", err)
		}
	}
}
