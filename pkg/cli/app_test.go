package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sportsbet/ennio/pkg/cfn"
	"github.com/sportsbet/ennio/pkg/config"
	"github.com/sportsbet/ennio/pkg/orchestrator"
)

func testApp(cfg *config.Config) *app {
	log := zap.NewNop().Sugar()
	a := &app{
		log:      log,
		cfg:      cfg,
		stacks:   map[string]*cfn.Stack{},
		registry: orchestrator.NewRegistry(),
	}
	for _, sc := range cfg.Stacks {
		stack := cfn.NewStack(nil, nil, log, cfn.Config{
			Name:      sc.Name,
			AppName:   cfg.Application.Name,
			Namespace: cfg.Application.Name,
			Template:  sc.Template,
		})
		a.stacks[sc.Name] = stack
		a.registry.RegisterOperation(sc.Name+".deploy", stack.Deploy)
		a.registry.RegisterOperation(sc.Name+".rollback", stack.Rollback)
		a.registry.RegisterCleanup(sc.Name+".delete", stack.Delete)
	}
	return a
}

func baseConfig() *config.Config {
	return &config.Config{
		Application: config.Application{Name: "payments"},
		Stacks: []config.StackConfig{
			{Name: "network", Template: "network.yaml"},
			{Name: "web", Template: "web.yaml"},
		},
	}
}

func TestBuildStepsKeepsConfigOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.DeploySteps = []config.StepConfig{
		{Stack: "network"},
		{Operation: "web.deploy", IgnoreError: true},
		{Stack: "web"},
	}
	a := testApp(cfg)

	steps, err := a.buildSteps(false)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, "network", steps[0].Name())
	assert.Equal(t, "web.deploy", steps[1].Name())
	assert.Equal(t, "web", steps[2].Name())
	assert.True(t, steps[1].IgnoreError())
	assert.False(t, steps[2].IgnoreError())
}

func TestBuildStepsOnDeletePass(t *testing.T) {
	cfg := baseConfig()
	cfg.DeploySteps = []config.StepConfig{
		{Stack: "web", OnDelete: "pass"},
	}
	a := testApp(cfg)

	steps, err := a.buildSteps(false)
	require.NoError(t, err)
	// The stack does not resolve remotely in this test, so a pass-through
	// delete succeeding proves the stack delete was not attempted.
	require.NoError(t, steps[0].Delete(context.Background()))
}

func TestBuildStepsForceDeleteOverridesOnDelete(t *testing.T) {
	cfg := baseConfig()
	cfg.DeploySteps = []config.StepConfig{
		{Stack: "web", OnDelete: "pass"},
	}
	a := testApp(cfg)

	steps, err := a.buildSteps(true)
	require.NoError(t, err)
	// With force, the step's delete goes back to the stack itself, which
	// panics on the nil client here; asserting on the step type instead.
	_, isStackStep := steps[0].(*orchestrator.StackStep)
	assert.True(t, isStackStep)
}

func TestBuildStepsUnknownOperationFailsAtBuildTime(t *testing.T) {
	cfg := baseConfig()
	cfg.DeploySteps = []config.StepConfig{
		{Operation: "application.migrate"},
	}
	a := testApp(cfg)

	_, err := a.buildSteps(false)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBuildStepsUnknownOnDeleteFailsAtBuildTime(t *testing.T) {
	cfg := baseConfig()
	cfg.DeploySteps = []config.StepConfig{
		{Stack: "web", OnDelete: "application.drop"},
	}
	a := testApp(cfg)

	_, err := a.buildSteps(false)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestResolveTemplate(t *testing.T) {
	a := &app{checkout: "/tmp/checkout"}

	assert.Equal(t, "/tmp/checkout/templates/web.yaml", a.resolveTemplate("templates/web.yaml"))
	assert.Equal(t, "/abs/web.yaml", a.resolveTemplate("/abs/web.yaml"))
	assert.Equal(t, "https://example.com/web.yaml", a.resolveTemplate("https://example.com/web.yaml"))

	noCheckout := &app{}
	assert.Equal(t, "templates/web.yaml", noCheckout.resolveTemplate("templates/web.yaml"))
}

func TestRegisteredOperationsResolveForSteps(t *testing.T) {
	cfg := baseConfig()
	cfg.DeploySteps = []config.StepConfig{
		{Operation: "application.migrate"},
	}
	a := testApp(cfg)
	a.registry.RegisterOperation("application.migrate", func(context.Context, string) error { return nil })

	steps, err := a.buildSteps(false)
	require.NoError(t, err)
	require.NoError(t, steps[0].Deploy(context.Background(), "1.0.0"))
}
