// Package cli defines the ennio command tree. Programs embedding ennio
// register their custom operations through RootOption hooks; everything
// else is driven by the application config file.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sportsbet/ennio/pkg/logging"
	"github.com/sportsbet/ennio/pkg/orchestrator"
)

// RootOption customizes the command tree before it is built.
type RootOption func(*rootOptions)

type rootOptions struct {
	operations map[string]orchestrator.Operation
	cleanups   map[string]orchestrator.CleanupFunc
}

// WithOperation registers a named operation so deploy-steps, extra
// commands, and `run` can reference it as `scope.method`.
func WithOperation(name string, op orchestrator.Operation) RootOption {
	return func(o *rootOptions) { o.operations[name] = op }
}

// WithCleanup registers a named cleanup so on_delete can reference it.
func WithCleanup(name string, fn orchestrator.CleanupFunc) RootOption {
	return func(o *rootOptions) { o.cleanups[name] = fn }
}

// NewRootCommand builds the ennio command tree.
func NewRootCommand(opts ...RootOption) *cobra.Command {
	root := &rootOptions{
		operations: map[string]orchestrator.Operation{},
		cleanups:   map[string]orchestrator.CleanupFunc{},
	}
	for _, opt := range opts {
		opt(root)
	}

	var cfgPath string
	logLevel := "info"
	cmd := &cobra.Command{
		Use:           "ennio",
		Short:         "Transactional deployer for multi-stack CloudFormation applications",
		Long:          "ennio deploys an application made of several CloudFormation stacks as one transaction: either every stack reaches the target version or the already-changed stacks are rolled back.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "ennio.yaml", "Path to the application config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level for ennio output (debug, info, warn, error)")

	cmd.AddCommand(
		newDeployAllCommand(root, &cfgPath, &logLevel),
		newDeleteAllCommand(root, &cfgPath, &logLevel),
		newDeployCommand(root, &cfgPath, &logLevel),
		newDeleteCommand(root, &cfgPath, &logLevel),
		newRunCommand(root, &cfgPath, &logLevel),
		newVersionCommand(root, &cfgPath, &logLevel),
	)
	return cmd
}

// withApp builds the logger and the wired application, runs fn, and
// releases per-invocation resources.
func withApp(cmd *cobra.Command, root *rootOptions, cfgPath, logLevel string, opts buildOptions, fn func(*zap.SugaredLogger, *app) error) error {
	log, err := logging.New(logLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	opts.operations = root.operations
	opts.cleanups = root.cleanups
	a, err := newApp(cmd.Context(), log, cfgPath, opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(log, a)
}

func newDeployAllCommand(root *rootOptions, cfgPath, logLevel *string) *cobra.Command {
	var build string
	var noRollback bool
	cmd := &cobra.Command{
		Use:   "deploy-all",
		Short: "Deploy every step to the given build version as one transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := buildOptions{noRollback: noRollback}
			return withApp(cmd, root, *cfgPath, *logLevel, opts, func(_ *zap.SugaredLogger, a *app) error {
				return a.orch.DeployAll(cmd.Context(), build)
			})
		},
	}
	cmd.Flags().StringVar(&build, "build", "", "Build version to deploy")
	cmd.Flags().BoolVar(&noRollback, "no-rollback", false, "Leave changed steps in place when the deploy fails")
	cobra.CheckErr(cmd.MarkFlagRequired("build"))
	return cmd
}

func newDeleteAllCommand(root *rootOptions, cfgPath, logLevel *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Tear down every step in reverse deploy order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := buildOptions{forceDelete: force}
			return withApp(cmd, root, *cfgPath, *logLevel, opts, func(_ *zap.SugaredLogger, a *app) error {
				return a.orch.DeleteAll(cmd.Context())
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete stacks even when a step configures on_delete")
	return cmd
}

func newDeployCommand(root *rootOptions, cfgPath, logLevel *string) *cobra.Command {
	var build string
	cmd := &cobra.Command{
		Use:   "deploy STACK",
		Short: "Deploy a single stack to the given build version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, *cfgPath, *logLevel, buildOptions{}, func(_ *zap.SugaredLogger, a *app) error {
				stack, ok := a.stacks[args[0]]
				if !ok {
					return fmt.Errorf("unknown stack %q", args[0])
				}
				return stack.Deploy(cmd.Context(), build)
			})
		},
	}
	cmd.Flags().StringVar(&build, "build", "", "Build version to deploy")
	cobra.CheckErr(cmd.MarkFlagRequired("build"))
	return cmd
}

func newDeleteCommand(root *rootOptions, cfgPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete STACK",
		Short: "Delete a single stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, *cfgPath, *logLevel, buildOptions{}, func(_ *zap.SugaredLogger, a *app) error {
				stack, ok := a.stacks[args[0]]
				if !ok {
					return fmt.Errorf("unknown stack %q", args[0])
				}
				return stack.Delete(cmd.Context())
			})
		},
	}
}

func newRunCommand(root *rootOptions, cfgPath, logLevel *string) *cobra.Command {
	var build string
	cmd := &cobra.Command{
		Use:   "run OPERATION",
		Short: "Run a registered operation, e.g. an extra command from the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, *cfgPath, *logLevel, buildOptions{}, func(_ *zap.SugaredLogger, a *app) error {
				op, err := a.registry.Operation(args[0])
				if err != nil {
					return err
				}
				return op(cmd.Context(), build)
			})
		},
	}
	cmd.Flags().StringVar(&build, "build", "", "Build version passed to the operation")
	return cmd
}

func newVersionCommand(root *rootOptions, cfgPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the deployed application version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, root, *cfgPath, *logLevel, buildOptions{}, func(_ *zap.SugaredLogger, a *app) error {
				current, err := a.store.Current(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), current)
				return nil
			})
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set VERSION",
			Short: "Set the deployed application version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, root, *cfgPath, *logLevel, buildOptions{}, func(_ *zap.SugaredLogger, a *app) error {
					return a.store.Set(cmd.Context(), args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "unset",
			Short: "Remove the deployed application version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, root, *cfgPath, *logLevel, buildOptions{}, func(_ *zap.SugaredLogger, a *app) error {
					return a.store.Unset(cmd.Context())
				})
			},
		},
	)
	return cmd
}
