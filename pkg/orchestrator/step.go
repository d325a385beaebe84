package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/sportsbet/ennio/pkg/cfn"
)

// Operation is a deploy or rollback action parameterized by a build
// version.
type Operation func(ctx context.Context, version string) error

// CleanupFunc is a delete action; it takes no version because tear-down
// is not tied to a build.
type CleanupFunc func(ctx context.Context) error

// Step is one unit in the deployment pipeline. The pipeline loop drives
// steps through this capability set without knowing whether a step is
// backed by a stack or by a named operation.
type Step interface {
	Name() string
	Deploy(ctx context.Context, version string) error
	Rollback(ctx context.Context, version string) error
	Delete(ctx context.Context) error
	IgnoreError() bool
}

// NoOp returns a cleanup that only logs. It backs `on_delete: pass` and
// the default delete of operation steps.
func NoOp(log *zap.SugaredLogger) CleanupFunc {
	return func(context.Context) error {
		log.Info("No operations performed.")
		return nil
	}
}

// StackStep drives a CloudFormation stack. Rollback deploys the
// rollback-target version through the same changeset path as a forward
// deploy.
type StackStep struct {
	stack       *cfn.Stack
	onDelete    CleanupFunc
	ignoreError bool
}

// NewStackStep wraps a stack in a pipeline step. A nil onDelete means the
// stack itself is deleted during tear-down.
func NewStackStep(stack *cfn.Stack, onDelete CleanupFunc, ignoreError bool) *StackStep {
	return &StackStep{stack: stack, onDelete: onDelete, ignoreError: ignoreError}
}

func (s *StackStep) Name() string { return s.stack.Name() }

func (s *StackStep) Deploy(ctx context.Context, version string) error {
	return s.stack.Deploy(ctx, version)
}

func (s *StackStep) Rollback(ctx context.Context, version string) error {
	return s.stack.Rollback(ctx, version)
}

func (s *StackStep) Delete(ctx context.Context) error {
	if s.onDelete != nil {
		return s.onDelete(ctx)
	}
	return s.stack.Delete(ctx)
}

func (s *StackStep) IgnoreError() bool { return s.ignoreError }

// OperationStep runs a named operation. Rollback re-applies the same
// operation with the rollback-target version; operations are assumed to
// be idempotent given a version.
type OperationStep struct {
	name        string
	op          Operation
	onDelete    CleanupFunc
	ignoreError bool
}

// NewOperationStep wraps a named operation in a pipeline step. onDelete
// must not be nil; callers pass NoOp when tear-down has nothing to undo.
func NewOperationStep(name string, op Operation, onDelete CleanupFunc, ignoreError bool) *OperationStep {
	return &OperationStep{name: name, op: op, onDelete: onDelete, ignoreError: ignoreError}
}

func (s *OperationStep) Name() string { return s.name }

func (s *OperationStep) Deploy(ctx context.Context, version string) error {
	return s.op(ctx, version)
}

func (s *OperationStep) Rollback(ctx context.Context, version string) error {
	return s.op(ctx, version)
}

func (s *OperationStep) Delete(ctx context.Context) error {
	return s.onDelete(ctx)
}

func (s *OperationStep) IgnoreError() bool { return s.ignoreError }
