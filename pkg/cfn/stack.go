// Package cfn drives CloudFormation stack updates through the changeset
// protocol: stage a changeset, wait for it to become executable, execute
// it, and poll the stack until it reaches a terminal status.
package cfn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"go.uber.org/zap"
)

// DefaultTimeout bounds how long an executed changeset is polled before
// the operation is reported as failed.
const DefaultTimeout = time.Hour

// changeSetReadyTimeout bounds the wait for a staged changeset to become
// executable. Changesets are computed within seconds, not hours.
const changeSetReadyTimeout = time.Minute

// versionPlaceholder is replaced by the build version in template sources
// and parameter values, which keeps a deploy a pure function of the build.
const versionPlaceholder = "{version}"

const logGroupResourceType = "AWS::Logs::LogGroup"

// Config describes one CloudFormation stack managed by the deployer.
type Config struct {
	// Name is the short stack name from the application config.
	Name string
	// AppName is the owning application's name.
	AppName string
	// Namespace isolates deployments that share an account.
	Namespace string
	// AccountUnique stacks are named after the application rather than
	// the namespace, so only one copy exists per account.
	AccountUnique bool
	// Template is a local file path or http(s) URL; it may contain the
	// {version} placeholder.
	Template string
	// Parameters are passed to the changeset; values may contain the
	// {version} placeholder.
	Parameters map[string]string
	// Tags are applied to every resource in the stack.
	Tags map[string]string
	// Timeout bounds changeset execution; zero means DefaultTimeout.
	Timeout time.Duration
	// SweepLogGroups removes log groups left behind after the stack is
	// deleted.
	SweepLogGroups bool
}

// Stack wraps the remote CloudFormation API for a single stack. The remote
// stack is the source of truth; Stack holds only configuration.
type Stack struct {
	api  API
	logs LogsAPI
	log  *zap.SugaredLogger

	name           string
	stackName      string
	template       string
	parameters     map[string]string
	tags           []types.Tag
	timeout        time.Duration
	sweepLogGroups bool

	waiterFor func(time.Duration) *waiter
}

// NewStack builds a Stack from its configuration. The CloudFormation stack
// name is fixed here and never recomputed.
func NewStack(api API, logs LogsAPI, log *zap.SugaredLogger, cfg Config) *Stack {
	parts := []string{cfg.Namespace, cfg.Name}
	if cfg.AccountUnique {
		parts = []string{cfg.AppName, cfg.Name}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Stack{
		api:            api,
		logs:           logs,
		log:            log,
		name:           cfg.Name,
		stackName:      strings.Join(parts, "-"),
		template:       cfg.Template,
		parameters:     cfg.Parameters,
		tags:           tagList(cfg.Tags),
		timeout:        timeout,
		sweepLogGroups: cfg.SweepLogGroups,
		waiterFor:      newWaiter,
	}
}

func tagList(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	list := make([]types.Tag, 0, len(keys))
	for _, key := range keys {
		list = append(list, types.Tag{
			Key:   aws.String(key),
			Value: aws.String(tags[key]),
		})
	}
	return list
}

// Name returns the short stack name from the application config.
func (s *Stack) Name() string { return s.name }

// StackName returns the CloudFormation stack name.
func (s *Stack) StackName() string { return s.stackName }

// Exists reports whether the remote stack exists. The "does not exist"
// validation error is the negative answer, not a failure.
func (s *Stack) Exists(ctx context.Context) (bool, error) {
	_, err := s.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(s.stackName),
	})
	if err != nil {
		if isStackMissing(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe stack %s: %w", s.stackName, err)
	}
	return true, nil
}

// CreateChangeSet stages a changeset for the given build version and
// returns its name. The changeset type is CREATE when the stack does not
// exist yet, UPDATE otherwise.
func (s *Stack) CreateChangeSet(ctx context.Context, version string) (string, error) {
	exists, err := s.Exists(ctx)
	if err != nil {
		return "", err
	}
	changeSetType := types.ChangeSetTypeCreate
	if exists {
		changeSetType = types.ChangeSetTypeUpdate
	}

	name := fmt.Sprintf("%s-%s", s.stackName, time.Now().Format("2006-01-02-15-04-05"))
	input := &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(s.stackName),
		ChangeSetName: aws.String(name),
		ChangeSetType: changeSetType,
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityAutoExpand,
		},
		Parameters: s.parameterList(version),
		Tags:       s.tags,
	}

	template := substituteVersion(s.template, version)
	switch {
	case isLocalFile(template):
		body, err := os.ReadFile(template)
		if err != nil {
			return "", fmt.Errorf("failed to read template %s: %w", template, err)
		}
		input.TemplateBody = aws.String(string(body))
	case strings.HasPrefix(template, "http://"), strings.HasPrefix(template, "https://"):
		input.TemplateURL = aws.String(template)
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidTemplate, template)
	}

	s.log.Infof("Creating changeset %s.", name)
	if _, err := s.api.CreateChangeSet(ctx, input); err != nil {
		return "", fmt.Errorf("failed to create changeset for %s: %w", s.stackName, err)
	}
	return name, nil
}

func (s *Stack) parameterList(version string) []types.Parameter {
	keys := make([]string, 0, len(s.parameters))
	for key := range s.parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	list := make([]types.Parameter, 0, len(keys))
	for _, key := range keys {
		list = append(list, types.Parameter{
			ParameterKey:   aws.String(key),
			ParameterValue: aws.String(substituteVersion(s.parameters[key], version)),
		})
	}
	return list
}

func substituteVersion(value, version string) string {
	return strings.ReplaceAll(value, versionPlaceholder, version)
}

func isLocalFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// DescribeChangeSet blocks until the changeset is executable and returns
// its changes, following pagination in order. A FAILED changeset whose
// reason indicates an empty diff yields ErrEmptyChangeSet.
func (s *Stack) DescribeChangeSet(ctx context.Context, name string) ([]types.Change, error) {
	input := &cloudformation.DescribeChangeSetInput{
		ChangeSetName: aws.String(name),
		StackName:     aws.String(s.stackName),
	}

	w := s.waiterFor(changeSetReadyTimeout)
	for {
		if err := w.wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for changeset %s: %w", name, err)
		}
		out, err := s.api.DescribeChangeSet(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe changeset %s: %w", name, err)
		}

		if out.Status == types.ChangeSetStatusFailed {
			reason := aws.ToString(out.StatusReason)
			if isEmptyChangeSetReason(reason) {
				return nil, ErrEmptyChangeSet
			}
			return nil, fmt.Errorf("failed to create changeset for %s: %s", s.stackName, reason)
		}

		if out.Status == types.ChangeSetStatusCreateComplete &&
			out.ExecutionStatus == types.ExecutionStatusAvailable {
			changes := out.Changes
			token := out.NextToken
			for token != nil {
				input.NextToken = token
				page, err := s.api.DescribeChangeSet(ctx, input)
				if err != nil {
					return nil, fmt.Errorf("failed to describe changeset %s: %w", name, err)
				}
				changes = append(changes, page.Changes...)
				token = page.NextToken
			}
			return changes, nil
		}

		s.log.Infof("Status of changeset is `%s`.", out.Status)
	}
}

// ExecuteChangeSet executes a staged changeset and polls the stack until a
// terminal status. A terminal status reached by the stack rolling itself
// back counts as failure even though it ends in COMPLETE.
func (s *Stack) ExecuteChangeSet(ctx context.Context, name string, timeout time.Duration) error {
	s.log.Infof("Executing changeset `%s`.", name)
	_, err := s.api.ExecuteChangeSet(ctx, &cloudformation.ExecuteChangeSetInput{
		ChangeSetName: aws.String(name),
		StackName:     aws.String(s.stackName),
	})
	if err != nil {
		return fmt.Errorf("failed to execute changeset %s: %w", name, err)
	}

	status, err := s.waitForTerminalStatus(ctx, s.stackName, timeout)
	if err != nil {
		return err
	}
	s.log.Infof("Stack operation finished: %s", status)

	switch status {
	case types.StackStatusUpdateRollbackComplete,
		types.StackStatusRollbackComplete,
		types.StackStatusDeleteComplete:
		return fmt.Errorf("failed to create/update stack %s: status %s", s.stackName, status)
	}
	return nil
}

func (s *Stack) waitForTerminalStatus(ctx context.Context, nameOrID string, timeout time.Duration) (types.StackStatus, error) {
	w := s.waiterFor(timeout)
	for {
		if err := w.wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for stack %s: %w", nameOrID, err)
		}
		status, err := s.status(ctx, nameOrID)
		if err != nil {
			return "", err
		}
		if strings.HasSuffix(string(status), "FAILED") ||
			strings.HasSuffix(string(status), "COMPLETE") {
			return status, nil
		}
		s.log.Infof("Waiting till stack operation completes: %s.", status)
	}
}

func (s *Stack) status(ctx context.Context, nameOrID string) (types.StackStatus, error) {
	out, err := s.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(nameOrID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe stack %s: %w", nameOrID, err)
	}
	if len(out.Stacks) == 0 {
		return "", fmt.Errorf("stack %s not found", nameOrID)
	}
	return out.Stacks[0].StackStatus, nil
}

// Deploy stages, inspects, and executes a changeset for the given build
// version. An empty diff is logged and swallowed: a no-op deploy is
// success.
func (s *Stack) Deploy(ctx context.Context, version string) error {
	s.log.Infof("Building/Updating %s stack.", s.name)

	name, err := s.CreateChangeSet(ctx, version)
	if err != nil {
		return err
	}
	changes, err := s.DescribeChangeSet(ctx, name)
	if err != nil {
		if errors.Is(err, ErrEmptyChangeSet) {
			s.log.Infof("No change in %s stack.", s.stackName)
			return nil
		}
		return err
	}

	s.log.Infof("Changes in changeset `%s`:\n%s", name, FormatChanges(changes))
	return s.ExecuteChangeSet(ctx, name, s.timeout)
}

// Rollback re-deploys the rollback-target version. Rolling back is not a
// distinct code path: a deploy is fully determined by the build version.
func (s *Stack) Rollback(ctx context.Context, version string) error {
	return s.Deploy(ctx, version)
}

// Delete removes the remote stack. A stack that does not exist is a no-op.
// The stack is deleted by ID so its status remains observable after the
// name stops resolving.
func (s *Stack) Delete(ctx context.Context) error {
	exists, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		s.log.Infof("Stack %s does not exist.", s.stackName)
		return nil
	}

	out, err := s.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(s.stackName),
	})
	if err != nil {
		return fmt.Errorf("failed to describe stack %s: %w", s.stackName, err)
	}
	if len(out.Stacks) == 0 {
		return fmt.Errorf("stack %s not found", s.stackName)
	}
	stackID := aws.ToString(out.Stacks[0].StackId)

	s.log.Infof("Removing stack: %s.", stackID)
	if _, err := s.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(stackID),
	}); err != nil {
		return fmt.Errorf("failed to delete stack %s: %w", stackID, err)
	}

	status, err := s.waitForTerminalStatus(ctx, stackID, 0)
	if err != nil {
		return err
	}
	if status != types.StackStatusDeleteComplete {
		return fmt.Errorf("failed to delete stack %s: status %s", s.stackName, status)
	}
	s.log.Infof("Stack removed: %s.", stackID)

	if s.sweepLogGroups {
		if err := s.sweepOrphanedLogGroups(ctx, stackID); err != nil {
			return err
		}
	}
	return nil
}

// Outputs returns the stack's outputs keyed by output name.
func (s *Stack) Outputs(ctx context.Context) (map[string]string, error) {
	out, err := s.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(s.stackName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %s: %w", s.stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("stack %s not found", s.stackName)
	}

	outputs := make(map[string]string, len(out.Stacks[0].Outputs))
	for _, o := range out.Stacks[0].Outputs {
		outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return outputs, nil
}

// Resources returns the stack's resources as a logical-ID to physical-ID
// map, following pagination.
func (s *Stack) Resources(ctx context.Context) (map[string]string, error) {
	return s.resources(ctx, s.stackName)
}

func (s *Stack) resources(ctx context.Context, nameOrID string) (map[string]string, error) {
	resources := map[string]string{}
	paginator := cloudformation.NewListStackResourcesPaginator(s.api, &cloudformation.ListStackResourcesInput{
		StackName: aws.String(nameOrID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list resources of stack %s: %w", nameOrID, err)
		}
		for _, summary := range page.StackResourceSummaries {
			resources[aws.ToString(summary.LogicalResourceId)] = aws.ToString(summary.PhysicalResourceId)
		}
	}
	return resources, nil
}

// sweepOrphanedLogGroups removes log groups that were re-created behind
// CloudFormation's back while the stack was being deleted, so the next
// deploy does not collide with them. Log groups already gone are the
// expected case.
func (s *Stack) sweepOrphanedLogGroups(ctx context.Context, stackID string) error {
	paginator := cloudformation.NewListStackResourcesPaginator(s.api, &cloudformation.ListStackResourcesInput{
		StackName: aws.String(stackID),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list resources of stack %s: %w", stackID, err)
		}
		for _, summary := range page.StackResourceSummaries {
			if aws.ToString(summary.ResourceType) != logGroupResourceType {
				continue
			}
			logGroup := aws.ToString(summary.PhysicalResourceId)
			_, err := s.logs.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
				LogGroupName: aws.String(logGroup),
			})
			if err != nil {
				var notFound *cwltypes.ResourceNotFoundException
				if errors.As(err, &notFound) {
					continue
				}
				return fmt.Errorf("failed to delete log group %s: %w", logGroup, err)
			}
			s.log.Infof("Removed log group: %s", logGroup)
		}
	}
	return nil
}
