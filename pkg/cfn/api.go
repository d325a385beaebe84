package cfn

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// API is the subset of the CloudFormation client consumed by Stack. It
// abstracts the AWS SDK v2 client so the changeset protocol can be tested
// against fakes.
type API interface {
	DescribeStacks(
		ctx context.Context,
		params *cloudformation.DescribeStacksInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.DescribeStacksOutput, error)

	CreateChangeSet(
		ctx context.Context,
		params *cloudformation.CreateChangeSetInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.CreateChangeSetOutput, error)

	DescribeChangeSet(
		ctx context.Context,
		params *cloudformation.DescribeChangeSetInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.DescribeChangeSetOutput, error)

	ExecuteChangeSet(
		ctx context.Context,
		params *cloudformation.ExecuteChangeSetInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.ExecuteChangeSetOutput, error)

	DeleteStack(
		ctx context.Context,
		params *cloudformation.DeleteStackInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.DeleteStackOutput, error)

	ListStackResources(
		ctx context.Context,
		params *cloudformation.ListStackResourcesInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.ListStackResourcesOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client used to sweep
// orphaned log groups after a stack is deleted.
type LogsAPI interface {
	DeleteLogGroup(
		ctx context.Context,
		params *cloudwatchlogs.DeleteLogGroupInput,
		optFns ...func(*cloudwatchlogs.Options),
	) (*cloudwatchlogs.DeleteLogGroupOutput, error)
}
