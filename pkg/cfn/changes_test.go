package cfn

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestFormatChanges(t *testing.T) {
	color.NoColor = true

	changes := []types.Change{
		{ResourceChange: &types.ResourceChange{
			Action:            types.ChangeActionAdd,
			LogicalResourceId: aws.String("Queue"),
			ResourceType:      aws.String("AWS::SQS::Queue"),
		}},
		{ResourceChange: &types.ResourceChange{
			Action:            types.ChangeActionModify,
			LogicalResourceId: aws.String("Service"),
			ResourceType:      aws.String("AWS::ECS::Service"),
			Details: []types.ResourceChangeDetail{{
				Target: &types.ResourceTargetDefinition{
					Attribute: types.ResourceAttributeProperties,
					Name:      aws.String("DesiredCount"),
				},
			}},
		}},
		{ResourceChange: &types.ResourceChange{
			Action:            types.ChangeActionRemove,
			LogicalResourceId: aws.String("OldTopic"),
			ResourceType:      aws.String("AWS::SNS::Topic"),
		}},
	}

	got := FormatChanges(changes)
	assert.Contains(t, got, "[ADD] Queue(AWS::SQS::Queue)")
	assert.Contains(t, got, "[MODIFY] Service(AWS::ECS::Service):\n\tProperties.DesiredCount")
	assert.Contains(t, got, "[REMOVE] OldTopic(AWS::SNS::Topic)")
}

func TestFormatChangesSkipsMissingResourceChange(t *testing.T) {
	color.NoColor = true
	assert.Equal(t, "", FormatChanges([]types.Change{{}}))
}
