package cfn

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/fatih/color"
)

var (
	addColor    = color.New(color.FgGreen)
	modifyColor = color.New(color.FgYellow)
	removeColor = color.New(color.FgRed)
)

// FormatChanges renders a changeset's changes for the deploy log, one
// resource per line with its action up front.
func FormatChanges(changes []types.Change) string {
	lines := make([]string, 0, len(changes))
	for _, change := range changes {
		rc := change.ResourceChange
		if rc == nil {
			continue
		}
		line := fmt.Sprintf("%s %s(%s)",
			formatAction(rc.Action),
			aws.ToString(rc.LogicalResourceId),
			aws.ToString(rc.ResourceType),
		)
		if len(rc.Details) > 0 {
			line += ":\n\t" + formatDetails(rc.Details)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatAction(action types.ChangeAction) string {
	label := fmt.Sprintf("[%s]", strings.ToUpper(string(action)))
	switch action {
	case types.ChangeActionAdd:
		return addColor.Sprint(label)
	case types.ChangeActionModify:
		return modifyColor.Sprint(label)
	case types.ChangeActionRemove:
		return removeColor.Sprint(label)
	default:
		return label
	}
}

func formatDetails(details []types.ResourceChangeDetail) string {
	parts := make([]string, 0, len(details))
	for _, detail := range details {
		if detail.Target == nil {
			continue
		}
		part := string(detail.Target.Attribute)
		if name := aws.ToString(detail.Target.Name); name != "" {
			part += "." + name
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}
