package cfn

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

var (
	// ErrEmptyChangeSet is returned when a changeset computes to no resource
	// changes. Callers treat it as "nothing to do", not as a failure.
	ErrEmptyChangeSet = errors.New("change set contains no changes")

	// ErrInvalidTemplate is returned when a template source is neither a
	// readable local file nor an http(s) URL.
	ErrInvalidTemplate = errors.New("invalid template source")
)

// isStackMissing reports whether err is the CloudFormation validation error
// raised when a stack name does not resolve to an existing stack.
func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" &&
		strings.HasSuffix(apiErr.ErrorMessage(), "does not exist")
}

// isEmptyChangeSetReason reports whether a FAILED changeset status reason
// means the diff was empty. AWS words this two different ways.
func isEmptyChangeSetReason(reason string) bool {
	return strings.Contains(reason, "didn't contain changes") ||
		reason == "No updates are to be performed."
}
