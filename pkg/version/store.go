// Package version persists the application's deployed version in SSM
// Parameter Store, keyed by namespace.
package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"go.uber.org/zap"
)

// NoVersion marks an application that has never been deployed.
const NoVersion = "-1"

// API is the subset of the SSM client the store consumes.
type API interface {
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)

	DeleteParameter(
		ctx context.Context,
		params *ssm.DeleteParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.DeleteParameterOutput, error)
}

// Store is the version contract the orchestrator consumes.
type Store interface {
	Current(ctx context.Context) (string, error)
	Set(ctx context.Context, version string) error
	Unset(ctx context.Context) error
}

// ParameterStore reads and writes the deployed version of one namespace.
// The value is cached after the first read for the duration of the run;
// a failed write leaves the cache untouched.
type ParameterStore struct {
	api       API
	log       *zap.SugaredLogger
	namespace string
	cached    *string
}

// NewParameterStore returns a store for the given namespace.
func NewParameterStore(api API, log *zap.SugaredLogger, namespace string) *ParameterStore {
	return &ParameterStore{api: api, log: log, namespace: namespace}
}

func (s *ParameterStore) parameterName() string {
	return "/application-versions/" + s.namespace
}

// Current returns the deployed version, or NoVersion when the parameter
// has never been written.
func (s *ParameterStore) Current(ctx context.Context) (string, error) {
	if s.cached != nil {
		return *s.cached, nil
	}

	s.log.Infof("Getting version from SSM: %s.", s.parameterName())
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(s.parameterName()),
	})
	switch {
	case err == nil:
		value := aws.ToString(out.Parameter.Value)
		s.cached = &value
	case isParameterMissing(err):
		value := NoVersion
		s.cached = &value
	default:
		return "", fmt.Errorf("failed to get version parameter: %w", err)
	}

	s.log.Infof("Got application version: %s.", *s.cached)
	return *s.cached, nil
}

// Set persists the version and updates the cache only once the write has
// succeeded.
func (s *ParameterStore) Set(ctx context.Context, version string) error {
	s.log.Infof("Setting application version: %s.", version)
	_, err := s.api.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName()),
		Value:     aws.String(version),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to set version parameter: %w", err)
	}
	s.cached = &version
	return nil
}

// Unset removes the version from the store and clears the cache. A
// parameter that is already gone satisfies the call.
func (s *ParameterStore) Unset(ctx context.Context) error {
	s.log.Info("Removing application version.")
	_, err := s.api.DeleteParameter(ctx, &ssm.DeleteParameterInput{
		Name: aws.String(s.parameterName()),
	})
	switch {
	case err == nil:
		s.log.Info("Version removed from parameter store.")
	case isParameterMissing(err):
		s.log.Info("Version does not exist in parameter store.")
	default:
		return fmt.Errorf("failed to delete version parameter: %w", err)
	}
	s.cached = nil
	return nil
}

func isParameterMissing(err error) bool {
	var notFound *ssmtypes.ParameterNotFound
	return errors.As(err, &notFound)
}
