package workload

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"workloadlauncher/internal/apperrors"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Validation limits
const (
	maxWorkloadIDLength = validation.LabelValueMaxLength
	maxMutexKeyLength   = validation.LabelValueMaxLength
	maxLabels           = 32
)

// workloadIDPattern allows alphanumeric, hyphens, underscores and dots; it is used as a label value
var workloadIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]*[a-zA-Z0-9])?$`)

// Service validates launch requests and hands them to an Orchestrator.
//
// The Service is stateless - all pod state lives on the backend and is
// discovered through labels.
type Service struct {
	orchestrator Orchestrator
}

// NewService creates a new workload service.
func NewService(orchestrator Orchestrator) *Service {
	return &Service{orchestrator: orchestrator}
}

// Launch validates input and launches a workload of the given kind.
// Note: This method fills launch-config identifiers from the job run before validation.
func (s *Service) Launch(ctx context.Context, kind Kind, input *JobInput, workloadID string) error {
	if input == nil {
		return apperrors.Validation("input", "job input is required")
	}
	applyDefaults(input)
	if err := validate(kind, input, workloadID); err != nil {
		return err
	}

	logger := slog.With("workloadId", workloadID, "kind", kind, "jobId", input.JobRun.JobID, "attempt", input.JobRun.AttemptID)

	var err error
	switch kind {
	case KindReplication:
		err = s.orchestrator.LaunchReplication(ctx, input, workloadID)
	case KindCheck:
		err = s.orchestrator.LaunchCheck(ctx, input, workloadID)
	case KindDiscover:
		err = s.orchestrator.LaunchDiscover(ctx, input, workloadID)
	case KindSpec:
		err = s.orchestrator.LaunchSpec(ctx, input, workloadID)
	}
	if err != nil {
		logger.Error("Workload launch failed", "stage", apperrors.StageOf(err), "error", err)
		return err
	}

	logger.Info("Workload launched")
	return nil
}

// PodsExist reports whether live pods carry the workload id.
func (s *Service) PodsExist(ctx context.Context, workloadID string) (bool, error) {
	if err := validateWorkloadID(workloadID); err != nil {
		return false, err
	}
	return s.orchestrator.PodsExistForWorkload(ctx, workloadID)
}

// DeleteByMutex removes live pods holding the mutex key.
func (s *Service) DeleteByMutex(ctx context.Context, mutexKey string) (bool, error) {
	if strings.TrimSpace(mutexKey) == "" {
		return false, apperrors.Validation("mutexKey", "mutex key is required")
	}
	logger := slog.With("mutexKey", mutexKey)

	deleted, err := s.orchestrator.DeleteByMutex(ctx, mutexKey)
	if err != nil {
		logger.Error("Mutex pod deletion failed", "error", err)
		return false, err
	}
	logger.Info("Mutex pods deleted", "deleted", deleted)
	return deleted, nil
}

// applyDefaults copies job-run identifiers into launch configs that omit them.
func applyDefaults(input *JobInput) {
	for _, lc := range []*LaunchConfig{input.Source, input.Destination, input.Connector} {
		if lc == nil {
			continue
		}
		if lc.JobID == "" {
			lc.JobID = input.JobRun.JobID
			lc.AttemptID = input.JobRun.AttemptID
		}
		if lc.ConnectionID == "" {
			lc.ConnectionID = input.ConnectionID
		}
		if lc.WorkspaceID == "" {
			lc.WorkspaceID = input.WorkspaceID
		}
	}
}

// validate validates a launch request. Does not modify the request.
func validate(kind Kind, input *JobInput, workloadID string) error {
	if err := validateWorkloadID(workloadID); err != nil {
		return err
	}

	if input.JobRun.JobID == "" {
		return apperrors.Validation("jobRun.jobId", "job ID is required")
	}
	if input.JobRun.AttemptID < 0 {
		return apperrors.Validation("jobRun.attemptId", "attempt ID cannot be negative")
	}

	if len(input.MutexKey) > maxMutexKeyLength {
		return apperrors.Validation("mutexKey", fmt.Sprintf("mutex key exceeds maximum length of %d", maxMutexKeyLength))
	}
	if input.MutexKey != "" {
		if errs := validation.IsValidLabelValue(input.MutexKey); len(errs) > 0 {
			return apperrors.Validation("mutexKey", "invalid mutex key: "+strings.Join(errs, "; "))
		}
	}

	if len(input.Labels) > maxLabels {
		return apperrors.Validation("labels", fmt.Sprintf("labels exceed maximum of %d entries", maxLabels))
	}
	for k, v := range input.Labels {
		if errs := validation.IsQualifiedName(k); len(errs) > 0 {
			return apperrors.Validation("labels", fmt.Sprintf("invalid label key %q: %s", k, strings.Join(errs, "; ")))
		}
		if errs := validation.IsValidLabelValue(v); len(errs) > 0 {
			return apperrors.Validation("labels", fmt.Sprintf("invalid label value for %q: %s", k, strings.Join(errs, "; ")))
		}
	}

	switch kind {
	case KindReplication:
		if err := validateLaunchConfig("source", input.Source); err != nil {
			return err
		}
		if err := validateLaunchConfig("destination", input.Destination); err != nil {
			return err
		}
	case KindCheck, KindDiscover:
		if err := validateLaunchConfig("connector", input.Connector); err != nil {
			return err
		}
		if len(input.ConnectorConfig) == 0 {
			return apperrors.Validation("connectorConfig", "connector configuration is required")
		}
	case KindSpec:
		if err := validateLaunchConfig("connector", input.Connector); err != nil {
			return err
		}
	default:
		return apperrors.Validation("kind", fmt.Sprintf("unknown workload kind %q", kind))
	}

	return nil
}

func validateWorkloadID(workloadID string) error {
	if workloadID == "" {
		return apperrors.Validation("workloadId", "workload ID is required")
	}
	if len(workloadID) > maxWorkloadIDLength {
		return apperrors.Validation("workloadId", fmt.Sprintf("workload ID exceeds maximum length of %d", maxWorkloadIDLength))
	}
	if !workloadIDPattern.MatchString(workloadID) {
		return apperrors.Validation("workloadId", "workload ID must be alphanumeric (hyphens, underscores and dots allowed, not at either end)")
	}
	return nil
}

func validateLaunchConfig(field string, lc *LaunchConfig) error {
	if lc == nil {
		return apperrors.Validation(field, field+" launch config is required")
	}
	if lc.Image == "" {
		return apperrors.Validation(field+".image", field+" image is required")
	}
	return nil
}
