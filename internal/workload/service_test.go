package workload

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"workloadlauncher/internal/apperrors"
)

type recordingOrchestrator struct {
	calls   []string
	err     error
	deleted bool
}

func (r *recordingOrchestrator) LaunchReplication(ctx context.Context, input *JobInput, workloadID string) error {
	r.calls = append(r.calls, "replication:"+workloadID)
	return r.err
}

func (r *recordingOrchestrator) LaunchCheck(ctx context.Context, input *JobInput, workloadID string) error {
	r.calls = append(r.calls, "check:"+workloadID)
	return r.err
}

func (r *recordingOrchestrator) LaunchDiscover(ctx context.Context, input *JobInput, workloadID string) error {
	r.calls = append(r.calls, "discover:"+workloadID)
	return r.err
}

func (r *recordingOrchestrator) LaunchSpec(ctx context.Context, input *JobInput, workloadID string) error {
	r.calls = append(r.calls, "spec:"+workloadID)
	return r.err
}

func (r *recordingOrchestrator) PodsExistForWorkload(ctx context.Context, workloadID string) (bool, error) {
	r.calls = append(r.calls, "exists:"+workloadID)
	return true, r.err
}

func (r *recordingOrchestrator) DeleteByMutex(ctx context.Context, mutexKey string) (bool, error) {
	r.calls = append(r.calls, "delete:"+mutexKey)
	return r.deleted, r.err
}

func (r *recordingOrchestrator) Ready(ctx context.Context) error { return nil }
func (r *recordingOrchestrator) Close() error                    { return nil }

func replicationInput() *JobInput {
	return &JobInput{
		JobRun:       JobRunConfig{JobID: "42", AttemptID: 1},
		ConnectionID: "conn-1",
		MutexKey:     "M1",
		Source:       &LaunchConfig{Image: "airbyte/source-postgres:3.4.0"},
		Destination:  &LaunchConfig{Image: "airbyte/destination-s3:1.0.0"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		kind       Kind
		input      *JobInput
		workloadID string
		wantErr    bool
		errMsg     string
	}{
		{
			name:       "empty workload ID",
			kind:       KindReplication,
			input:      replicationInput(),
			workloadID: "",
			wantErr:    true,
			errMsg:     "workload ID is required",
		},
		{
			name:       "workload ID too long for a label",
			kind:       KindReplication,
			input:      replicationInput(),
			workloadID: strings.Repeat("a", 64),
			wantErr:    true,
			errMsg:     "exceeds maximum length",
		},
		{
			name:       "workload ID ending in dash",
			kind:       KindReplication,
			input:      replicationInput(),
			workloadID: "w1-",
			wantErr:    true,
			errMsg:     "must be alphanumeric",
		},
		{
			name:       "missing job ID",
			kind:       KindReplication,
			input:      &JobInput{Source: &LaunchConfig{Image: "a"}, Destination: &LaunchConfig{Image: "b"}},
			workloadID: "w1",
			wantErr:    true,
			errMsg:     "job ID is required",
		},
		{
			name: "replication without destination",
			kind: KindReplication,
			input: &JobInput{
				JobRun: JobRunConfig{JobID: "42"},
				Source: &LaunchConfig{Image: "airbyte/source-postgres:3.4.0"},
			},
			workloadID: "w1",
			wantErr:    true,
			errMsg:     "destination launch config is required",
		},
		{
			name: "invalid mutex key",
			kind: KindReplication,
			input: func() *JobInput {
				in := replicationInput()
				in.MutexKey = "not a label value"
				return in
			}(),
			workloadID: "w1",
			wantErr:    true,
			errMsg:     "invalid mutex key",
		},
		{
			name: "invalid pass-through label",
			kind: KindReplication,
			input: func() *JobInput {
				in := replicationInput()
				in.Labels = map[string]string{"team": "data eng"}
				return in
			}(),
			workloadID: "w1",
			wantErr:    true,
			errMsg:     "invalid label value",
		},
		{
			name: "check without config",
			kind: KindCheck,
			input: &JobInput{
				JobRun:    JobRunConfig{JobID: "42"},
				Connector: &LaunchConfig{Image: "airbyte/source-postgres:3.4.0"},
			},
			workloadID: "w1",
			wantErr:    true,
			errMsg:     "connector configuration is required",
		},
		{
			name: "spec without config",
			kind: KindSpec,
			input: &JobInput{
				JobRun:    JobRunConfig{JobID: "42"},
				Connector: &LaunchConfig{Image: "airbyte/source-postgres:3.4.0"},
			},
			workloadID: "w1",
			wantErr:    false,
		},
		{
			name:       "unknown kind",
			kind:       Kind("sync"),
			input:      replicationInput(),
			workloadID: "w1",
			wantErr:    true,
			errMsg:     "unknown workload kind",
		},
		{
			name:       "valid replication",
			kind:       KindReplication,
			input:      replicationInput(),
			workloadID: "w1",
			wantErr:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validate(tt.kind, tt.input, tt.workloadID)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Errorf("expected validation error, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	input := replicationInput()
	input.Destination.JobID = "override"

	applyDefaults(input)

	if input.Source.JobID != "42" || input.Source.AttemptID != 1 {
		t.Errorf("expected source to inherit job run, got %+v", input.Source)
	}
	if input.Source.ConnectionID != "conn-1" {
		t.Errorf("expected source to inherit connection ID, got %q", input.Source.ConnectionID)
	}
	if input.Destination.JobID != "override" {
		t.Errorf("expected explicit destination job ID to be kept, got %q", input.Destination.JobID)
	}
}

func TestService_LaunchDispatchesByKind(t *testing.T) {
	t.Parallel()

	check := func() *JobInput {
		return &JobInput{
			JobRun:          JobRunConfig{JobID: "7"},
			Connector:       &LaunchConfig{Image: "airbyte/source-postgres:3.4.0"},
			ConnectorConfig: json.RawMessage(`{"host":"db"}`),
		}
	}

	tests := []struct {
		kind  Kind
		input func() *JobInput
		want  string
	}{
		{KindReplication, replicationInput, "replication:w1"},
		{KindCheck, check, "check:w1"},
		{KindDiscover, check, "discover:w1"},
		{KindSpec, check, "spec:w1"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			orch := &recordingOrchestrator{}
			svc := NewService(orch)

			if err := svc.Launch(context.Background(), tt.kind, tt.input(), "w1"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(orch.calls) != 1 || orch.calls[0] != tt.want {
				t.Errorf("expected call %q, got %v", tt.want, orch.calls)
			}
		})
	}
}

func TestService_LaunchRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	orch := &recordingOrchestrator{}
	svc := NewService(orch)

	err := svc.Launch(context.Background(), KindReplication, nil, "w1")
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(orch.calls) != 0 {
		t.Errorf("expected no orchestrator calls, got %v", orch.calls)
	}
}

func TestService_LaunchPropagatesStageError(t *testing.T) {
	t.Parallel()
	stageErr := apperrors.InitCrash("pod-a", "terminated")
	svc := NewService(&recordingOrchestrator{err: stageErr})

	err := svc.Launch(context.Background(), KindReplication, replicationInput(), "w1")
	if !errors.Is(err, apperrors.ErrInitCrash) {
		t.Errorf("expected init crash error, got %v", err)
	}
}

func TestService_DeleteByMutex(t *testing.T) {
	t.Parallel()
	orch := &recordingOrchestrator{deleted: true}
	svc := NewService(orch)

	if _, err := svc.DeleteByMutex(context.Background(), "  "); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error for blank key, got %v", err)
	}

	deleted, err := svc.DeleteByMutex(context.Background(), "M1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Error("expected deleted to be true")
	}
	if len(orch.calls) != 1 || orch.calls[0] != "delete:M1" {
		t.Errorf("expected a single delete call, got %v", orch.calls)
	}
}
