package initwait

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
	"workloadlauncher/internal/transfer"

	"github.com/spf13/afero"
)

func TestCheckReady(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()

	if CheckReady(fs, "/config") {
		t.Error("CheckReady should return false when marker doesn't exist")
	}
	if err := afero.WriteFile(fs, "/config/"+transfer.MarkerFile, nil, 0o644); err != nil {
		t.Fatalf("Failed to create marker file: %v", err)
	}
	if !CheckReady(fs, "/config") {
		t.Error("CheckReady should return true when marker exists")
	}
}

func TestRunner_WaitsForMarker(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	runner, err := NewRunner(&Config{ConfigDir: "/config", Timeout: 5 * time.Second, PollInterval: 5 * time.Millisecond}, fs)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("Run returned before the marker was written: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if err := afero.WriteFile(fs, "/config/"+transfer.MarkerFile, nil, 0o644); err != nil {
		t.Fatalf("Failed to create marker file: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the marker was written")
	}
}

func TestRunner_Timeout(t *testing.T) {
	t.Parallel()
	runner, err := NewRunner(&Config{ConfigDir: "/config", Timeout: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond}, afero.NewMemMapFs())
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	if err := runner.Run(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRunner_WritesFetchedFiles(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	cfg := &Config{
		ConfigDir: "/config",
		Timeout:   time.Second,
		FilesJSON: `{"input.json":"{\"jobId\":\"42\"}","envMap.json":"{}","FINISHED_UPLOADING":"ignored"}`,
	}
	runner, err := NewRunner(cfg, fs)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := afero.ReadFile(fs, filepath.Join("/config", "input.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != `{"jobId":"42"}` {
		t.Errorf("unexpected content %q", got)
	}
	marker, err := afero.ReadFile(fs, filepath.Join("/config", transfer.MarkerFile))
	if err != nil {
		t.Fatalf("expected marker file: %v", err)
	}
	if len(marker) != 0 {
		t.Errorf("expected empty marker, got %q", marker)
	}
}

func TestNewRunner_InvalidFiles(t *testing.T) {
	t.Parallel()
	if _, err := NewRunner(&Config{FilesJSON: "not json"}, afero.NewMemMapFs()); err == nil {
		t.Error("expected error for malformed INIT_FILES")
	}
}
