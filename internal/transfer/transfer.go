// Package transfer copies config files into a running pod's shared volume
// and signals completion with a marker file.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/observability"
)

const (
	// ConfigDir is where the shared config volume is mounted in every container.
	ConfigDir = "/config"

	// MarkerFile signals the init container that all config files are present.
	// It is always written last.
	MarkerFile = "FINISHED_UPLOADING"

	// AbruptExitCode is reported when the init container exits (SIGKILL) while
	// the marker copy is still attached. Writing the marker causes that exit.
	AbruptExitCode = 137
)

// File is one named config blob.
type File struct {
	Name    string
	Content []byte
}

// FileMap is an ordered list of config files.
type FileMap []File

// Add appends a file.
func (m *FileMap) Add(name string, content []byte) {
	*m = append(*m, File{Name: name, Content: content})
}

// Names returns the file names in order.
func (m FileMap) Names() []string {
	names := make([]string, len(m))
	for i, f := range m {
		names[i] = f.Name
	}
	return names
}

// WithMarker returns the files without any caller-supplied marker, followed by
// the marker.
func (m FileMap) WithMarker() FileMap {
	out := make(FileMap, 0, len(m)+1)
	for _, f := range m {
		if f.Name != MarkerFile {
			out = append(out, f)
		}
	}
	return append(out, File{Name: MarkerFile, Content: []byte{}})
}

// Target identifies the container a file is copied into.
type Target struct {
	Namespace string
	Pod       string
	Container string
}

func (t Target) String() string {
	return t.Namespace + "/" + t.Pod
}

// Copier writes one file into the target's config directory and reports the
// exit code of the copy process. A nil error with a non-zero code is a failed copy.
type Copier interface {
	Copy(ctx context.Context, target Target, file File) (exitCode int, err error)
}

// Outcome classifies a single copy.
type Outcome int

const (
	Success Outcome = iota
	SuccessViaAbruptExit
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SuccessViaAbruptExit:
		return "success_abrupt_exit"
	default:
		return "failure"
	}
}

// Result records how one file was copied.
type Result struct {
	File     string
	Outcome  Outcome
	ExitCode int
}

// Report lists copy results in copy order.
type Report []Result

// Channel transfers file maps through a Copier.
type Channel struct {
	copier  Copier
	metrics *observability.Metrics
}

// NewChannel creates a channel. metrics may be nil.
func NewChannel(copier Copier, metrics *observability.Metrics) *Channel {
	return &Channel{copier: copier, metrics: metrics}
}

// Transfer copies every file in order, then the marker. The first failed copy
// aborts the transfer with a config transfer error. A marker copy that exits
// with AbruptExitCode is a success.
func (c *Channel) Transfer(ctx context.Context, target Target, files FileMap) (Report, error) {
	logger := slog.With("pod", target.Pod, "namespace", target.Namespace)
	ordered := files.WithMarker()
	report := make(Report, 0, len(ordered))

	for _, f := range ordered {
		code, err := c.copier.Copy(ctx, target, f)
		outcome := classify(f.Name, code, err)
		report = append(report, Result{File: f.Name, Outcome: outcome, ExitCode: code})
		c.metrics.RecordConfigFileCopied(ctx, outcome.String())

		switch outcome {
		case SuccessViaAbruptExit:
			c.metrics.RecordAbruptExit(ctx)
			logger.Warn("Init container exited while marker was copied, treating as success", "exitCode", code)
		case Failure:
			if err == nil {
				err = fmt.Errorf("copy exited with code %d", code)
			}
			return report, apperrors.ConfigTransfer(target.String(), f.Name, code, err)
		}
	}

	logger.Info("Config files transferred", "files", len(ordered)-1)
	return report, nil
}

func classify(name string, code int, err error) Outcome {
	switch {
	case name == MarkerFile && code == AbruptExitCode:
		return SuccessViaAbruptExit
	case err != nil || code != 0:
		return Failure
	default:
		return Success
	}
}
