package naming

import (
	"strings"
	"testing"
	"unicode"
	"workloadlauncher/internal/workload"
)

func fixedSuffix(s string) func() string {
	return func() string { return s }
}

func TestShortImageName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		image string
		want  string
	}{
		{"alpine", "alpine"},
		{"alpine:3.20", "alpine"},
		{"airbyte/source-postgres:3.4.0", "source-postgres"},
		{"docker.io/airbyte/source-postgres:3.4.0", "source-postgres"},
		{"localhost:5000/team/dest-s3:dev", "dest-s3"},
		{"gcr.io/project/nested/path/source-faker@sha256:" + strings.Repeat("a", 64), "source-faker"},
		{"Airbyte/Source_Upper:1", "Source_Upper"},
	}

	for _, tt := range tests {
		t.Run(tt.image, func(t *testing.T) {
			t.Parallel()
			if got := ShortImageName(tt.image); got != tt.want {
				t.Errorf("ShortImageName(%q) = %q, want %q", tt.image, got, tt.want)
			}
		})
	}
}

func TestGenerator_Name(t *testing.T) {
	t.Parallel()
	g := NewGeneratorWithSuffix(fixedSuffix("abcde"))

	tests := []struct {
		name    string
		image   string
		kind    workload.Kind
		jobID   string
		attempt int64
		want    string
	}{
		{
			name:  "simple",
			image: "airbyte/source-postgres:3.4.0",
			kind:  workload.KindCheck,
			jobID: "42",
			want:  "source-postgres-check-42-0-abcde",
		},
		{
			name:    "separators replaced and lowercased",
			image:   "airbyte/Source_My.Connector:1",
			kind:    workload.KindDiscover,
			jobID:   "Job_7",
			attempt: 2,
			want:    "source-my-connector-discover-job-7-2-abcde",
		},
		{
			name:  "leading digits stripped",
			image: "acme/1password-source:1",
			kind:  workload.KindSpec,
			jobID: "9",
			want:  "password-source-spec-9-0-abcde",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := g.Name(tt.image, tt.kind, tt.jobID, tt.attempt); got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerator_NameTruncatesFromFront(t *testing.T) {
	t.Parallel()
	g := NewGeneratorWithSuffix(fixedSuffix("zyxwv"))
	image := "airbyte/source-" + strings.Repeat("verylong", 10) + ":1"

	got := g.Name(image, workload.KindCheck, "123456", 3)

	if len(got) > MaxLength {
		t.Fatalf("expected at most %d chars, got %d (%q)", MaxLength, len(got), got)
	}
	if !strings.HasSuffix(got, "-check-123456-3-zyxwv") {
		t.Errorf("expected suffix to survive truncation, got %q", got)
	}
	if !unicode.IsLetter(rune(got[0])) {
		t.Errorf("expected name to start with a letter, got %q", got)
	}
}

func TestGenerator_NameDiffersOnlyInSuffix(t *testing.T) {
	t.Parallel()
	g := NewGenerator()
	image := "airbyte/destination-" + strings.Repeat("warehouse", 8) + ":2.0.0"

	first := g.Name(image, workload.KindCheck, "99", 1)
	second := g.Name(image, workload.KindCheck, "99", 1)

	for _, n := range []string{first, second} {
		if len(n) > MaxLength {
			t.Errorf("%q exceeds %d chars", n, MaxLength)
		}
		if !unicode.IsLetter(rune(n[0])) {
			t.Errorf("%q does not start with a letter", n)
		}
	}
	if len(first) != len(second) {
		t.Fatalf("expected equal lengths, got %q and %q", first, second)
	}
	stable := len(first) - suffixLength
	if first[:stable] != second[:stable] {
		t.Errorf("expected identical prefixes, got %q and %q", first, second)
	}
	// Two random 5-letter suffixes colliding is a 1 in ~12M event.
	if first == second {
		t.Errorf("expected different suffixes, got %q twice", first)
	}
}

func TestReplicationNames(t *testing.T) {
	t.Parallel()
	if got := Replication("42", 1); got != "replication-job-42-attempt-1" {
		t.Errorf("Replication() = %q", got)
	}
	if got := Orchestrator("42", 1); got != "orchestrator-repl-job-42-attempt-1" {
		t.Errorf("Orchestrator() = %q", got)
	}
}

func TestWithRegistry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		image    string
		registry string
		want     string
	}{
		{"airbyte/source-postgres:3.4.0", "", "airbyte/source-postgres:3.4.0"},
		{"airbyte/source-postgres:3.4.0", "registry.acme.io/mirror/", "registry.acme.io/mirror/airbyte/source-postgres:3.4.0"},
		{"alpine", "registry.acme.io", "registry.acme.io/alpine"},
		{"ghcr.io/acme/source:1", "registry.acme.io", "ghcr.io/acme/source:1"},
		{"localhost/acme/source:1", "registry.acme.io", "localhost/acme/source:1"},
		{"localhost:5000/source:1", "registry.acme.io", "localhost:5000/source:1"},
	}

	for _, tt := range tests {
		t.Run(tt.image+"@"+tt.registry, func(t *testing.T) {
			t.Parallel()
			if got := WithRegistry(tt.image, tt.registry); got != tt.want {
				t.Errorf("WithRegistry(%q, %q) = %q, want %q", tt.image, tt.registry, got, tt.want)
			}
		})
	}
}
