// Package naming generates platform-legal pod and container names.
package naming

import (
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
	"unicode"
	"workloadlauncher/internal/workload"

	"github.com/google/go-containerregistry/pkg/name"
	"k8s.io/apimachinery/pkg/util/validation"
)

// MaxLength is the longest name the platform accepts.
const MaxLength = validation.DNS1123LabelMaxLength

const (
	suffixLength = 5
	letters      = "abcdefghijklmnopqrstuvwxyz"
)

// Generator builds pod names from image, job type, job id and attempt.
type Generator struct {
	suffix func() string
}

// NewGenerator returns a generator with a random lowercase suffix.
func NewGenerator() *Generator {
	return &Generator{suffix: randomSuffix}
}

// NewGeneratorWithSuffix returns a generator using suffix for the trailing part.
func NewGeneratorWithSuffix(suffix func() string) *Generator {
	return &Generator{suffix: suffix}
}

func randomSuffix() string {
	b := make([]byte, suffixLength)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

// Name returns {shortImage}-{kind}-{jobID}-{attempt}-{suffix}, lowercased,
// truncated from the front to MaxLength and starting with a letter.
func (g *Generator) Name(image string, kind workload.Kind, jobID string, attempt int64) string {
	raw := fmt.Sprintf("%s-%s-%s-%d-%s", ShortImageName(image), kind, jobID, attempt, g.suffix())
	return legalize(raw)
}

// Replication returns the name of a replication pod.
func Replication(jobID string, attempt int64) string {
	return legalize(fmt.Sprintf("replication-job-%s-attempt-%d", jobID, attempt))
}

// Orchestrator returns the name of a replication orchestrator pod.
func Orchestrator(jobID string, attempt int64) string {
	return legalize(fmt.Sprintf("orchestrator-repl-job-%s-attempt-%d", jobID, attempt))
}

// ShortImageName strips registry, repository path, tag and digest.
// "docker.io/airbyte/source-postgres:3.4.0" -> "source-postgres".
func ShortImageName(image string) string {
	if ref, err := name.ParseReference(image, name.WeakValidation); err == nil {
		return path.Base(ref.Context().RepositoryStr())
	}

	short := image
	if i := strings.Index(short, "@"); i >= 0 {
		short = short[:i]
	}
	if i := strings.LastIndex(short, "/"); i >= 0 {
		short = short[i+1:]
	}
	if i := strings.Index(short, ":"); i >= 0 {
		short = short[:i]
	}
	return short
}

// WithRegistry prefixes image with registry unless the image already names one.
func WithRegistry(image, registry string) string {
	registry = strings.TrimSuffix(strings.TrimSpace(registry), "/")
	if registry == "" || hasRegistry(image) {
		return image
	}
	return registry + "/" + image
}

// hasRegistry follows the docker rule: the first path component is a
// registry if it contains "." or ":" or is "localhost".
func hasRegistry(image string) bool {
	first, _, found := strings.Cut(image, "/")
	if !found {
		return false
	}
	return strings.ContainsAny(first, ".:") || first == "localhost"
}

func legalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if len(out) > MaxLength {
		out = out[len(out)-MaxLength:]
	}
	return strings.TrimLeftFunc(out, func(r rune) bool { return !unicode.IsLetter(r) })
}
