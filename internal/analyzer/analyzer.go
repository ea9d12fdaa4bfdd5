package analyzer

import (
	"context"
	"errors"
)

// Well-known analyzer capability names, matching the /api/ml/ route segment.
const (
	WritingRecognition = "writing_recognition"
	FaceRecognition    = "face_recognition"
	ColorRecognition   = "color_recognition"
	Classifier         = "classifier"
)

// ErrUnknownAnalyzer indicates a capability name with no registered analyzer.
var ErrUnknownAnalyzer = errors.New("analyzer: unknown capability")

// Request points an analyzer at a stored image. OutputPath is set only for
// capabilities that produce a derivative image.
type Request struct {
	ImagePath  string
	OutputPath string
}

// Result contains the outcome returned by an analyzer capability.
type Result struct {
	Success bool    `json:"success"`
	Score   float32 `json:"score"`
	Output  string  `json:"output"`
}

// Analyzer is an opaque analysis capability. Implementations know nothing
// about how the target image was selected.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Capability pairs an analyzer with its dispatch traits.
type Capability struct {
	Analyzer Analyzer
	// WritesOutput marks capabilities that emit a derivative image under the
	// namespace's output directory.
	WritesOutput bool
}

// Registry maps capability names to analyzers.
type Registry struct {
	capabilities map[string]Capability
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{capabilities: make(map[string]Capability)}
}

// Register adds or replaces a named capability.
func (r *Registry) Register(name string, cap Capability) {
	r.capabilities[name] = cap
}

// Lookup resolves a capability by name.
func (r *Registry) Lookup(name string) (Capability, error) {
	cap, ok := r.capabilities[name]
	if !ok {
		return Capability{}, ErrUnknownAnalyzer
	}
	return cap, nil
}

// Names lists the registered capability names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	return names
}
