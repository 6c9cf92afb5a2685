// Package config loads cagebake settings from a YAML file. kernel picks the
// geometry kernel for procedural sources, cage holds the construction
// settings passed to cage.Build and runner controls how a plan's jobs are
// scheduled.
//
//	kernel: sdfx
//	cage:
//	  padding: 0.0001
//	  max_iterations: 100
//	  stall: count
//	  index: bvh
//	runner:
//	  concurrency: 4
//	  timeout: 2m
//	  dir: assets
//	  skip_existing: true
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/chazu/cagebake/pkg/cage"
	"gopkg.in/yaml.v3"
)

// DefaultJobTimeout bounds a single cage job.
const DefaultJobTimeout = 5 * time.Minute

// Geometry kernels.
const (
	KernelSdfx     = "sdfx"
	KernelManifold = "manifold"
)

// Runner holds the job scheduling settings.
type Runner struct {
	// Concurrency is the number of jobs run at once.
	Concurrency int `yaml:"concurrency"`

	// Timeout bounds each job, e.g. "90s".
	Timeout time.Duration `yaml:"timeout"`

	// Dir resolves relative mesh paths named by a script.
	Dir string `yaml:"dir"`

	// SkipExisting leaves jobs whose cage file already exists untouched.
	SkipExisting bool `yaml:"skip_existing"`
}

// File is the decoded configuration file.
type File struct {
	Kernel string      `yaml:"kernel"`
	Cage   cage.Config `yaml:"cage"`
	Runner Runner      `yaml:"runner"`
}

// Default returns the settings used when no file is given.
func Default() *File {
	return &File{
		Kernel: KernelSdfx,
		Cage:   cage.DefaultConfig(),
		Runner: Runner{
			Concurrency: runtime.NumCPU(),
			Timeout:     DefaultJobTimeout,
		},
	}
}

// Parse decodes YAML over the defaults. Unknown keys are rejected and
// empty input yields the defaults.
func Parse(data []byte) (*File, error) {
	f := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks every setting.
func (f *File) Validate() error {
	if f.Kernel != KernelSdfx && f.Kernel != KernelManifold {
		return fmt.Errorf("unknown kernel %q, expected %s or %s", f.Kernel, KernelSdfx, KernelManifold)
	}
	if err := f.Cage.WithDefaults().Validate(); err != nil {
		return err
	}
	if f.Runner.Concurrency < 1 {
		return fmt.Errorf("runner concurrency must be at least 1, got %d", f.Runner.Concurrency)
	}
	if f.Runner.Timeout < 0 {
		return fmt.Errorf("runner timeout must not be negative, got %s", f.Runner.Timeout)
	}
	return nil
}

// Marshal encodes f as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}
