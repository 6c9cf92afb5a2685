// Package plan defines the cage jobs produced by script evaluation. A Plan
// is a named, ordered list of Jobs; each Job says where its reference and
// base meshes come from, where the cage goes, and which construction
// settings it overrides.
package plan

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chazu/cagebake/pkg/cage"
	"github.com/chazu/cagebake/pkg/kernel"
	"github.com/samber/lo"
)

// SourceKind says how a mesh is obtained.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceFile
	SourceSolid
	SourceIcosphere
)

func (k SourceKind) String() string {
	switch k {
	case SourceNone:
		return "none"
	case SourceFile:
		return "file"
	case SourceSolid:
		return "solid"
	case SourceIcosphere:
		return "icosphere"
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

// Source describes where a job mesh comes from.
type Source struct {
	Kind SourceKind

	// Path is the OBJ file for SourceFile.
	Path string

	// Solid and Cells describe a procedural solid tessellated with marching
	// cubes for SourceSolid. Zero Cells means kernel.DefaultCells.
	Solid kernel.Solid
	Cells int

	// Radius and Subdivisions describe a SourceIcosphere.
	Radius       float64
	Subdivisions int

	// Expr is the script expression that produced the source, for messages.
	Expr string
}

// FileSource returns a Source reading an OBJ file.
func FileSource(path string) Source {
	return Source{Kind: SourceFile, Path: path, Expr: fmt.Sprintf("(load %q)", path)}
}

// SolidSource returns a Source tessellating s.
func SolidSource(s kernel.Solid, cells int, expr string) Source {
	return Source{Kind: SourceSolid, Solid: s, Cells: cells, Expr: expr}
}

// IcosphereSource returns a Source generating an icosphere.
func IcosphereSource(radius float64, subdivisions int) Source {
	return Source{
		Kind:         SourceIcosphere,
		Radius:       radius,
		Subdivisions: subdivisions,
		Expr:         fmt.Sprintf("(icosphere :radius %g :subdivisions %d)", radius, subdivisions),
	}
}

func (s Source) String() string {
	if s.Expr != "" {
		return s.Expr
	}
	return s.Kind.String()
}

func (s Source) validate() error {
	switch s.Kind {
	case SourceNone:
		return fmt.Errorf("missing")
	case SourceFile:
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("empty file path")
		}
	case SourceSolid:
		if s.Solid == nil {
			return fmt.Errorf("nil solid")
		}
		if s.Cells < 0 {
			return fmt.Errorf("negative cell count %d", s.Cells)
		}
	case SourceIcosphere:
		if s.Radius <= 0 {
			return fmt.Errorf("icosphere radius must be positive, got %g", s.Radius)
		}
		if s.Subdivisions < 0 {
			return fmt.Errorf("icosphere subdivisions must not be negative, got %d", s.Subdivisions)
		}
	default:
		return fmt.Errorf("unknown source kind %s", s.Kind)
	}
	return nil
}

// Overrides holds per-job construction settings. Nil fields inherit from
// the run configuration.
type Overrides struct {
	Padding       *float64
	MaxIterations *int
	Stall         *cage.StallPolicy
	Index         *cage.IndexKind
}

// Apply returns c with every set override applied.
func (o Overrides) Apply(c cage.Config) cage.Config {
	c.Padding = lo.FromPtrOr(o.Padding, c.Padding)
	c.MaxIterations = lo.FromPtrOr(o.MaxIterations, c.MaxIterations)
	c.Stall = lo.FromPtrOr(o.Stall, c.Stall)
	c.Index = lo.FromPtrOr(o.Index, c.Index)
	return c
}

// Job is one cage to build.
type Job struct {
	Name      string
	Reference Source
	Base      Source
	Out       string // output OBJ path; empty means OutPath's default
	Overrides Overrides
}

// OutPath returns the output path, defaulting to "<name>_cage.obj".
func (j *Job) OutPath() string {
	if j.Out != "" {
		return j.Out
	}
	return j.Name + "_cage.obj"
}

// Plan is the ordered set of jobs declared by a script.
type Plan struct {
	Jobs   []*Job
	byName map[string]*Job
}

// New creates an empty Plan.
func New() *Plan {
	return &Plan{byName: make(map[string]*Job)}
}

// AddJob appends j. Job names must be unique.
func (p *Plan) AddJob(j *Job) error {
	if _, ok := p.byName[j.Name]; ok {
		return fmt.Errorf("duplicate job name %q", j.Name)
	}
	p.Jobs = append(p.Jobs, j)
	p.byName[j.Name] = j
	return nil
}

// Lookup returns the job with the given name, or nil.
func (p *Plan) Lookup(name string) *Job {
	return p.byName[name]
}

// Names returns the job names in declaration order.
func (p *Plan) Names() []string {
	return lo.Map(p.Jobs, func(j *Job, _ int) string { return j.Name })
}

// Len returns the number of jobs.
func (p *Plan) Len() int {
	return len(p.Jobs)
}

// ValidationError describes a single problem with a plan.
type ValidationError struct {
	Job     string // job name, empty if plan-level
	Message string
}

func (e ValidationError) Error() string {
	if e.Job == "" {
		return e.Message
	}
	return fmt.Sprintf("job %q: %s", e.Job, e.Message)
}

// Validate checks every job against base, the run configuration the job
// overrides are applied to. An empty slice means the plan is valid. This
// function is read-only.
func Validate(p *Plan, base cage.Config) []ValidationError {
	var errs []ValidationError
	for _, j := range p.Jobs {
		if strings.TrimSpace(j.Name) == "" {
			errs = append(errs, ValidationError{Message: "job has an empty name"})
		}
		if err := j.Reference.validate(); err != nil {
			errs = append(errs, ValidationError{Job: j.Name, Message: "reference: " + err.Error()})
		}
		if err := j.Base.validate(); err != nil {
			errs = append(errs, ValidationError{Job: j.Name, Message: "base: " + err.Error()})
		}
		if err := j.Overrides.Apply(base).WithDefaults().Validate(); err != nil {
			errs = append(errs, ValidationError{Job: j.Name, Message: err.Error()})
		}
	}

	outs := lo.Map(p.Jobs, func(j *Job, _ int) string { return filepath.Clean(j.OutPath()) })
	for _, dup := range lo.FindDuplicates(outs) {
		errs = append(errs, ValidationError{Message: fmt.Sprintf("output %s is written by more than one job", dup)})
	}
	return errs
}
