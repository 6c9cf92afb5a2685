package cage

import (
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/chazu/cagebake/pkg/spatial"
)

// DefaultPadding is the padding epsilon, in mesh units.
const DefaultPadding = 1e-4

// DefaultMaxIterations caps the intersection resolver.
const DefaultMaxIterations = 100

// StallPolicy decides when the resolver has stopped making progress.
type StallPolicy int

const (
	// StallOnCount stops when the number of overlapping pairs is unchanged
	// between two iterations, whatever the pairs are.
	StallOnCount StallPolicy = iota
	// StallOnPairs stops only when the overlapping pairs themselves are
	// unchanged between two iterations.
	StallOnPairs
)

func (p StallPolicy) String() string {
	switch p {
	case StallOnCount:
		return "count"
	case StallOnPairs:
		return "pairs"
	}
	return fmt.Sprintf("StallPolicy(%d)", int(p))
}

// ParseStallPolicy parses "count" or "pairs".
func ParseStallPolicy(s string) (StallPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "count", "":
		return StallOnCount, nil
	case "pairs":
		return StallOnPairs, nil
	}
	return 0, fmt.Errorf("invalid stall policy %q, expected count or pairs", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *StallPolicy) UnmarshalText(text []byte) error {
	v, err := ParseStallPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p StallPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// IndexKind selects the spatial index implementation.
type IndexKind int

const (
	IndexBVH IndexKind = iota
	IndexRTree
)

func (k IndexKind) String() string {
	switch k {
	case IndexBVH:
		return "bvh"
	case IndexRTree:
		return "rtree"
	}
	return fmt.Sprintf("IndexKind(%d)", int(k))
}

// ParseIndexKind parses "bvh" or "rtree".
func ParseIndexKind(s string) (IndexKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bvh", "":
		return IndexBVH, nil
	case "rtree":
		return IndexRTree, nil
	}
	return 0, fmt.Errorf("invalid index kind %q, expected bvh or rtree", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *IndexKind) UnmarshalText(text []byte) error {
	v, err := ParseIndexKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (k IndexKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Builder returns the spatial.Builder for the kind.
func (k IndexKind) Builder() spatial.Builder {
	if k == IndexRTree {
		return spatial.BuildRTree
	}
	return spatial.BuildBVH
}

// Config controls cage construction. The zero value is usable: zero fields
// take their defaults.
type Config struct {
	// Padding is the clearance added on every displacement (epsilon).
	// Zero means DefaultPadding; a cage is never built with no clearance.
	Padding float64 `yaml:"padding"`

	// MaxIterations caps the resolver; reaching it is reported as a stall.
	MaxIterations int `yaml:"max_iterations"`

	Stall StallPolicy `yaml:"stall"`
	Index IndexKind   `yaml:"index"`

	// SkipPrecondition disables the self-intersection check on the base
	// mesh. The post-inflation check always runs.
	SkipPrecondition bool `yaml:"skip_precondition"`

	// Verify counts cage vertices inside the reference and re-checks the
	// finished cage for self-intersection, adding warnings to the report.
	Verify bool `yaml:"verify"`

	// Builder overrides Index when set.
	Builder spatial.Builder `yaml:"-"`

	// Logger receives progress lines; nil discards them.
	Logger *log.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{
		Padding:       DefaultPadding,
		MaxIterations: DefaultMaxIterations,
	}
}

// WithDefaults returns a copy of c with zero fields replaced by defaults:
// a zero Padding becomes DefaultPadding and a zero MaxIterations becomes
// DefaultMaxIterations.
func (c Config) WithDefaults() Config {
	if c.Padding == 0 {
		c.Padding = DefaultPadding
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	return c
}

// Validate rejects settings that cannot produce a cage.
func (c Config) Validate() error {
	if math.IsNaN(c.Padding) || math.IsInf(c.Padding, 0) || c.Padding < 0 {
		return fmt.Errorf("padding must be a non-negative finite number, got %v: %w", c.Padding, ErrInvalidConfig)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max iterations must not be negative, got %d: %w", c.MaxIterations, ErrInvalidConfig)
	}
	if c.Stall != StallOnCount && c.Stall != StallOnPairs {
		return fmt.Errorf("unknown stall policy %s: %w", c.Stall, ErrInvalidConfig)
	}
	if c.Index != IndexBVH && c.Index != IndexRTree {
		return fmt.Errorf("unknown index kind %s: %w", c.Index, ErrInvalidConfig)
	}
	return nil
}

func (c Config) builder() spatial.Builder {
	if c.Builder != nil {
		return c.Builder
	}
	return c.Index.Builder()
}

func (c Config) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
