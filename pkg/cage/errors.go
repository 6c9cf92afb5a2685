package cage

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionSelfIntersecting means the base mesh overlaps itself
	// before any processing.
	ErrPreconditionSelfIntersecting = errors.New("base mesh self-intersects")

	// ErrInflationSelfIntersecting means baseline padding alone folded the
	// cage onto itself; reduce the padding or fix the base mesh.
	ErrInflationSelfIntersecting = errors.New("inflated cage self-intersects")

	// ErrInvalidMesh means an input mesh is missing, empty or has face
	// indices out of range.
	ErrInvalidMesh = errors.New("invalid mesh")

	// ErrInvalidConfig means a Config field is out of range.
	ErrInvalidConfig = errors.New("invalid config")
)

// Error is returned by Build when construction aborts. State is the step
// that failed.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cage: %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsSelfIntersection reports whether err aborted construction because of a
// self-intersecting base or inflated cage.
func IsSelfIntersection(err error) bool {
	return errors.Is(err, ErrPreconditionSelfIntersecting) || errors.Is(err, ErrInflationSelfIntersecting)
}
