package manifold

import "errors"

// ErrUnavailable is returned by New in builds without Manifold.
var ErrUnavailable = errors.New("manifold kernel not available: build with -tags=manifold")
