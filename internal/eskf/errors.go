package eskf

import "errors"

// Errors returned by the filter operations. Callers match them with errors.Is;
// the returned errors carry the operation and offending input as context.
var (
	// ErrShapeMismatch reports an input vector or matrix of the wrong dimensions.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNumericInvariant reports a non-unit attitude quaternion on entry.
	// It is only raised when Config.Debug is set.
	ErrNumericInvariant = errors.New("numeric invariant violated")
	// ErrSingularInnovation reports an innovation covariance that cannot be inverted.
	ErrSingularInnovation = errors.New("singular innovation covariance")
	// ErrConfiguration reports an invalid filter configuration or update mode selection.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInvalidArgument reports a scalar argument out of range, such as a
	// non-positive sampling time.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDegenerateGeometry reports an estimated position on top of a reference
	// point, where the line-of-sight direction is undefined.
	ErrDegenerateGeometry = errors.New("degenerate measurement geometry")
)
