package grading

import "errors"

// ErrMalformedRecord marks data that cannot be aggregated (unknown problem, score out of range).
// Recaps skip the affected participant instead of failing.
var ErrMalformedRecord = errors.New("malformed grading record")
