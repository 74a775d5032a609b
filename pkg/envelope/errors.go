package envelope

import "errors"

// errEmptyInput is wrapped by Validate's field-specific messages; callers
// that need the taxonomy code should use mucperr.CodeEmptyInput directly —
// this sentinel only distinguishes "missing field" from other validation
// failures within this package.
var errEmptyInput = errors.New("empty_input")
