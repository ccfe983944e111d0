package rank

import "errors"

// ErrNotRanked indicates the user (or cohort) has no standing on the
// board yet.
var ErrNotRanked = errors.New("user not ranked in cohort")
