package defrag

import "github.com/pkg/errors"

// ErrTooManyFragments is returned when a new fragment group is needed but
// the defragmenter is already at MaxFragmentGroups.
var ErrTooManyFragments = errors.New("defrag: too many fragment groups")

// ErrInvalidFragment is returned when a fragment's offset and length would
// place data outside the bounds of the group's reassembly buffer.
var ErrInvalidFragment = errors.New("defrag: invalid fragment data")

// ErrReassemblyFailed wraps an unexpected failure while copying fragment
// bytes into the reassembled buffer.
var ErrReassemblyFailed = errors.New("defrag: reassembly failed")
