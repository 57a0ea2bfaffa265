package refcount

import "errors"

// ErrNoHolders is returned by Release when no matching Acquire is outstanding.
var ErrNoHolders = errors.New("refcount: release without matching acquire")
