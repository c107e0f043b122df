package pit

import "errors"

// Sentinel errors surfaced by the accessor API and the snapshot loader.
var (
	ErrBadChannel         = errors.New("pit: channel index out of range")
	ErrUnsupportedVersion = errors.New("pit: unsupported snapshot version")
)
