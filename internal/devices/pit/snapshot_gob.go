package pit

import "encoding/gob"

func init() {
	// Register snapshot types for gob encoding/decoding so device
	// snapshots survive VM snapshot serialization.
	gob.Register(&pitSnapshot{})
}
