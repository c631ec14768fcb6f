package dataset

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the identity of every record so a dataset snapshot can
// be recognized across sessions. Records are assumed to be in Load order
// (sorted by path), making the fingerprint independent of discovery order.
func Fingerprint(records []*Record) string {
	h := xxhash.New()
	for _, r := range records {
		fmt.Fprintf(h, "%s\x00%d\x00", r.Path, r.Size)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
