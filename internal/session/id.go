package session

import (
	"math/big"

	"github.com/google/uuid"
)

// newEntryID mints an 8-char base36 id, short enough to be pleasant in a
// transcript file but drawn from a UUIDv4 so collisions within one session
// are not a practical concern; Store.appendEntry re-rolls on the
// astronomically unlikely collision against its in-memory index anyway.
func newEntryID() string {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	s := n.Text(36)
	if len(s) > 8 {
		s = s[len(s)-8:]
	}
	for len(s) < 8 {
		s = "0" + s
	}
	return s
}
