package credits

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// DedupeKey derives the ledger uniqueness key for one grant of one source
// event to one user.
func DedupeKey(eventID string, userID uuid.UUID) string {
	sum := sha256.Sum256([]byte(eventID + ":" + userID.String()))
	return hex.EncodeToString(sum[:])
}

// Split divides pool evenly across n recipients. The remainder is returned
// separately and is never granted.
func Split(pool int64, n int) (perUser int64, remainder int64) {
	if pool <= 0 || n <= 0 {
		return 0, 0
	}
	perUser = pool / int64(n)
	return perUser, pool - perUser*int64(n)
}
