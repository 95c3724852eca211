// Package identity derives stable pseudonymous participant identifiers.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// participantIDLength is the number of hex characters kept from the digest.
const participantIDLength = 16

// Participant derives the pseudonymous participant id for a raw identity.
// The email is preferred so the same human is recognised across devices; the
// account id is the fallback for accounts without one. The mapping is
// deterministic and non-reversible: session documents never carry the raw
// account identity.
func Participant(email, accountID string) string {
	raw := strings.TrimSpace(email)
	if raw == "" {
		raw = strings.TrimSpace(accountID)
	}
	if raw == "" {
		return ""
	}

	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:participantIDLength]
}
