// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package flow

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// idEntropyBytes is how many uuid bytes back each flow id. 9 bytes
// base64url-encodes to a 12-character id; those bytes include the v4
// uuid's 4 version bits and 2 variant bits, which are fixed, leaving 66
// random bits, past the ~2^60 collision-resistance target.
const idEntropyBytes = 9

// newID returns a short, URL-safe, collision-resistant id. It draws its
// randomness from a fresh google/uuid (itself backed by crypto/rand)
// rather than reading crypto/rand directly, so the same entropy source
// used for flow ids elsewhere in the pack (HakAl-langley, go-mitmproxy)
// backs this one too.
func newID() string {
	raw := uuid.New()
	return base64.RawURLEncoding.EncodeToString(raw[:idEntropyBytes])
}
