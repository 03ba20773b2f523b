package filekit

import (
	"strings"

	"github.com/google/uuid"
)

// newToken returns a 32-character random identifier safe for embedding in
// file names. Used for claim IDs and temp path names.
func newToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
