package util

import (
	"strings"

	"github.com/google/uuid"
)

// Identifier prefixes, one per entity kind.
const (
	IDPrefixTask           = "TKI"
	IDPrefixWorkbasket     = "WBI"
	IDPrefixClassification = "CLI"
	IDPrefixAccessItem     = "WAI"
)

// NewID returns a prefixed opaque identifier, e.g. "TKI:0f9274c1...".
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + ":" + id
}
