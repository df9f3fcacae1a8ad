// Package pageid derives the stable storage key for a URL. The key is the
// hex SHA-256 of the normalized URL, so equivalent spellings of one address
// always land on the same harvest entry across runs and machines.
package pageid

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// SHA256 implements pipeline.PageIDDeriver.
type SHA256 struct{}

// New returns the standard deriver.
func New() *SHA256 {
	return &SHA256{}
}

// PageID implements pipeline.PageIDDeriver. URLs that fail normalization
// hash as-is rather than erroring; the id only needs to be stable.
func (SHA256) PageID(url string) string {
	normalized, err := pipeline.NormalizeURL(url)
	if err != nil {
		normalized = url
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
