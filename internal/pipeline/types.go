// Package pipeline defines the core types and capability interfaces shared by
// the browse, harvest, and extract phases. Implementations live in sibling
// packages and are selected at construction time, never by subclassing.
package pipeline

// FetchResult is the outcome of a single download.
type FetchResult struct {
	// URL is the final URL after redirects.
	URL string
	// StatusCode is the HTTP status of the last response.
	StatusCode int
	// Body is the raw page content.
	Body []byte
}

// StoredPage is one record replayed from a harvest store.
type StoredPage struct {
	// PageID is the stable identifier derived from the page URL.
	PageID string
	// Content is the raw harvested bytes, bit-for-bit as written.
	Content []byte
}

// Record is one extracted row: field name to value. Records have no identity
// beyond insertion order in the extract sink.
type Record map[string]any
