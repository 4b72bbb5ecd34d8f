package cleaner

import "github.com/hazyhaar/webcleaner/cleaner/internal/store"

// Re-exported types from internal/store for use by cmd/ and external callers.
type (
	Stats         = store.Stats
	OriginSummary = store.OriginSummary
	Site          = store.Site
)

// Effect kinds.
const (
	KindBlur    = store.KindBlur
	KindEnlarge = store.KindEnlarge
)
