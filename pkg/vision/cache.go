package vision

// CachedSystemBlocks constructs system content blocks with a cache
// breakpoint set to a 1-hour TTL. Extraction instructions are static per
// document type, so every scan after the first hits the warm cache.
func CachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}
