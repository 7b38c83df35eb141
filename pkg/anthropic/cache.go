package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint set to a 5-minute TTL. Batch runs send the same synthesis
// instructions for every actor; the breakpoint lets consecutive actors hit
// the warm cache as long as the inter-actor delay stays under the TTL.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
