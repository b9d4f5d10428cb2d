package types

// TokenUsage is the accounting reported for one model request. Fields missing
// from the upstream report are zero.
type TokenUsage struct {
	TokensIn    int `json:"tokensIn"`
	TokensOut   int `json:"tokensOut"`
	CacheWrites int `json:"cacheWrites"`
	CacheReads  int `json:"cacheReads"`
}

// Total returns the sum of all four counters. Cached tokens still occupy the
// context window, so they count.
func (u TokenUsage) Total() int {
	return u.TokensIn + u.TokensOut + u.CacheWrites + u.CacheReads
}

// Add combines two usage records.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		TokensIn:    u.TokensIn + other.TokensIn,
		TokensOut:   u.TokensOut + other.TokensOut,
		CacheWrites: u.CacheWrites + other.CacheWrites,
		CacheReads:  u.CacheReads + other.CacheReads,
	}
}
