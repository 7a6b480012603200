package cache

// selectVictim picks the entry to evict under strategy. Ties are broken by
// insertion order so that the result does not depend on map iteration order.
func selectVictim[T any](entries map[string]*Entry[T], strategy Strategy) (string, bool) {
	var victimKey string
	var victim *Entry[T]

	for key, entry := range entries {
		if victim == nil || evictsBefore(entry, victim, strategy) {
			victimKey = key
			victim = entry
		}
	}

	return victimKey, victim != nil
}

// evictsBefore reports whether a should be evicted before b
func evictsBefore[T any](a, b *Entry[T], strategy Strategy) bool {
	switch strategy {
	case StrategyLRU:
		return a.touched < b.touched
	case StrategyLFU:
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		return a.inserted < b.inserted
	default: // FIFO
		return a.inserted < b.inserted
	}
}
