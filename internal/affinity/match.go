package affinity

// Signals are the inputs of a character match for one reader.
type Signals struct {
	FavoriteGenre  string
	CreatedGenres  []string
	UpvotedGenres  []string
	BooksCreated   int
	ThreadsStarted int
	VotesCast      int
}

// Engagement is books created plus threads started plus votes cast in either direction.
func (s Signals) Engagement() int {
	return s.BooksCreated + s.ThreadsStarted + s.VotesCast
}

// DominantGenre returns the most frequent lower-cased genre across the favorite genre,
// the genres of created books and the genres of upvoted books, in that order. Ties go
// to the genre seen first.
func DominantGenre(signals Signals) (string, bool) {
	counts := make(map[string]int)
	var order []string
	observe := func(genre string) {
		normalized := normalizeGenre(genre)
		if normalized == "" {
			return
		}
		if _, seen := counts[normalized]; !seen {
			order = append(order, normalized)
		}
		counts[normalized]++
	}

	observe(signals.FavoriteGenre)
	for _, genre := range signals.CreatedGenres {
		observe(genre)
	}
	for _, genre := range signals.UpvotedGenres {
		observe(genre)
	}

	dominant, best := "", 0
	for _, genre := range order {
		if counts[genre] > best {
			dominant, best = genre, counts[genre]
		}
	}
	return dominant, best > 0
}

// Choose picks the character for signals. High engagement wins outright, then the
// dominant genre, then the stated favorite genre, then the balanced reader.
func Choose(signals Signals) Character {
	if signals.Engagement() >= championEngagement {
		character, _ := Lookup(KeyChampion)
		return character
	}
	if dominant, ok := DominantGenre(signals); ok {
		if character, ok := characterForGenre(dominant); ok {
			return character
		}
	}
	if character, ok := characterForGenre(signals.FavoriteGenre); ok {
		return character
	}
	return BalancedReader()
}
