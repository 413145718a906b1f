package catalog

import "strings"

// DefaultGenres is the reference set seeded into an empty store.
var DefaultGenres = []string{
	"Fantasy",
	"Science Fiction",
	"Mystery",
	"Romance",
	"Horror",
	"Historical Fiction",
	"Non-Fiction",
	"Thriller",
	"Biography",
	"Poetry",
	"Young Adult",
	"Literary Fiction",
}

// GenreID derives the stable identifier of a genre from its display name.
func GenreID(name string) string {
	var builder strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastDash = false
		case !lastDash:
			builder.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(builder.String(), "-")
}

// SeedGenres returns Genre rows for the given names.
func SeedGenres(names []string) []Genre {
	genres := make([]Genre, 0, len(names))
	for _, name := range names {
		id := GenreID(name)
		if id == "" {
			continue
		}
		genres = append(genres, Genre{ID: id, Name: strings.TrimSpace(name)})
	}
	return genres
}
