// Package affinity matches readers to an avatar character from their genre signals.
package affinity

import "strings"

// Character is an avatar a reader can be matched with.
type Character struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Image       string   `json:"image"`
	Description string   `json:"description"`
	Traits      []string `json:"traits"`
}

// Character keys.
const (
	KeyDragonSage      = "dragon-sage"
	KeyStarVoyager     = "star-voyager"
	KeySleuth          = "sleuth"
	KeyRomantic        = "romantic"
	KeyNightOwl        = "night-owl"
	KeyTimeTraveler    = "time-traveler"
	KeyScholar         = "scholar"
	KeyChampion        = "community-champion"
	KeyBalancedReader  = "balanced-reader"
	championEngagement = 20
)

var characters = map[string]Character{
	KeyDragonSage: {
		Key:         KeyDragonSage,
		Name:        "The Dragon Sage",
		Image:       "/characters/dragon-sage.png",
		Description: "Lives between maps of invented kingdoms and never misses a prophecy.",
		Traits:      []string{"imaginative", "loyal", "epic-minded"},
	},
	KeyStarVoyager: {
		Key:         KeyStarVoyager,
		Name:        "The Star Voyager",
		Image:       "/characters/star-voyager.png",
		Description: "Reads tomorrow's headlines in today's fiction.",
		Traits:      []string{"curious", "analytical", "visionary"},
	},
	KeySleuth: {
		Key:         KeySleuth,
		Name:        "The Sleuth",
		Image:       "/characters/sleuth.png",
		Description: "Guesses the twist by chapter three and still enjoys the ride.",
		Traits:      []string{"observant", "patient", "sharp"},
	},
	KeyRomantic: {
		Key:         KeyRomantic,
		Name:        "The Hopeless Romantic",
		Image:       "/characters/romantic.png",
		Description: "Collects slow burns, grand gestures and well-turned lines.",
		Traits:      []string{"warm", "expressive", "devoted"},
	},
	KeyNightOwl: {
		Key:         KeyNightOwl,
		Name:        "The Night Owl",
		Image:       "/characters/night-owl.png",
		Description: "Reads with the lights on, but keeps reading.",
		Traits:      []string{"brave", "intense", "nocturnal"},
	},
	KeyTimeTraveler: {
		Key:         KeyTimeTraveler,
		Name:        "The Time Traveler",
		Image:       "/characters/time-traveler.png",
		Description: "Happiest a few centuries away, preferably with footnotes.",
		Traits:      []string{"reflective", "thorough", "nostalgic"},
	},
	KeyScholar: {
		Key:         KeyScholar,
		Name:        "The Scholar",
		Image:       "/characters/scholar.png",
		Description: "Underlines everything and has opinions about all of it.",
		Traits:      []string{"thoughtful", "rigorous", "eloquent"},
	},
	KeyChampion: {
		Key:         KeyChampion,
		Name:        "The Community Champion",
		Image:       "/characters/community-champion.png",
		Description: "Adds the books, starts the threads and shows up for every discussion.",
		Traits:      []string{"generous", "energetic", "connector"},
	},
	KeyBalancedReader: {
		Key:         KeyBalancedReader,
		Name:        "The Balanced Reader",
		Image:       "/characters/balanced-reader.png",
		Description: "Picks up whatever looks good and finishes it anyway.",
		Traits:      []string{"open-minded", "steady", "eclectic"},
	},
}

// Keyed by lower-cased genre name.
var genreCharacters = map[string]string{
	"fantasy":            KeyDragonSage,
	"young adult":        KeyDragonSage,
	"science fiction":    KeyStarVoyager,
	"sci-fi":             KeyStarVoyager,
	"mystery":            KeySleuth,
	"thriller":           KeySleuth,
	"romance":            KeyRomantic,
	"poetry":             KeyRomantic,
	"horror":             KeyNightOwl,
	"historical fiction": KeyTimeTraveler,
	"biography":          KeyTimeTraveler,
	"non-fiction":        KeyScholar,
	"literary fiction":   KeyScholar,
}

// Lookup returns the character with key.
func Lookup(key string) (Character, bool) {
	character, ok := characters[key]
	if !ok {
		return Character{}, false
	}
	character.Traits = append([]string(nil), character.Traits...)
	return character, true
}

// Catalog lists every character ordered by key.
func Catalog() []Character {
	keys := []string{
		KeyBalancedReader, KeyChampion, KeyDragonSage, KeyNightOwl, KeyRomantic,
		KeyScholar, KeySleuth, KeyStarVoyager, KeyTimeTraveler,
	}
	result := make([]Character, 0, len(keys))
	for _, key := range keys {
		character, _ := Lookup(key)
		result = append(result, character)
	}
	return result
}

// BalancedReader is the default character.
func BalancedReader() Character {
	character, _ := Lookup(KeyBalancedReader)
	return character
}

func characterForGenre(genre string) (Character, bool) {
	key, ok := genreCharacters[normalizeGenre(genre)]
	if !ok {
		return Character{}, false
	}
	return Lookup(key)
}

func normalizeGenre(genre string) string {
	return strings.ToLower(strings.TrimSpace(genre))
}
