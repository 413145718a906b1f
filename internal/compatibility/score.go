// Package compatibility scores how alike two readers are on a 0 to 100 scale.
package compatibility

import "math"

// Component maxima.
const (
	GenreMatchPoints    = 40
	UploadOverlapPoints = 30
	LikeOverlapPoints   = 30
)

// Signals are one reader's inputs to the score.
type Signals struct {
	FavoriteGenre  string
	UploadedGenres []string
	LikedBooks     []string
}

// Result is the total score and its three parts.
type Result struct {
	Total         int `json:"total"`
	GenreMatch    int `json:"genreMatch"`
	UploadOverlap int `json:"uploadOverlap"`
	LikeOverlap   int `json:"likeOverlap"`
}

// Score compares two readers. The favorite genre match is exact and case-sensitive;
// the overlaps are Jaccard indexes scaled to their maxima and rounded.
func Score(a, b Signals) Result {
	result := Result{
		UploadOverlap: scaled(Jaccard(a.UploadedGenres, b.UploadedGenres), UploadOverlapPoints),
		LikeOverlap:   scaled(Jaccard(a.LikedBooks, b.LikedBooks), LikeOverlapPoints),
	}
	if a.FavoriteGenre != "" && a.FavoriteGenre == b.FavoriteGenre {
		result.GenreMatch = GenreMatchPoints
	}
	result.Total = result.GenreMatch + result.UploadOverlap + result.LikeOverlap
	return result
}

// Jaccard returns |a ∩ b| / |a ∪ b| over the distinct values of a and b, or 0 when
// either side is empty.
func Jaccard(a, b []string) float64 {
	left := toSet(a)
	right := toSet(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	intersection := 0
	for value := range left {
		if _, ok := right[value]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	return float64(intersection) / float64(union)
}

func scaled(index float64, points int) int {
	return int(math.Round(index * float64(points)))
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}
