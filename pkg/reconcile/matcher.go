package reconcile

import (
	"github.com/agnivade/levenshtein"

	"github.com/hazyhaar/georecon/pkg/geodist"
)

// maxSuggestDistance caps the edit distance of review suggestions.
const maxSuggestDistance = 3

// Result is the outcome of matching one subject in one scope.
type Result struct {
	Candidate  *Candidate
	Score      Score
	Fallback   bool
	Suggestion *Candidate
}

// Matched reports whether a candidate was chosen.
func (r Result) Matched() bool { return r.Candidate != nil }

// Matcher picks the best candidate for a subject within a parent scope.
type Matcher struct {
	Scorer Scorer
	// SuggestDistance is the largest edit distance offered as a review
	// suggestion for unmatched subjects. Zero disables suggestions.
	SuggestDistance int
}

// Match scores every candidate of the scope. The highest score wins; ties go
// to the smaller distance, then the smaller code, then the smaller id. When
// nothing scores, the nearest candidate within the radius is taken as a
// geospatial fallback with the same tie-break. Without a radius there is no
// fallback.
func (m Matcher) Match(pr Subject, ix *Index, scope string) Result {
	pool := ix.Scope(scope)

	var (
		best      *Candidate
		bestScore Score
	)
	for i := range pool {
		sc := m.Scorer.Score(pr, pool[i])
		if sc.Points <= 0 {
			continue
		}
		if best == nil || outranks(sc, pool[i], bestScore, *best) {
			best, bestScore = &pool[i], sc
		}
	}
	if best != nil {
		return Result{Candidate: best, Score: bestScore}
	}

	if c, d, ok := m.nearest(pr, ix, scope); ok {
		return Result{
			Candidate: c,
			Score:     Score{Points: max(0, m.Scorer.RadiusKm-d), DistanceKm: d, UsedRadius: true, Method: MethodGeo},
			Fallback:  true,
		}
	}

	return Result{Suggestion: m.suggest(pr, pool)}
}

func (m Matcher) nearest(pr Subject, ix *Index, scope string) (*Candidate, float64, bool) {
	radius := m.Scorer.RadiusKm
	if radius <= 0 || !pr.Place.HasCoordinates {
		return nil, 0, false
	}
	var (
		best  *Candidate
		bestD = geodist.Unknown
	)
	near := ix.Near(scope, pr.Place.Latitude, pr.Place.Longitude, radius)
	for i := range near {
		d := distance(pr, near[i])
		if d > radius {
			continue
		}
		if best == nil || d < bestD || (d == bestD && lessCode(near[i].Unit, best.Unit)) {
			best, bestD = &near[i], d
		}
	}
	return best, bestD, best != nil
}

func (m Matcher) suggest(pr Subject, pool []Candidate) *Candidate {
	limit := min(m.SuggestDistance, maxSuggestDistance)
	if limit <= 0 || (pr.name == "" && pr.ascii == "") {
		return nil
	}
	var (
		best  *Candidate
		bestD = limit + 1
	)
	for i := range pool {
		if pool[i].Norm == "" {
			continue
		}
		d := editDistance(pr, pool[i].Norm)
		if d < bestD || (d == bestD && best != nil && lessCode(pool[i].Unit, best.Unit)) {
			best, bestD = &pool[i], d
		}
	}
	return best
}

func editDistance(pr Subject, norm string) int {
	d := levenshtein.ComputeDistance(pr.name, norm)
	if pr.ascii != "" && pr.ascii != pr.name {
		d = min(d, levenshtein.ComputeDistance(pr.ascii, norm))
	}
	return d
}

// outranks reports whether candidate a with score sa beats b with sb.
func outranks(sa Score, a Candidate, sb Score, b Candidate) bool {
	if sa.Points != sb.Points {
		return sa.Points > sb.Points
	}
	if sa.DistanceKm != sb.DistanceKm {
		return sa.DistanceKm < sb.DistanceKm
	}
	return lessCode(a.Unit, b.Unit)
}
