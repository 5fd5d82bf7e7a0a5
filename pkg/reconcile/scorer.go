package reconcile

import (
	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/geodist"
	"github.com/hazyhaar/georecon/pkg/placename"
)

// Points awarded by the scorer.
const (
	NamePoints      = 100
	AlternatePoints = 50
)

// Match methods recorded on mappings.
const (
	MethodName      = "name"
	MethodAlternate = "alternate"
	MethodGeo       = "geo"
)

// Subject is an external place with its names normalized once.
type Subject struct {
	Place gazetteer.Place
	name  string
	ascii string
	alts  placename.Set
}

// NewSubject normalizes the names of p.
func NewSubject(p gazetteer.Place) Subject {
	return Subject{
		Place: p,
		name:  placename.Normalize(p.Name),
		ascii: placename.Normalize(p.ASCIIName),
		alts:  placename.NormalizeAll(p.AlternateNames),
	}
}

// Score is the result of comparing a subject with one candidate.
type Score struct {
	Points     float64
	DistanceKm float64
	UsedRadius bool
	Method     string
}

// Scorer rates candidates for one level. RadiusKm of zero means no cutoff.
type Scorer struct {
	RadiusKm float64
}

// Score rates c against pr. Points are zero when the candidate must be
// discarded. DistanceKm is geodist.Unknown when either side has no
// coordinates.
func (s Scorer) Score(pr Subject, c Candidate) Score {
	var sc Score
	if c.Norm != "" {
		if c.Norm == pr.name || c.Norm == pr.ascii {
			sc.Points += NamePoints
			sc.Method = MethodName
		}
		if _, ok := pr.alts[c.Norm]; ok {
			sc.Points += AlternatePoints
			if sc.Method == "" {
				sc.Method = MethodAlternate
			}
		}
	}

	sc.DistanceKm = distance(pr, c)
	if sc.Points > 0 && sc.DistanceKm != geodist.Unknown && s.RadiusKm > 0 {
		if sc.DistanceKm > s.RadiusKm {
			return Score{DistanceKm: sc.DistanceKm}
		}
		sc.Points += max(0, s.RadiusKm-sc.DistanceKm)
		sc.UsedRadius = true
	}
	return sc
}

func distance(pr Subject, c Candidate) float64 {
	if !pr.Place.HasCoordinates || !c.Unit.HasCoordinates {
		return geodist.Unknown
	}
	return geodist.Distance(pr.Place.Latitude, pr.Place.Longitude, c.Unit.Latitude, c.Unit.Longitude)
}
