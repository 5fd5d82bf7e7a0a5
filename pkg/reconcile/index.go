package reconcile

import (
	"sort"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/geodist"
	"github.com/hazyhaar/georecon/pkg/placename"
	"github.com/hazyhaar/georecon/pkg/store"
)

// Candidate is an internal unit with its name already normalized.
type Candidate struct {
	Unit store.AdminUnit
	Norm string
}

// Index holds the internal units of one level grouped by parent. It is
// built once per level and only read while matching.
type Index struct {
	level    gazetteer.Level
	byParent map[string][]Candidate
	byID     map[string]Candidate
}

// NewIndex groups units by parent id. Provinces all share the empty scope so
// a country row above them in the host hierarchy does not hide them.
func NewIndex(level gazetteer.Level, units []store.AdminUnit) *Index {
	ix := &Index{
		level:    level,
		byParent: make(map[string][]Candidate),
		byID:     make(map[string]Candidate, len(units)),
	}
	for _, u := range units {
		c := Candidate{Unit: u, Norm: placename.Normalize(u.Name)}
		scope := u.ParentID
		if level == gazetteer.Province {
			scope = ""
		}
		ix.byParent[scope] = append(ix.byParent[scope], c)
		ix.byID[u.ID] = c
	}
	for _, cs := range ix.byParent {
		sort.Slice(cs, func(i, j int) bool { return lessCode(cs[i].Unit, cs[j].Unit) })
	}
	return ix
}

// Len returns the number of indexed units.
func (ix *Index) Len() int { return len(ix.byID) }

// Scope returns the candidates under parentID ordered by code then id.
func (ix *Index) Scope(parentID string) []Candidate {
	return ix.byParent[parentID]
}

// ByID returns the candidate for an internal id.
func (ix *Index) ByID(id string) (Candidate, bool) {
	c, ok := ix.byID[id]
	return c, ok
}

// Near returns the candidates under parentID within radiusKm of the point.
// Units without coordinates are skipped.
func (ix *Index) Near(parentID string, lat, lon, radiusKm float64) []Candidate {
	if !geodist.Valid(lat, lon) || radiusKm <= 0 {
		return nil
	}
	cp := geodist.Cap(lat, lon, radiusKm)
	var out []Candidate
	for _, c := range ix.byParent[parentID] {
		if !c.Unit.HasCoordinates {
			continue
		}
		if !geodist.InCap(cp, c.Unit.Latitude, c.Unit.Longitude) {
			continue
		}
		if geodist.Distance(lat, lon, c.Unit.Latitude, c.Unit.Longitude) <= radiusKm {
			out = append(out, c)
		}
	}
	return out
}

func lessCode(a, b store.AdminUnit) bool {
	if a.Code != b.Code {
		return a.Code < b.Code
	}
	return a.ID < b.ID
}
