package reconcile

import (
	"math"
	"testing"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/geodist"
	"github.com/hazyhaar/georecon/pkg/placename"
	"github.com/hazyhaar/georecon/pkg/store"
)

func cand(id, name, code string, coords ...float64) Candidate {
	u := store.AdminUnit{ID: id, Name: name, Code: code}
	if len(coords) == 2 {
		u.Latitude, u.Longitude, u.HasCoordinates = coords[0], coords[1], true
	}
	return Candidate{Unit: u, Norm: placename.Normalize(u.Name)}
}

func subject(name, ascii string, alts []string, coords ...float64) Subject {
	p := gazetteer.Place{ID: 1, Name: name, ASCIIName: ascii, AlternateNames: alts}
	if len(coords) == 2 {
		p.Latitude, p.Longitude, p.HasCoordinates = coords[0], coords[1], true
	}
	return NewSubject(p)
}

func TestScore_NameMatch(t *testing.T) {
	tests := []struct {
		name       string
		pr         Subject
		c          Candidate
		wantPoints float64
		wantMethod string
	}{
		{"exact", subject("İstanbul", "Istanbul", nil), cand("p34", "ISTANBUL", "34"), 100, MethodName},
		{"ascii", subject("Şırnak", "Sirnak", nil), cand("p73", "Sirnak", "73"), 100, MethodName},
		{"alternate", subject("Istanbul", "Istanbul", []string{"Constantinople"}), cand("x", "Constantinople", "1"), 50, MethodAlternate},
		{"name-and-alternate", subject("Ankara", "Ankara", []string{"Angora", "ANKARA"}), cand("p06", "Ankara", "06"), 150, MethodName},
		{"none", subject("Ankara", "Ankara", nil), cand("p34", "İstanbul", "34"), 0, ""},
		{"empty-candidate", subject("-", "", nil), cand("x", "--", "1"), 0, ""},
	}
	for _, tt := range tests {
		sc := Scorer{}.Score(tt.pr, tt.c)
		if sc.Points != tt.wantPoints || sc.Method != tt.wantMethod {
			t.Errorf("%s: Score = %+v, want %v/%q", tt.name, sc, tt.wantPoints, tt.wantMethod)
		}
		if sc.DistanceKm != geodist.Unknown {
			t.Errorf("%s: DistanceKm = %v, want Unknown without coordinates", tt.name, sc.DistanceKm)
		}
	}
}

func TestScore_ExactNameAtLeast100WithOrWithoutCoordinates(t *testing.T) {
	cases := []struct {
		pr Subject
		c  Candidate
	}{
		{subject("Kadıköy", "Kadikoy", nil), cand("d1", "Kadıköy", "1")},
		{subject("Kadıköy", "Kadikoy", nil, 40.99, 29.03), cand("d1", "Kadıköy", "1")},
		{subject("Kadıköy", "Kadikoy", nil), cand("d1", "Kadıköy", "1", 40.99, 29.03)},
		{subject("Kadıköy", "Kadikoy", nil, 40.99, 29.03), cand("d1", "Kadıköy", "1", 40.991, 29.031)},
	}
	for _, radius := range []float64{0, 5, 50} {
		for i, c := range cases {
			if sc := (Scorer{RadiusKm: radius}).Score(c.pr, c.c); sc.Points < 100 {
				t.Errorf("radius %v case %d: Points = %v, want >= 100", radius, i, sc.Points)
			}
		}
	}
}

func TestScore_Radius(t *testing.T) {
	pr := subject("Beşiktaş", "Besiktas", nil, 41.112, 29.01)
	near := cand("d2", "Beşiktaş", "2", 41.04, 29.01) // ~8 km

	sc := Scorer{RadiusKm: 50}.Score(pr, near)
	if !sc.UsedRadius {
		t.Error("UsedRadius = false")
	}
	if math.Abs(sc.DistanceKm-8.0) > 0.1 {
		t.Errorf("DistanceKm = %v, want ~8", sc.DistanceKm)
	}
	if want := 100 + 50 - sc.DistanceKm; math.Abs(sc.Points-want) > 1e-9 {
		t.Errorf("Points = %v, want %v", sc.Points, want)
	}

	if sc := (Scorer{RadiusKm: 5}).Score(pr, near); sc.Points != 0 {
		t.Errorf("beyond cutoff Points = %v, want 0", sc.Points)
	}

	sc = Scorer{}.Score(pr, near)
	if sc.Points != 100 || sc.UsedRadius {
		t.Errorf("no cutoff: %+v, want 100 without bonus", sc)
	}
	if sc.DistanceKm == geodist.Unknown {
		t.Error("distance should still be recorded without a cutoff")
	}
}

func TestScore_NoNameNoPointsEvenWhenClose(t *testing.T) {
	sc := Scorer{RadiusKm: 50}.Score(subject("Merkez", "Merkez", nil, 41.04, 29.01), cand("d2", "Beşiktaş", "2", 41.04, 29.01))
	if sc.Points != 0 || sc.UsedRadius {
		t.Errorf("Score = %+v, want zero", sc)
	}
}
