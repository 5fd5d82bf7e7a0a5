package reconcile

import (
	"testing"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/store"
)

func withParent(c Candidate, parent string) Candidate {
	c.Unit.ParentID = parent
	return c
}

func TestIndex_Scope(t *testing.T) {
	ix := NewIndex(gazetteer.District, []store.AdminUnit{
		{ID: "d2", Name: "Beşiktaş", Code: "3402", ParentID: "p34"},
		{ID: "d1", Name: "Kadıköy", Code: "3401", ParentID: "p34"},
		{ID: "d3", Name: "Çankaya", Code: "0601", ParentID: "p06"},
	})
	if ix.Len() != 3 {
		t.Fatalf("Len = %d", ix.Len())
	}
	scope := ix.Scope("p34")
	if len(scope) != 2 || scope[0].Unit.ID != "d1" {
		t.Fatalf("Scope(p34) = %+v, want ordered by code", scope)
	}
	if scope[0].Norm != "kadikoy" {
		t.Errorf("Norm = %q", scope[0].Norm)
	}
	if len(ix.Scope("p99")) != 0 {
		t.Error("unknown parent should be empty")
	}
	if c, ok := ix.ByID("d3"); !ok || c.Unit.Name != "Çankaya" {
		t.Errorf("ByID(d3) = %+v, %v", c, ok)
	}
}

func TestIndex_ProvincesShareOneScope(t *testing.T) {
	ix := NewIndex(gazetteer.Province, []store.AdminUnit{
		{ID: "p34", Name: "İstanbul", Code: "34", ParentID: "tr"},
		{ID: "p06", Name: "Ankara", Code: "06"},
	})
	if got := len(ix.Scope("")); got != 2 {
		t.Errorf("Scope(\"\") = %d units, want 2", got)
	}
}

func TestIndex_Near(t *testing.T) {
	ix := NewIndex(gazetteer.Town, []store.AdminUnit{
		{ID: "t1", Name: "Moda", Code: "1", ParentID: "d1", Latitude: 40.984, Longitude: 29.026, HasCoordinates: true},
		{ID: "t2", Name: "Caferağa", Code: "2", ParentID: "d1", Latitude: 40.99, Longitude: 29.025, HasCoordinates: true},
		{ID: "t3", Name: "Fenerbahçe", Code: "3", ParentID: "d1", Latitude: 40.96, Longitude: 29.04, HasCoordinates: true},
		{ID: "t4", Name: "Nowhere", Code: "4", ParentID: "d1"},
	})
	near := ix.Near("d1", 40.985, 29.026, 1)
	if len(near) != 2 {
		t.Fatalf("Near = %d units, want 2", len(near))
	}
	if ix.Near("d1", 91, 0, 5) != nil || ix.Near("d1", 40.98, 29.02, 0) != nil {
		t.Error("invalid point or zero radius should return nil")
	}
}
