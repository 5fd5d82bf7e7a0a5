package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{DSN: filepath.Join(t.TempDir(), "geo.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureUnitsTable(ctx); err != nil {
		t.Fatalf("EnsureUnitsTable: %v", err)
	}
	err = st.InsertUnits(ctx, []store.AdminUnit{
		{ID: "p34", Name: "İstanbul", Code: "34", Type: "province", Latitude: 41.01, Longitude: 28.97, HasCoordinates: true},
		{ID: "p06", Name: "Ankara", Code: "06", Type: "province", Latitude: 39.93, Longitude: 32.86, HasCoordinates: true},
		{ID: "d3401", Name: "Kadıköy", Code: "3401", Type: "district", ParentID: "p34", Latitude: 40.99, Longitude: 29.03, HasCoordinates: true},
		{ID: "d3402", Name: "Beşiktaş", Code: "3402", Type: "district", ParentID: "p34", Latitude: 41.04, Longitude: 29.01, HasCoordinates: true},
		{ID: "d0601", Name: "Çankaya", Code: "0601", Type: "district", ParentID: "p06", Latitude: 39.90, Longitude: 32.86, HasCoordinates: true},
		{ID: "t1", Name: "Moda", Code: "340101", Type: "town", ParentID: "d3401", Latitude: 40.984, Longitude: 29.026, HasCoordinates: true},
		{ID: "t2", Name: "Caferağa", Code: "340102", Type: "town", ParentID: "d3401", Latitude: 40.99, Longitude: 29.025, HasCoordinates: true},
	})
	if err != nil {
		t.Fatalf("InsertUnits: %v", err)
	}
	return st
}

func line(id, name, ascii, class, code, a1, a2, lat, lon string) string {
	cols := make([]string, gazetteer.Columns)
	cols[0], cols[1], cols[2] = id, name, ascii
	cols[4], cols[5], cols[6], cols[7], cols[8] = lat, lon, class, code, "TR"
	cols[10], cols[11] = a1, a2
	cols[14], cols[17], cols[18] = "1000", "Europe/Istanbul", "2024-05-01"
	return strings.Join(cols, "\t")
}

var fixture = []string{
	line("745042", "İstanbul", "Istanbul", "A", "ADM1", "34", "", "41.01384", "28.94966"),
	line("323784", "Ankara", "Ankara", "A", "ADM1", "68", "", "39.92", "32.85"),
	line("999001", "Atlantis", "Atlantis", "A", "ADM1", "99", "", "36.0", "25.0"),
	// Name match with the distance bonus.
	line("747712", "Kadıköy", "Kadikoy", "A", "ADM2", "34", "1743", "40.9906", "29.0290"),
	// No name match, ~8 km from Beşiktaş: geospatial fallback.
	line("746425", "Merkez", "Merkez", "A", "ADM2", "34", "1183", "41.112", "29.01"),
	// Parent province is unmatched.
	line("999002", "Yenimahalle", "Yenimahalle", "A", "ADM2", "99", "1", "36.1", "25.1"),
	line("748000", "Çankaya", "Cankaya", "A", "ADM2", "68", "1", "39.91", "32.86"),
	line("300001", "Moda", "Moda", "P", "PPL", "34", "1743", "40.984", "29.026"),
	// Exact name but ~6 km away with a 5 km cutoff.
	line("300002", "Caferağa", "Caferaga", "P", "PPL", "34", "1743", "40.99", "29.0965"),
	// No coordinates.
	line("300003", "Yeldeğirmeni", "Yeldegirmeni", "P", "PPL", "34", "1743", "", ""),
	line("111111", "Moda Koyu", "Moda Koyu", "H", "BAY", "34", "1743", "40.98", "29.02"),
	"this line is malformed",
}

func writeInput(t *testing.T, lines []string) gazetteer.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "TR.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return gazetteer.Source{Path: path}
}

func newEngine(st *store.Store, cfg Config, at time.Time, opts ...Option) *Engine {
	cfg.Workers, cfg.BatchSize = 4, 2
	opts = append(opts, WithClock(func() time.Time { return at }))
	return New(st, cfg, discardLogger(), opts...)
}

func dumpTable(t *testing.T, st *store.Store) []store.Mapping {
	t.Helper()
	ctx := context.Background()
	var all []store.Mapping
	for _, l := range gazetteer.Levels {
		m, err := st.ListMatched(ctx, string(l))
		if err != nil {
			t.Fatalf("ListMatched: %v", err)
		}
		u, err := st.ListUnmatched(ctx, string(l), 1000, 0)
		if err != nil {
			t.Fatalf("ListUnmatched: %v", err)
		}
		all = append(all, m...)
		all = append(all, u...)
	}
	return all
}

func mustGet(t *testing.T, st *store.Store, id int64, level gazetteer.Level) *store.Mapping {
	t.Helper()
	m, err := st.GetMapping(context.Background(), id, string(level))
	if err != nil {
		t.Fatalf("GetMapping(%d, %s): %v", id, level, err)
	}
	return m
}

func TestEngine_Run(t *testing.T) {
	st := tempStore(t)
	reg := prometheus.NewRegistry()
	eng := newEngine(st, DefaultConfig(), time.Unix(1700000000, 0), WithMetrics(NewMetrics(reg)))

	rep, err := eng.Run(context.Background(), writeInput(t, fixture))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Status != store.RunCompleted {
		t.Errorf("Status = %q", rep.Status)
	}
	if rep.ParseErrors != 1 || rep.Discarded != 1 {
		t.Errorf("ParseErrors = %d, Discarded = %d", rep.ParseErrors, rep.Discarded)
	}

	prov := rep.Level(gazetteer.Province)
	if prov.Records != 3 || prov.Matched != 2 || prov.Unmatched != 1 {
		t.Errorf("province = %+v", prov)
	}
	dist := rep.Level(gazetteer.District)
	if dist.Records != 4 || dist.Matched != 3 || dist.Fallback != 1 || dist.Unmatched != 1 || dist.ParentMissing != 1 {
		t.Errorf("district = %+v", dist)
	}
	town := rep.Level(gazetteer.Town)
	if town.Records != 3 || town.Matched != 1 || town.Unmatched != 2 {
		t.Errorf("town = %+v", town)
	}

	ist := mustGet(t, st, 745042, gazetteer.Province)
	if !ist.IsMatched || *ist.InternalID != "p34" || ist.MatchMethod != MethodName || ist.Score < 100 {
		t.Errorf("İstanbul = %+v", ist)
	}
	if ist.ExternalCode != "34" || ist.AdminPath != "TR.34" || ist.CreatedAt != 1700000000 {
		t.Errorf("İstanbul codes = %q %q %d", ist.ExternalCode, ist.AdminPath, ist.CreatedAt)
	}

	atl := mustGet(t, st, 999001, gazetteer.Province)
	if atl.IsMatched || atl.InternalID != nil || atl.UnmatchedReason != ReasonNoCandidate {
		t.Errorf("Atlantis = %+v", atl)
	}

	merkez := mustGet(t, st, 746425, gazetteer.District)
	if !merkez.IsMatched || *merkez.InternalID != "d3402" || merkez.MatchMethod != MethodGeo {
		t.Errorf("Merkez = %+v", merkez)
	}
	if merkez.ParentExternalID == nil || *merkez.ParentExternalID != 745042 {
		t.Errorf("Merkez parent = %v", merkez.ParentExternalID)
	}

	yeni := mustGet(t, st, 999002, gazetteer.District)
	if yeni.IsMatched || yeni.UnmatchedReason != ReasonParentNotFound {
		t.Errorf("Yenimahalle = %+v", yeni)
	}

	cankaya := mustGet(t, st, 748000, gazetteer.District)
	if !cankaya.IsMatched || *cankaya.InternalID != "d0601" {
		t.Errorf("Çankaya = %+v", cankaya)
	}

	moda := mustGet(t, st, 300001, gazetteer.Town)
	if !moda.IsMatched || *moda.InternalID != "t1" || moda.DistanceKm == nil || *moda.DistanceKm > 0.01 {
		t.Errorf("Moda = %+v", moda)
	}

	cafer := mustGet(t, st, 300002, gazetteer.Town)
	if cafer.IsMatched || cafer.UnmatchedReason != ReasonNoCandidate {
		t.Errorf("Caferağa = %+v", cafer)
	}
	if cafer.SuggestedInternalID == nil || *cafer.SuggestedInternalID != "t2" {
		t.Errorf("Caferağa suggestion = %v", cafer.SuggestedInternalID)
	}

	yel := mustGet(t, st, 300003, gazetteer.Town)
	if yel.IsMatched || yel.Latitude != nil {
		t.Errorf("Yeldeğirmeni = %+v", yel)
	}

	latest, err := st.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if latest.ID != rep.RunID || latest.Status != store.RunCompleted {
		t.Errorf("latest run = %+v", latest)
	}
	stored, err := ParseReport([]byte(latest.Report))
	if err != nil {
		t.Fatalf("ParseReport: %v", err)
	}
	if stored.Level(gazetteer.District).Fallback != 1 {
		t.Errorf("stored report = %+v", stored.Level(gazetteer.District))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("no metrics gathered")
	}
}

func TestEngine_HierarchyConsistency(t *testing.T) {
	st := tempStore(t)
	if _, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(), writeInput(t, fixture)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ctx := context.Background()

	units := map[string]store.AdminUnit{}
	for _, l := range gazetteer.Levels {
		us, _ := st.ListUnits(ctx, string(l))
		for _, u := range us {
			units[u.ID] = u
		}
	}
	for _, l := range []gazetteer.Level{gazetteer.District, gazetteer.Town} {
		pl, _ := l.Parent()
		rows, _ := st.ListMatched(ctx, string(l))
		for _, m := range rows {
			if m.ParentExternalID == nil {
				t.Fatalf("%s %d matched without parent", l, m.ExternalID)
			}
			parent := mustGet(t, st, *m.ParentExternalID, pl)
			if !parent.IsMatched {
				t.Errorf("%s %d matched under unmatched parent", l, m.ExternalID)
			}
			if units[*m.InternalID].ParentID != *parent.InternalID {
				t.Errorf("%s %d: internal parent %s, mapped parent %s", l, m.ExternalID,
					units[*m.InternalID].ParentID, *parent.InternalID)
			}
		}
	}
}

func TestEngine_Idempotent(t *testing.T) {
	st := tempStore(t)
	src := writeInput(t, fixture)

	if _, err := newEngine(st, DefaultConfig(), time.Unix(1000, 0)).Run(context.Background(), src); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := dumpTable(t, st)

	rep, err := newEngine(st, DefaultConfig(), time.Unix(2000, 0)).Run(context.Background(), src)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second := dumpTable(t, st)

	if len(first) != 10 {
		t.Errorf("rows = %d, want 10", len(first))
	}
	// Only the writing run differs.
	for i := range second {
		if second[i].RunID != rep.RunID {
			t.Errorf("%d/%s run_id = %q, want %q", second[i].ExternalID, second[i].LocationType, second[i].RunID, rep.RunID)
		}
		second[i].RunID = ""
	}
	for i := range first {
		first[i].RunID = ""
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("mapping table changed between identical runs")
	}
}

func TestEngine_Conflict(t *testing.T) {
	st := tempStore(t)
	lines := append([]string{}, fixture...)
	lines = append(lines, fixture[3])

	rep, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(), writeInput(t, lines))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	dist := rep.Level(gazetteer.District)
	if dist.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", dist.Conflicts)
	}
	if dist.Matched != 3 {
		t.Errorf("Matched = %d, want 3", dist.Matched)
	}
}

func TestEngine_PersistErrorDoesNotAbort(t *testing.T) {
	st := tempStore(t)
	if _, err := st.DB().Exec(`CREATE TRIGGER reject_moda BEFORE INSERT ON location_mappings
		WHEN NEW.external_name = 'Moda' BEGIN SELECT RAISE(ABORT, 'rejected'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	rep, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(), writeInput(t, fixture))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	town := rep.Level(gazetteer.Town)
	if town.PersistErrors != 1 || town.Matched != 0 || town.Unmatched != 2 {
		t.Errorf("town = %+v", town)
	}
	if _, err := st.GetMapping(context.Background(), 300001, "town"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rejected row persisted: %v", err)
	}
}

func TestEngine_Resume(t *testing.T) {
	st := tempStore(t)
	src := writeInput(t, fixture)
	if _, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Resume = true
	rep, err := newEngine(st, cfg, time.Unix(2, 0)).Run(context.Background(), src)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	for _, lr := range rep.Levels {
		if !lr.Skipped || lr.Records != 0 {
			t.Errorf("%s: %+v, want skipped", lr.Level, lr)
		}
	}
}

func TestEngine_ResumeContinuesFromCommittedLevel(t *testing.T) {
	st := tempStore(t)
	src := writeInput(t, fixture)
	fp, err := src.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}

	// Provinces only, as if the previous run died after the first level.
	provinces := []string{fixture[0], fixture[1], fixture[2]}
	prev, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(), writeInput(t, provinces))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := st.SaveCheckpoint(context.Background(), fp, "province", prev.RunID, 1); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Resume = true
	rep, err := newEngine(st, cfg, time.Unix(2, 0)).Run(context.Background(), src)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if !rep.Level(gazetteer.Province).Skipped {
		t.Error("province should be skipped")
	}
	if d := rep.Level(gazetteer.District); d.Matched != 3 {
		t.Errorf("district after resume = %+v", d)
	}
}

func TestEngine_MissingInputIsFatal(t *testing.T) {
	st := tempStore(t)
	_, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(),
		gazetteer.Source{Path: filepath.Join(t.TempDir(), "absent.txt")})
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
}

func TestEngine_CancelledIsFatal(t *testing.T) {
	st := tempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(ctx, writeInput(t, fixture))
	var fe *FatalError
	if !errors.As(err, &fe) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want fatal context.Canceled", err)
	}
}

func TestEngine_NoParentsLeavesChildrenUnmatched(t *testing.T) {
	st := tempStore(t)
	lines := []string{fixture[3], fixture[7]} // a district and a town, no provinces
	rep, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(), writeInput(t, lines))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, l := range []gazetteer.Level{gazetteer.District, gazetteer.Town} {
		lr := rep.Level(l)
		if lr.Matched != 0 || lr.ParentMissing != 1 {
			t.Errorf("%s = %+v", l, lr)
		}
	}
}

func TestEngine_ResumeIgnoresRowsOfOtherCheckpointRun(t *testing.T) {
	st := tempStore(t)
	src := writeInput(t, fixture)
	fp, err := src.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(), writeInput(t, fixture[:3])); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The checkpoint names a run that wrote no province rows.
	if err := st.SaveCheckpoint(context.Background(), fp, "province", "unknown-run", 1); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Resume = true
	rep, err := newEngine(st, cfg, time.Unix(2, 0)).Run(context.Background(), src)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if d := rep.Level(gazetteer.District); d.Matched != 0 || d.ParentMissing != 4 {
		t.Errorf("district = %+v, want every parent missing", d)
	}
}

func TestEngine_ParentsFromOtherRunIgnored(t *testing.T) {
	st := tempStore(t)

	// Run 1 sees only the İstanbul province.
	if _, err := newEngine(st, DefaultConfig(), time.Unix(1, 0)).Run(context.Background(), writeInput(t, fixture[:1])); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if ist := mustGet(t, st, 745042, gazetteer.Province); !ist.IsMatched {
		t.Fatalf("İstanbul = %+v, want matched", ist)
	}

	// Run 2 sees Kadıköy but no province; the row left by run 1 is no parent.
	rep, err := newEngine(st, DefaultConfig(), time.Unix(2, 0)).Run(context.Background(), writeInput(t, fixture[3:4]))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if p := rep.Level(gazetteer.Province); p.Records != 0 || p.Matched != 0 {
		t.Errorf("province = %+v", p)
	}
	if d := rep.Level(gazetteer.District); d.Matched != 0 || d.ParentMissing != 1 {
		t.Errorf("district = %+v, want parent missing", d)
	}
	kad := mustGet(t, st, 747712, gazetteer.District)
	if kad.IsMatched || kad.UnmatchedReason != ReasonParentNotFound || kad.ParentExternalID != nil {
		t.Errorf("Kadıköy = matched %v reason %q parent %v", kad.IsMatched, kad.UnmatchedReason, kad.ParentExternalID)
	}
	if kad.RunID != rep.RunID {
		t.Errorf("Kadıköy run_id = %q, want %q", kad.RunID, rep.RunID)
	}
}
