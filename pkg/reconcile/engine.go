// Package reconcile matches gazetteer places to internal admin units level
// by level and persists the resulting location mappings.
package reconcile

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/geodist"
	"github.com/hazyhaar/georecon/pkg/runlock"
	"github.com/hazyhaar/georecon/pkg/store"
)

// Reasons recorded on unmatched mappings.
const (
	ReasonParentNotFound = "parent_not_found"
	ReasonNoCandidate    = "no_candidate"
)

// lockKey serializes runs against one store.
const lockKey = "reconcile"

// Config tunes a run.
type Config struct {
	Workers   int
	BatchSize int
	// RadiusKm is the distance cutoff per level. Zero or absent means no
	// cutoff, no distance bonus and no geospatial fallback.
	RadiusKm        map[gazetteer.Level]float64
	Reader          gazetteer.Options
	Resume          bool
	SuggestDistance int
}

// DefaultConfig returns the standard cutoffs: none for provinces, 50 km for
// districts, 5 km for towns.
func DefaultConfig() Config {
	return Config{
		Workers:   runtime.NumCPU(),
		BatchSize: 500,
		RadiusKm: map[gazetteer.Level]float64{
			gazetteer.District: 50,
			gazetteer.Town:     5,
		},
		SuggestDistance: maxSuggestDistance,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics updates m during runs.
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithLocker guards runs with l.
func WithLocker(l runlock.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine runs reconciliations against one store.
type Engine struct {
	st      *store.Store
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	locker  runlock.Locker
	now     func() time.Time
}

// New returns an Engine. Zero Workers or BatchSize take the defaults.
func New(st *store.Store, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RadiusKm == nil {
		cfg.RadiusKm = def.RadiusKm
	}
	e := &Engine{
		st:     st,
		cfg:    cfg,
		logger: logger,
		locker: runlock.Noop{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// runContext is the state of one run. It is passed down every stage; no
// run state lives at package level.
type runContext struct {
	id          string
	fingerprint string
	started     time.Time
	report      *Report
	streamSeen  bool
	// levelRuns names the run whose rows stand for each finished level:
	// this run, or the checkpointed run of a skipped level.
	levelRuns map[gazetteer.Level]string
}

// Run reconciles src province, then district, then town. Each level is
// committed and checkpointed before the next one reads it back. The report
// is returned even when the run fails; err is then a *FatalError.
func (e *Engine) Run(ctx context.Context, src gazetteer.Source) (*Report, error) {
	fp, err := src.Fingerprint()
	if err != nil {
		return nil, fatal("open input", err)
	}
	run := &runContext{
		id:          uuid.NewString(),
		fingerprint: fp,
		started:     e.now(),
		levelRuns:   make(map[gazetteer.Level]string, len(gazetteer.Levels)),
	}
	run.report = newReport(run.id, src.Path, run.started)

	unlock, err := e.locker.Lock(ctx, lockKey)
	if err != nil {
		return run.report, fatal("acquire lock", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("release lock", "error", err)
		}
	}()

	if err := e.st.StartRun(ctx, run.id, src.Path, run.started.Unix()); err != nil {
		return run.report, fatal("record run", err)
	}
	e.logger.Info("run_started", "run_id", run.id, "input", src.Path, "fingerprint", fp, "workers", e.cfg.Workers)

	done := map[string]string{}
	if e.cfg.Resume {
		if done, err = e.st.CheckpointRuns(ctx, fp); err != nil {
			return run.report, e.finish(ctx, run, fatal("load checkpoints", err))
		}
	}

	for _, level := range gazetteer.Levels {
		if prev, ok := done[string(level)]; ok {
			run.levelRuns[level] = prev
			run.report.Level(level).Skipped = true
			e.logger.Info("level_skipped", "run_id", run.id, "level", level, "checkpoint_run", prev)
			continue
		}
		if err := e.runLevel(ctx, run, level, src); err != nil {
			return run.report, e.finish(ctx, run, err)
		}
		if err := e.st.SaveCheckpoint(ctx, fp, string(level), run.id, e.now().Unix()); err != nil {
			return run.report, e.finish(ctx, run, fatal("save checkpoint", err))
		}
		run.levelRuns[level] = run.id
	}
	return run.report, e.finish(ctx, run, nil)
}

// finish stamps the report and records it. It returns runErr.
func (e *Engine) finish(ctx context.Context, run *runContext, runErr error) error {
	r := run.report
	r.FinishedAt = e.now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	r.Status = store.RunCompleted
	if runErr != nil {
		r.Status = store.RunFailed
		r.Error = runErr.Error()
	}

	ctx = context.WithoutCancel(ctx)
	data, err := r.Marshal()
	if err != nil {
		e.logger.Error("marshal report", "error", err)
	}
	if err := e.st.FinishRun(ctx, run.id, r.Status, string(data), r.FinishedAt.Unix()); err != nil {
		e.logger.Error("record run result", "run_id", run.id, "error", err)
	}
	r.Log(e.logger)
	return runErr
}

// levelState is the read-only state shared by the workers of one level.
type levelState struct {
	runID     string
	level     gazetteer.Level
	parents   map[string]store.Mapping
	index     *Index
	matcher   Matcher
	createdAt int64
}

func (e *Engine) runLevel(ctx context.Context, run *runContext, lvl gazetteer.Level, src gazetteer.Source) error {
	start := e.now()
	lr := run.report.Level(lvl)
	logger := e.logger.With("run_id", run.id, "level", lvl)

	parents, err := e.loadParents(ctx, run, lvl, logger)
	if err != nil {
		return fatal("load parent mappings", err)
	}
	units, err := e.st.ListUnits(ctx, string(lvl))
	if err != nil {
		return fatal("build candidate index", err)
	}
	lv := &levelState{
		runID:   run.id,
		level:   lvl,
		parents: parents,
		index:   NewIndex(lvl, units),
		matcher: Matcher{
			Scorer:          Scorer{RadiusKm: e.cfg.RadiusKm[lvl]},
			SuggestDistance: e.cfg.SuggestDistance,
		},
		createdAt: run.started.Unix(),
	}
	lr.Candidates = lv.index.Len()
	logger.Info("level_started", "candidates", lr.Candidates, "parents", len(parents))

	rc, err := src.Open()
	if err != nil {
		return fatal("open input", err)
	}
	defer rc.Close()

	resolver := NewResolver()
	persister := NewPersister(e.st, e.cfg.BatchSize, logger)
	sr, records := e.stream(ctx, rc, lv, func(m store.Mapping) error {
		if m.UnmatchedReason == ReasonParentNotFound {
			lr.ParentMissing++
		}
		ent, conflict := resolver.Admit(m)
		if conflict {
			lr.Conflicts++
			logger.Warn("conflict",
				"external_id", m.ExternalID,
				"internal_id", deref(m.InternalID),
				"score", m.Score,
				"replaced", ent != nil)
		}
		if ent == nil {
			return nil
		}
		if err := persister.Persist(ctx, m, ent); err != nil {
			return err
		}
		if m.IsMatched {
			e.metrics.observeMatch(string(lvl), m.MatchMethod, m.Score)
		}
		return nil
	})

	writeErr := sr.writeErr
	if writeErr == nil && sr.readErr == nil && ctx.Err() == nil {
		writeErr = persister.Flush(ctx)
	} else {
		persister.Abort()
	}

	st := sr.stats
	lr.Records = records
	lr.ParseErrors = st.ParseErrors
	lr.PersistErrors = persister.Errors()
	lr.Matched, lr.Fallback, lr.Unmatched = resolver.Counts()
	lr.Duration = e.now().Sub(start)
	if !run.streamSeen {
		run.streamSeen = true
		run.report.Lines = st.Lines
		run.report.ParseErrors = st.ParseErrors
		run.report.Discarded = st.Discarded
		run.report.Samples = sr.samples
		if e.metrics != nil {
			e.metrics.ParseErrors.Add(float64(st.ParseErrors))
		}
	}

	switch {
	case sr.readErr != nil:
		return fatal("read input", sr.readErr)
	case writeErr != nil:
		return fatal("write mappings", writeErr)
	case ctx.Err() != nil:
		return fatal("reconcile "+string(lvl), ctx.Err())
	}

	e.metrics.observeLevel(lr)
	logger.Info("level_done",
		"records", lr.Records,
		"matched", lr.Matched,
		"fallback", lr.Fallback,
		"unmatched", lr.Unmatched,
		"persist_errors", lr.PersistErrors,
		"duration", lr.Duration)
	return nil
}

type streamResult struct {
	stats    gazetteer.Stats
	samples  []gazetteer.ParseError
	readErr  error
	writeErr error
}

// stream runs one reader goroutine, cfg.Workers matching goroutines and the
// calling goroutine as the single writer. write is only ever called from the
// caller's goroutine.
func (e *Engine) stream(ctx context.Context, rc io.Reader, lv *levelState, write func(store.Mapping) error) (streamResult, int) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan gazetteer.Place, e.cfg.Workers*64)
	results := make(chan store.Mapping, e.cfg.Workers*64)

	var (
		res     streamResult
		records int
	)
	readDone := make(chan struct{})
	r := gazetteer.NewReader(rc, e.cfg.Reader)
	go func() {
		defer close(readDone)
		defer close(jobs)
		for r.Next() {
			p := r.Place()
			if p.Level != lv.level {
				continue
			}
			records++
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				results <- lv.reconcile(p)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for m := range results {
		if res.writeErr != nil {
			continue
		}
		if err := write(m); err != nil {
			res.writeErr = err
			cancel()
		}
	}
	<-readDone

	res.stats = r.Stats()
	res.samples = r.ParseErrors()
	res.readErr = r.Err()
	return res, records
}

// reconcile builds the mapping row of one place. It is safe for concurrent
// use: lv is read-only while a level runs.
func (lv *levelState) reconcile(p gazetteer.Place) store.Mapping {
	m := store.Mapping{
		ExternalID:   p.ID,
		LocationType: string(lv.level),
		ExternalCode: p.ExternalCode(),
		ExternalName: p.Name,
		CountryCode:  p.CountryCode,
		AdminPath:    p.AdminPath(),
		Population:   p.Population,
		Elevation:    p.Elevation,
		FeatureCode:  p.FeatureCode,
		CreatedAt:    lv.createdAt,
		RunID:        lv.runID,
	}
	if p.HasCoordinates {
		lat, lon := p.Latitude, p.Longitude
		m.Latitude, m.Longitude = &lat, &lon
	}

	scope := ""
	if lv.level != gazetteer.Province {
		parent, ok := lv.parents[p.ParentPath()]
		if !ok {
			m.UnmatchedReason = ReasonParentNotFound
			return m
		}
		pid := parent.ExternalID
		m.ParentExternalID = &pid
		scope = *parent.InternalID
	}

	res := lv.matcher.Match(NewSubject(p), lv.index, scope)
	if !res.Matched() {
		m.UnmatchedReason = ReasonNoCandidate
		if s := res.Suggestion; s != nil {
			id := s.Unit.ID
			m.SuggestedInternalID = &id
			m.SuggestedName = s.Unit.Name
		}
		return m
	}

	u := res.Candidate.Unit
	id := u.ID
	m.InternalID = &id
	m.InternalCode = u.Code
	m.InternalName = u.Name
	m.IsMatched = true
	m.MatchMethod = res.Score.Method
	m.Score = res.Score.Points
	if d := res.Score.DistanceKm; d != geodist.Unknown {
		m.DistanceKm = &d
	}
	return m
}

// loadParents indexes by admin path the matched rows that the run standing
// for the level above committed. Rows left by other runs or other inputs
// are not parents. Provinces have no parents.
func (e *Engine) loadParents(ctx context.Context, run *runContext, lvl gazetteer.Level, logger *slog.Logger) (map[string]store.Mapping, error) {
	pl, ok := lvl.Parent()
	if !ok {
		return nil, nil
	}
	source, ok := run.levelRuns[pl]
	if !ok {
		return nil, nil
	}
	rows, err := e.st.ListMatchedByRun(ctx, string(pl), source)
	if err != nil {
		return nil, err
	}
	parents := make(map[string]store.Mapping, len(rows))
	for _, m := range rows {
		if m.AdminPath == "" || m.InternalID == nil {
			continue
		}
		if prev, dup := parents[m.AdminPath]; dup {
			// Rows come ordered by external id; the first one wins.
			logger.Warn("duplicate_parent_path", "path", m.AdminPath,
				"kept", prev.ExternalID, "ignored", m.ExternalID)
			continue
		}
		parents[m.AdminPath] = m
	}
	return parents, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
