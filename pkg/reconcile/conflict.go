package reconcile

import "github.com/hazyhaar/georecon/pkg/store"

type mappingKey struct {
	externalID   int64
	locationType string
}

type rowState int

const (
	rowPending rowState = iota
	rowCommitted
	rowFailed
)

// entry is the row currently held for a key.
type entry struct {
	score    float64
	code     string
	matched  bool
	fallback bool
	state    rowState
}

// Resolver enforces one row per (external id, location type) within a run.
// It is owned by the writer goroutine and is not safe for concurrent use.
type Resolver struct {
	seen map[mappingKey]*entry
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{seen: make(map[mappingKey]*entry)}
}

// Admit decides whether m is written. The first row for a key is always
// admitted. A later row for the same key is a conflict: it replaces the
// held one if it is matched where the held one is not, scores higher, or
// scores the same with a smaller internal code. The returned entry tracks the
// admitted row.
func (r *Resolver) Admit(m store.Mapping) (e *entry, conflict bool) {
	k := mappingKey{m.ExternalID, m.LocationType}
	held, ok := r.seen[k]
	if !ok {
		e = &entry{score: m.Score, code: m.InternalCode, matched: m.IsMatched, fallback: m.MatchMethod == MethodGeo}
		r.seen[k] = e
		return e, false
	}
	if !supersedes(m, held) {
		return nil, true
	}
	held.score, held.code, held.matched, held.state = m.Score, m.InternalCode, m.IsMatched, rowPending
	held.fallback = m.MatchMethod == MethodGeo
	return held, true
}

func supersedes(m store.Mapping, held *entry) bool {
	if m.IsMatched != held.matched {
		return m.IsMatched
	}
	if m.Score != held.score {
		return m.Score > held.score
	}
	return m.InternalCode < held.code
}

// Counts returns the matched, fallback and unmatched rows that reached a
// commit. Fallback rows are included in matched.
func (r *Resolver) Counts() (matched, fallback, unmatched int) {
	for _, e := range r.seen {
		if e.state != rowCommitted {
			continue
		}
		switch {
		case e.matched && e.fallback:
			matched++
			fallback++
		case e.matched:
			matched++
		default:
			unmatched++
		}
	}
	return matched, fallback, unmatched
}

// Len returns the number of distinct keys seen.
func (r *Resolver) Len() int { return len(r.seen) }
