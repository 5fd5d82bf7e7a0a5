package gazetteer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hazyhaar/georecon/pkg/geodist"
)

// noData is the GeoNames dem value for an unknown elevation.
const noData = -9999

// ParseError describes a malformed line. It is counted and skipped, never
// returned from Next.
type ParseError struct {
	Line   int
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Options configures a Reader.
type Options struct {
	// Features categorizes records. Nil means DefaultFeatures.
	Features FeatureTable
	// Countries restricts the stream to these ISO codes. Empty keeps all.
	Countries []string
	// MaxErrors caps the parse errors kept for reporting. The count is
	// always exact. Zero means 100.
	MaxErrors int
}

// Stats counts what a Reader has seen so far.
type Stats struct {
	Lines       int
	Records     int
	ParseErrors int
	Discarded   int
	ByLevel     map[Level]int
}

// Reader streams categorized places from a gazetteer dump. Use it like a
// bufio.Scanner:
//
//	r := gazetteer.NewReader(f, gazetteer.Options{})
//	for r.Next() {
//		p := r.Place()
//	}
//	if err := r.Err(); err != nil { ... }
//
// Only the current line is held in memory.
type Reader struct {
	br        *bufio.Reader
	features  FeatureTable
	countries map[string]bool
	maxErrors int

	place  Place
	err    error
	done   bool
	stats  Stats
	errors []ParseError
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts Options) *Reader {
	rd := &Reader{
		br:        bufio.NewReaderSize(r, 1<<20),
		features:  opts.Features,
		maxErrors: opts.MaxErrors,
		stats:     Stats{ByLevel: make(map[Level]int)},
	}
	if rd.features == nil {
		rd.features = DefaultFeatures()
	}
	if rd.maxErrors <= 0 {
		rd.maxErrors = 100
	}
	if len(opts.Countries) > 0 {
		rd.countries = make(map[string]bool, len(opts.Countries))
		for _, c := range opts.Countries {
			rd.countries[strings.ToUpper(strings.TrimSpace(c))] = true
		}
	}
	return rd
}

// Next advances to the next categorized place. It returns false at the end
// of the stream or on a read error.
func (r *Reader) Next() bool {
	for !r.done {
		line, err := r.br.ReadString('\n')
		if err != nil {
			r.done = true
			if !errors.Is(err, io.EOF) {
				r.err = fmt.Errorf("read line %d: %w", r.stats.Lines+1, err)
				return false
			}
			if line == "" {
				return false
			}
		}
		r.stats.Lines++

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p, reason := parseLine(line)
		if reason != "" {
			r.recordError(reason)
			continue
		}
		if r.countries != nil && !r.countries[p.CountryCode] {
			r.stats.Discarded++
			continue
		}
		level, ok := r.features.Categorize(p.FeatureCode)
		if !ok {
			r.stats.Discarded++
			continue
		}
		p.Level = level
		r.place = p
		r.stats.Records++
		r.stats.ByLevel[level]++
		return true
	}
	return false
}

// Place returns the place read by the last successful Next.
func (r *Reader) Place() Place { return r.place }

// Err returns the first read error. End of file is not an error.
func (r *Reader) Err() error { return r.err }

// Stats returns the running counters.
func (r *Reader) Stats() Stats { return r.stats }

// ParseErrors returns the first parse errors, line-ordered.
func (r *Reader) ParseErrors() []ParseError { return r.errors }

func (r *Reader) recordError(reason string) {
	r.stats.ParseErrors++
	if len(r.errors) < r.maxErrors {
		r.errors = append(r.errors, ParseError{Line: r.stats.Lines, Reason: reason})
	}
}

// parseLine returns the place and an empty reason, or a reason the line is
// malformed.
func parseLine(line string) (Place, string) {
	f := strings.Split(line, "\t")
	if len(f) < Columns {
		return Place{}, fmt.Sprintf("expected %d columns, got %d", Columns, len(f))
	}

	id, err := strconv.ParseInt(strings.TrimSpace(f[0]), 10, 64)
	if err != nil {
		return Place{}, fmt.Sprintf("invalid geonameid %q", f[0])
	}
	p := Place{
		ID:           id,
		Name:         strings.TrimSpace(f[1]),
		ASCIIName:    strings.TrimSpace(f[2]),
		FeatureClass: strings.TrimSpace(f[6]),
		FeatureCode:  strings.TrimSpace(f[7]),
		CountryCode:  strings.ToUpper(strings.TrimSpace(f[8])),
		CC2:          strings.TrimSpace(f[9]),
		Admin1Code:   strings.TrimSpace(f[10]),
		Admin2Code:   strings.TrimSpace(f[11]),
		Admin3Code:   strings.TrimSpace(f[12]),
		Admin4Code:   strings.TrimSpace(f[13]),
		Timezone:     strings.TrimSpace(f[17]),
		Modified:     strings.TrimSpace(f[18]),
	}
	if p.Name == "" {
		return Place{}, "empty name"
	}
	if alt := strings.TrimSpace(f[3]); alt != "" {
		for _, a := range strings.Split(alt, ",") {
			if a = strings.TrimSpace(a); a != "" {
				p.AlternateNames = append(p.AlternateNames, a)
			}
		}
	}

	latRaw, lonRaw := strings.TrimSpace(f[4]), strings.TrimSpace(f[5])
	switch {
	case latRaw == "" && lonRaw == "":
	case latRaw == "" || lonRaw == "":
		return Place{}, "incomplete coordinates"
	default:
		lat, errLat := strconv.ParseFloat(latRaw, 64)
		lon, errLon := strconv.ParseFloat(lonRaw, 64)
		if errLat != nil || errLon != nil {
			return Place{}, fmt.Sprintf("invalid coordinates %q,%q", latRaw, lonRaw)
		}
		if !geodist.Valid(lat, lon) {
			return Place{}, fmt.Sprintf("coordinates out of range %q,%q", latRaw, lonRaw)
		}
		p.Latitude, p.Longitude, p.HasCoordinates = lat, lon, true
	}

	if raw := strings.TrimSpace(f[14]); raw != "" {
		pop, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Place{}, fmt.Sprintf("invalid population %q", raw)
		}
		p.Population = pop
	}

	elev, err := optionalInt(f[15])
	if err != nil {
		return Place{}, fmt.Sprintf("invalid elevation %q", f[15])
	}
	if elev == nil {
		dem, err := optionalInt(f[16])
		if err != nil {
			return Place{}, fmt.Sprintf("invalid dem %q", f[16])
		}
		if dem != nil && *dem != noData {
			elev = dem
		}
	}
	p.Elevation = elev

	return p, ""
}

func optionalInt(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
