// Package gazetteer streams GeoNames-style tab-separated place dumps.
//
// Column layout of a record (http://download.geonames.org/export/dump):
//
//	 0 geonameid      7 feature code   14 population
//	 1 name           8 country code   15 elevation
//	 2 asciiname      9 cc2            16 dem
//	 3 alternatenames 10 admin1 code   17 timezone
//	 4 latitude       11 admin2 code   18 modification date
//	 5 longitude      12 admin3 code
//	 6 feature class  13 admin4 code
package gazetteer

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Columns is the minimum number of tab-separated fields in a record.
const Columns = 19

// Level is a tier of the administrative hierarchy.
type Level string

const (
	Province Level = "province"
	District Level = "district"
	Town     Level = "town"
)

// Levels lists the hierarchy from the top down. Reconciliation walks it in
// this order.
var Levels = []Level{Province, District, Town}

// ErrUnknownLevel is returned by ParseLevel.
var ErrUnknownLevel = errors.New("unknown level")

// ParseLevel converts a level name such as "district".
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case Province, District, Town:
		return l, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownLevel, s)
}

// Parent returns the level above l. Province has none.
func (l Level) Parent() (Level, bool) {
	switch l {
	case District:
		return Province, true
	case Town:
		return District, true
	}
	return "", false
}

// Place is one gazetteer record. It is never modified after parsing.
type Place struct {
	ID             int64
	Name           string
	ASCIIName      string
	AlternateNames []string
	Latitude       float64
	Longitude      float64
	HasCoordinates bool
	FeatureClass   string
	FeatureCode    string
	CountryCode    string
	CC2            string
	Admin1Code     string
	Admin2Code     string
	Admin3Code     string
	Admin4Code     string
	Population     int64
	Elevation      *int
	Timezone       string
	Modified       string
	Level          Level
}

// ExternalCode is the admin code that identifies the place at its level.
func (p Place) ExternalCode() string {
	switch p.Level {
	case Province:
		return p.Admin1Code
	case District:
		return p.Admin2Code
	case Town:
		if p.Admin3Code != "" {
			return p.Admin3Code
		}
		return p.Admin4Code
	}
	return ""
}

// AdminPath is the dotted admin code path of the place, e.g. "TR.34.1234".
// It is empty when a code required by the level is missing, so such a place
// can never act as a parent.
func (p Place) AdminPath() string {
	switch p.Level {
	case Province:
		return joinPath(p.CountryCode, p.Admin1Code)
	case District:
		return joinPath(p.CountryCode, p.Admin1Code, p.Admin2Code)
	case Town:
		leaf := p.ExternalCode()
		if leaf == "" {
			leaf = strconv.FormatInt(p.ID, 10)
		}
		return joinPath(p.CountryCode, p.Admin1Code, p.Admin2Code, leaf)
	}
	return ""
}

// ParentPath is the admin path the parent mapping must carry.
func (p Place) ParentPath() string {
	switch p.Level {
	case District:
		return joinPath(p.CountryCode, p.Admin1Code)
	case Town:
		return joinPath(p.CountryCode, p.Admin1Code, p.Admin2Code)
	}
	return ""
}

func joinPath(parts ...string) string {
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	return strings.Join(parts, ".")
}

// FeatureTable maps a feature code to the level it reconciles at. Codes that
// are absent are discarded.
type FeatureTable map[string]Level

// DefaultFeatures returns the standard categorization: first-order divisions
// are provinces, second-order are districts, lower divisions and populated
// places are towns.
func DefaultFeatures() FeatureTable {
	return FeatureTable{
		"ADM1":  Province,
		"ADM2":  District,
		"ADM3":  Town,
		"ADM4":  Town,
		"PPLC":  Town,
		"PPLA":  Town,
		"PPLA2": Town,
		"PPLA3": Town,
		"PPLA4": Town,
		"PPL":   Town,
	}
}

// NewFeatureTable builds a table from level -> feature codes.
func NewFeatureTable(byLevel map[Level][]string) (FeatureTable, error) {
	ft := make(FeatureTable)
	for level, codes := range byLevel {
		if _, err := ParseLevel(string(level)); err != nil {
			return nil, err
		}
		for _, c := range codes {
			c = strings.ToUpper(strings.TrimSpace(c))
			if prev, ok := ft[c]; ok && prev != level {
				return nil, fmt.Errorf("feature code %s assigned to both %s and %s", c, prev, level)
			}
			ft[c] = level
		}
	}
	return ft, nil
}

// Categorize returns the level for a feature code.
func (ft FeatureTable) Categorize(code string) (Level, bool) {
	l, ok := ft[code]
	return l, ok
}

// Codes returns the feature codes assigned to level, sorted.
func (ft FeatureTable) Codes(level Level) []string {
	var codes []string
	for c, l := range ft {
		if l == level {
			codes = append(codes, c)
		}
	}
	sort.Strings(codes)
	return codes
}
