package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadUnitsTSV parses admin units from tab-separated rows:
//
//	id  name  code  type  parent_id  latitude  longitude
//
// A first row starting with "id" is a header. Empty latitude and longitude
// mean the unit has no coordinates.
func ReadUnitsTSV(r io.Reader) ([]AdminUnit, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = 7
	cr.LazyQuotes = true

	var units []AdminUnit
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return units, nil
		}
		if err != nil {
			return nil, fmt.Errorf("units row %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(rec[0], "id") {
			continue
		}
		u := AdminUnit{
			ID:       strings.TrimSpace(rec[0]),
			Name:     strings.TrimSpace(rec[1]),
			Code:     strings.TrimSpace(rec[2]),
			Type:     strings.ToLower(strings.TrimSpace(rec[3])),
			ParentID: strings.TrimSpace(rec[4]),
		}
		if u.ID == "" || u.Name == "" || u.Type == "" {
			return nil, fmt.Errorf("units row %d: id, name and type are required", line)
		}
		lat, lon := strings.TrimSpace(rec[5]), strings.TrimSpace(rec[6])
		if lat != "" || lon != "" {
			if u.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
				return nil, fmt.Errorf("units row %d: latitude: %w", line, err)
			}
			if u.Longitude, err = strconv.ParseFloat(lon, 64); err != nil {
				return nil, fmt.Errorf("units row %d: longitude: %w", line, err)
			}
			u.HasCoordinates = true
		}
		units = append(units, u)
	}
}
