package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/hazyhaar/georecon/pkg/gazetteer"
	"github.com/hazyhaar/georecon/pkg/geodist"
	"github.com/hazyhaar/georecon/pkg/kit"
	"github.com/hazyhaar/georecon/pkg/reconcile"
	"github.com/hazyhaar/georecon/pkg/store"
)

// Shared request/response types used by both HTTP and MCP transports.

const (
	defaultLimit = 100
	maxLimit     = 1000
	maxRadiusKm  = 500
)

// errBadRequest marks endpoint errors caused by the caller.
var errBadRequest = errors.New("bad request")

type mappingsReq struct {
	ExternalID int64
}

type mappingReq struct {
	ExternalID int64
	Level      string
}

type reviewReq struct {
	Level  string
	Limit  int
	Offset int
}

type nearReq struct {
	Type     string
	Lat, Lon float64
	RadiusKm float64
}

type mappingsResponse struct {
	ExternalID int64           `json:"external_id"`
	Mappings   []store.Mapping `json:"mappings"`
}

type reviewResponse struct {
	Level  string          `json:"level,omitempty"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Items  []store.Mapping `json:"items"`
}

type healthResponse struct {
	Status string                       `json:"status"`
	Driver string                       `json:"driver"`
	Levels map[string]store.LevelCounts `json:"levels"`
}

// endpoints holds the kit.Endpoints backed by the store.
type endpoints struct {
	mappings kit.Endpoint
	mapping  kit.Endpoint
	review   kit.Endpoint
	near     kit.Endpoint
	report   kit.Endpoint
	health   kit.Endpoint
}

func newEndpoints(st *store.Store, logger *slog.Logger) endpoints {
	wrap := func(action string, ep kit.Endpoint) kit.Endpoint {
		return kit.Logging(logger, action)(ep)
	}
	return endpoints{
		mappings: wrap("list_mappings", mappingsEndpoint(st)),
		mapping:  wrap("get_mapping", mappingEndpoint(st)),
		review:   wrap("review_queue", reviewEndpoint(st)),
		near:     wrap("units_near", nearEndpoint(st)),
		report:   wrap("latest_report", reportEndpoint(st)),
		health:   wrap("health", healthEndpoint(st)),
	}
}

func mappingsEndpoint(st *store.Store) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*mappingsReq)
		ms, err := st.ListMappings(ctx, req.ExternalID)
		if err != nil {
			return nil, err
		}
		if len(ms) == 0 {
			return nil, fmt.Errorf("external id %d: %w", req.ExternalID, store.ErrNotFound)
		}
		return mappingsResponse{ExternalID: req.ExternalID, Mappings: ms}, nil
	}
}

func mappingEndpoint(st *store.Store) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*mappingReq)
		level, err := gazetteer.ParseLevel(req.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return st.GetMapping(ctx, req.ExternalID, string(level))
	}
}

func reviewEndpoint(st *store.Store) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*reviewReq)
		if req.Level != "" {
			level, err := gazetteer.ParseLevel(req.Level)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errBadRequest, err)
			}
			req.Level = string(level)
		}
		if req.Limit <= 0 {
			req.Limit = defaultLimit
		}
		if req.Limit > maxLimit {
			return nil, fmt.Errorf("%w: limit too large (max %d, got %d)", errBadRequest, maxLimit, req.Limit)
		}
		if req.Offset < 0 {
			return nil, fmt.Errorf("%w: negative offset", errBadRequest)
		}
		items, err := st.ListUnmatched(ctx, req.Level, req.Limit, req.Offset)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []store.Mapping{}
		}
		return reviewResponse{Level: req.Level, Limit: req.Limit, Offset: req.Offset, Items: items}, nil
	}
}

// nearEndpoint returns the units of a type within radius of a point as a
// GeoJSON FeatureCollection, nearest first.
func nearEndpoint(st *store.Store) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*nearReq)
		level, err := gazetteer.ParseLevel(req.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if !geodist.Valid(req.Lat, req.Lon) {
			return nil, fmt.Errorf("%w: invalid coordinates %g,%g", errBadRequest, req.Lat, req.Lon)
		}
		if req.RadiusKm <= 0 || req.RadiusKm > maxRadiusKm {
			return nil, fmt.Errorf("%w: radius_km must be in (0, %d]", errBadRequest, maxRadiusKm)
		}

		center := orb.Point{req.Lon, req.Lat}
		units, err := st.UnitsInBox(ctx, string(level), geo.NewBoundAroundPoint(center, req.RadiusKm*1000))
		if err != nil {
			return nil, err
		}

		type hit struct {
			unit store.AdminUnit
			d    float64
		}
		var hits []hit
		for _, u := range units {
			d := geodist.Distance(req.Lat, req.Lon, u.Latitude, u.Longitude)
			if d <= req.RadiusKm {
				hits = append(hits, hit{u, d})
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].d < hits[j].d })

		fc := geojson.NewFeatureCollection()
		for _, h := range hits {
			f := geojson.NewFeature(h.unit.Point())
			f.ID = h.unit.ID
			f.Properties["name"] = h.unit.Name
			f.Properties["code"] = h.unit.Code
			f.Properties["type"] = h.unit.Type
			f.Properties["parent_id"] = h.unit.ParentID
			f.Properties["distance_km"] = h.d
			fc.Append(f)
		}
		return fc, nil
	}
}

func reportEndpoint(st *store.Store) kit.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		run, err := st.LatestRun(ctx)
		if err != nil {
			return nil, err
		}
		if run.Report == "" {
			return run, nil
		}
		return reconcile.ParseReport([]byte(run.Report))
	}
}

func healthEndpoint(st *store.Store) kit.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		if err := st.Ping(ctx); err != nil {
			return nil, err
		}
		counts, err := st.CountByLevel(ctx)
		if err != nil {
			return nil, err
		}
		return healthResponse{Status: "ok", Driver: st.Driver(), Levels: counts}, nil
	}
}
