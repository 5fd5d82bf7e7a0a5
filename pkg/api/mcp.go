package api

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/georecon/pkg/kit"
	"github.com/hazyhaar/georecon/pkg/store"
)

// RegisterMCPTools registers the read-back tools on the server.
func RegisterMCPTools(srv *server.MCPServer, st *store.Store, logger *slog.Logger) {
	eps := newEndpoints(st, logger)
	registerGetMapping(srv, eps)
	registerReviewQueue(srv, eps)
	registerUnitsNear(srv, eps)
	registerLatestReport(srv, eps)
}

func registerGetMapping(srv *server.MCPServer, eps endpoints) {
	tool := mcp.NewTool("get_mapping",
		mcp.WithDescription("Return the reconciled internal admin unit for a gazetteer id. Without a level, every level row is returned."),
		mcp.WithString("external_id", mcp.Required(), mcp.Description("Gazetteer (geonames) id")),
		mcp.WithString("level", mcp.Description("province, district or town")),
	)

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		switch req := request.(type) {
		case *mappingReq:
			return eps.mapping(ctx, req)
		default:
			return eps.mappings(ctx, req)
		}
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		raw, _ := args["external_id"].(string)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("external_id %q is not an integer", raw)
		}
		if level, _ := args["level"].(string); level != "" {
			return &kit.MCPDecodeResult{Request: &mappingReq{ExternalID: id, Level: level}}, nil
		}
		return &kit.MCPDecodeResult{Request: &mappingsReq{ExternalID: id}}, nil
	})
}

func registerReviewQueue(srv *server.MCPServer, eps endpoints) {
	tool := mcp.NewTool("list_review_queue",
		mcp.WithDescription("List unmatched gazetteer places awaiting manual review, with the reason and any suggested unit."),
		mcp.WithString("level", mcp.Description("province, district or town; empty for all levels")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 100, max 1000)")),
		mcp.WithNumber("offset", mcp.Description("Rows to skip")),
	)

	kit.RegisterMCPTool(srv, tool, eps.review, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		level, _ := args["level"].(string)
		limit, _ := args["limit"].(float64)
		offset, _ := args["offset"].(float64)
		return &kit.MCPDecodeResult{Request: &reviewReq{Level: level, Limit: int(limit), Offset: int(offset)}}, nil
	})
}

func registerUnitsNear(srv *server.MCPServer, eps endpoints) {
	tool := mcp.NewTool("units_near",
		mcp.WithDescription("Find internal admin units of a type within a radius of a point. Returns GeoJSON."),
		mcp.WithString("type", mcp.Required(), mcp.Description("province, district or town")),
		mcp.WithNumber("lat", mcp.Required(), mcp.Description("Latitude in degrees")),
		mcp.WithNumber("lon", mcp.Required(), mcp.Description("Longitude in degrees")),
		mcp.WithNumber("radius_km", mcp.Required(), mcp.Description("Search radius in kilometres")),
	)

	kit.RegisterMCPTool(srv, tool, eps.near, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		typ, _ := args["type"].(string)
		lat, ok1 := args["lat"].(float64)
		lon, ok2 := args["lon"].(float64)
		radius, ok3 := args["radius_km"].(float64)
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("lat, lon and radius_km are required numbers")
		}
		return &kit.MCPDecodeResult{Request: &nearReq{Type: typ, Lat: lat, Lon: lon, RadiusKm: radius}}, nil
	})
}

func registerLatestReport(srv *server.MCPServer, eps endpoints) {
	tool := mcp.NewTool("latest_report",
		mcp.WithDescription("Return the summary report of the most recent reconciliation run."),
	)

	kit.RegisterMCPTool(srv, tool, eps.report, func(_ mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	})
}
