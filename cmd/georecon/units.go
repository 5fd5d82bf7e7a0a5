package main

import (
	"context"
	"flag"
	"os"

	"github.com/hazyhaar/georecon/pkg/store"
)

func cmdImportUnits(args []string) int {
	fs := flag.NewFlagSet("import-units", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	input := fs.String("input", "", "TSV of id, name, code, type, parent_id, latitude, longitude")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*cfgPath)
	if err != nil {
		return 1
	}
	if *input == "" {
		logger.Error("missing -input")
		return 1
	}

	f, err := os.Open(*input)
	if err != nil {
		logger.Error("open units", "error", err)
		return 1
	}
	defer f.Close()
	units, err := store.ReadUnitsTSV(f)
	if err != nil {
		logger.Error("parse units", "error", err)
		return 1
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer st.Close()

	if err := st.EnsureUnitsTable(ctx); err != nil {
		logger.Error("create units table", "error", err)
		return 1
	}
	if err := st.InsertUnits(ctx, units); err != nil {
		logger.Error("insert units", "error", err)
		return 1
	}
	logger.Info("units imported", "count", len(units))
	return 0
}
