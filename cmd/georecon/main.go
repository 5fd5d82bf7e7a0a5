package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/georecon/pkg/config"
	"github.com/hazyhaar/georecon/pkg/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "reconcile":
		os.Exit(cmdReconcile(os.Args[2:]))
	case "fetch":
		os.Exit(cmdFetch(os.Args[2:]))
	case "import-units":
		os.Exit(cmdImportUnits(os.Args[2:]))
	case "serve":
		os.Exit(cmdServe(os.Args[2:]))
	case "mcp":
		os.Exit(cmdMCP(os.Args[2:]))
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: georecon <command> [flags]

Commands:
  reconcile     Match a gazetteer extract to the internal admin units
  fetch         Download a gazetteer extract
  import-units  Load internal admin units from a TSV file
  serve         Start the read-back HTTP API
  mcp           Serve the read-back tools over MCP stdio
`)
}

// loadConfig reads and validates the config file. Errors go to stderr with
// the bootstrap logger.
func loadConfig(path string) (config.Config, *slog.Logger, error) {
	boot := config.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg, err := config.Load(path, boot)
	if err != nil {
		boot.Error("load config", "error", err)
		return cfg, boot, err
	}
	if err := cfg.Validate(); err != nil {
		boot.Error("invalid config", "error", err)
		return cfg, boot, err
	}
	return cfg, cfg.Logger(os.Stderr), nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		logger.Error("open store", "driver", cfg.Store.Driver, "error", err)
		return nil, err
	}
	logger.Info("store_open_ok", "driver", st.Driver())
	return st, nil
}
