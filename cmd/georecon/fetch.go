package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hazyhaar/georecon/pkg/config"
	"github.com/hazyhaar/georecon/pkg/gazetteer"
)

func cmdFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	country := fs.String("country", "", "ISO country code (e.g. TR); empty downloads allCountries")
	outputDir := fs.String("output-dir", "data", "output directory for the extract")
	url := fs.String("url", "", "download this URL instead of the geonames dump")
	fs.Parse(args)

	logger := config.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	src := *url
	if src == "" {
		src = gazetteer.ExtractURL(strings.TrimSpace(*country))
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Error("create output dir", "dir", *outputDir, "error", err)
		return 1
	}
	dest := filepath.Join(*outputDir, path.Base(src))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("fetch_started", "url", src, "dest", dest)
	if err := gazetteer.NewFetcher().Fetch(ctx, src, dest); err != nil {
		logger.Error("fetch failed", "url", src, "error", err)
		return 1
	}
	logger.Info("fetch_done", "dest", dest)
	fmt.Println(dest)
	return 0
}
