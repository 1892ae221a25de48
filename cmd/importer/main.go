// Package main runs one import job to completion in the foreground.
//
// Usage:
//
//	importer -limit 100 -batch 10 -sources hiking_project,parks
//	importer -target-name "Yosemite" -lat 37.86 -lng -119.53 -radius 40
//	echo "$KEY" | importer -store-credential PARKS_API_KEY
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/trail-importer/internal/app"
	"github.com/trail-importer/internal/config"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/source"
	"github.com/trail-importer/internal/types"
)

func main() {
	limit := flag.Int("limit", 0, "Trails per source (0 uses the configured default)")
	batch := flag.Int("batch", 0, "Batch size (0 uses the configured default)")
	sourcesFlag := flag.String("sources", "", "Comma-separated sources (empty means every enabled source)")
	minScore := flag.Float64("min-score", -1, "Minimum quality score (negative uses the configured default)")
	noDedup := flag.Bool("no-dedup", false, "Disable duplicate detection")
	noQuality := flag.Bool("no-quality", false, "Disable quality filtering")
	concurrent := flag.Bool("concurrent", false, "Fetch sources concurrently")
	targetName := flag.String("target-name", "", "Name of a geographic target (splits into four quadrant regions)")
	lat := flag.Float64("lat", 0, "Target latitude")
	lng := flag.Float64("lng", 0, "Target longitude")
	radius := flag.Float64("radius", 0, "Target radius in miles")
	lockPath := flag.String("lock", os.TempDir()+"/trail-importer.lock", "Lock file preventing overlapping runs on this host")
	storeCredential := flag.String("store-credential", "", "Save the API key read from stdin under this name in the OS keyring, then exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(app.LoggerConfig(cfg.Logging))
	logger := logging.GetGlobalLogger()

	if *storeCredential != "" {
		if err := saveCredential(cfg.Credentials.KeyringService, *storeCredential); err != nil {
			logger.WithError(err).Fatal("Failed to store credential")
		}
		logger.WithField("name", *storeCredential).Info("Credential stored in keyring")
		return
	}

	lock := flock.New(*lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		logger.WithError(err).Fatal("Failed to acquire run lock")
	}
	if !locked {
		logger.WithField("lock", *lockPath).Fatal("Another import is already running")
	}
	defer lock.Unlock()

	importCfg := models.ImportConfig{
		TrailsPerSource:   *limit,
		BatchSize:         *batch,
		ConcurrentSources: *concurrent,
	}
	if *noDedup {
		off := false
		importCfg.EnableDuplicateDetection = &off
	}
	if *noQuality {
		off := false
		importCfg.EnableQualityFiltering = &off
	}
	if *minScore >= 0 {
		importCfg.MinQualityScore = minScore
	}
	for _, name := range strings.Split(*sourcesFlag, ",") {
		if name = strings.TrimSpace(name); name != "" {
			importCfg.Sources = append(importCfg.Sources, types.SourceType(name))
		}
	}
	if *targetName != "" {
		importCfg.Target = &models.GeoTarget{Name: *targetName, Lat: *lat, Lng: *lng, RadiusMiles: *radius}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize import service")
	}
	defer a.Close()

	if code := run(ctx, a, importCfg); code != 0 {
		a.Close()
		lock.Unlock()
		os.Exit(code)
	}
}

func run(ctx context.Context, a *app.App, importCfg models.ImportConfig) int {
	logger := logging.GetGlobalLogger()

	started, err := a.Service.StartImport(ctx, importCfg)
	if err != nil {
		logger.WithError(err).Error("Import could not start")
		if started != nil && started.Job != nil {
			printJob(started.Job)
		}
		return 1
	}

	logger.WithFields(map[string]interface{}{
		logging.FieldJobID: started.JobID,
		"sources":          started.Sources,
	}).Info("Import started")

	job, err := a.Service.Run(ctx, started.JobID)
	if job != nil {
		printJob(job)
	}
	if err != nil {
		logger.WithError(err).Error("Import failed")
		return 1
	}
	if job == nil || job.Status != types.JobStatusCompleted {
		return 1
	}
	return 0
}

// saveCredential stores the first line of stdin under name
func saveCredential(service, name string) error {
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && value == "" {
		return fmt.Errorf("failed to read credential from stdin: %w", err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("credential for %s is empty", name)
	}
	return source.StoreKeyringCredential(service, name, value)
}

func printJob(job *models.ImportJob) {
	out, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode job: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
