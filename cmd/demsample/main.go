package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/twpayne/go-demsample"
)

func run() error {
	config := flag.String("config", "", "path to JSON job file")
	raster := flag.String("raster", "", "path to DEM raster, overriding the job file")
	base := flag.String("base", "", "base directory for relative paths, overriding the job file")
	policy := flag.String("policy", "", "policy for points outside the raster (skip or abort)")
	metricsFile := flag.String("metrics-file", "", "write metrics to `path` on exit")
	verbose := flag.Bool("v", false, "verbose development logging")
	flag.Parse()

	if flag.NArg() == 0 {
		return errors.New("syntax: demsample [flags] input...")
	}

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(zap.String("run", uuid.NewString()))

	job := &demsample.Job{}
	if *config != "" {
		job, err = demsample.LoadJob(*config)
		if err != nil {
			return err
		}
	}
	if *raster != "" {
		job.Raster = *raster
	}
	if *base != "" {
		job.BaseDir = *base
	}
	if *policy != "" {
		if err := job.ErrorPolicy.UnmarshalText([]byte(*policy)); err != nil {
			return err
		}
	}
	if err := job.Validate(); err != nil {
		return err
	}
	job.Logger = logger
	job.Done = func(inputPath string, report *demsample.Report, err error) {
		if err != nil {
			fmt.Printf("%s: failed\n", inputPath)
			return
		}
		fmt.Printf("%s: %d sampled, %d skipped\n", report.Input, report.Sampled, len(report.Skipped))
	}

	var inputPaths []string
	for _, arg := range flag.Args() {
		matches, err := filepath.Glob(job.Resolve(arg))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("%s: no matching inputs", arg)
		}
		inputPaths = append(inputPaths, matches...)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	_, err = job.RunAll(ctx, inputPaths)

	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, prometheus.DefaultGatherer); err != nil {
			logger.Error("write metrics", zap.Error(err))
		}
	}

	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
