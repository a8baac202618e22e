package demsample

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// An OutputFormat selects an output dataset written for each input.
type OutputFormat string

const (
	OutputShapefile OutputFormat = "shapefile"
	OutputCSV       OutputFormat = "csv"
)

// DefaultOutputSuffix is appended to the name of each input to name its
// outputs.
const DefaultOutputSuffix = "_QUOTA"

const maxJobFileSize = 1 << 20

// A ReprojectConfig transforms input points before sampling.
type ReprojectConfig struct {
	SourceEPSG int `json:"source_epsg"`
	TargetEPSG int `json:"target_epsg"`
}

// A Job samples one raster at the points of any number of input datasets.
//
// Relative paths are resolved against BaseDir, never against the process's
// working directory.
type Job struct {
	BaseDir               string           `json:"base_dir,omitempty"`
	Raster                string           `json:"raster"`
	Band                  int              `json:"band,omitempty"`
	Resampling            Resampling       `json:"resampling,omitempty"`
	BlockCacheSize        int              `json:"block_cache_size,omitempty"`
	ErrorPolicy           ErrorPolicy      `json:"error_policy,omitempty"`
	XColumn               string           `json:"x_column,omitempty"`
	YColumn               string           `json:"y_column,omitempty"`
	Comma                 string           `json:"comma,omitempty"`
	Charset               string           `json:"charset,omitempty"`
	Schema                Schema           `json:"schema"`
	IdentifyingAttributes []string         `json:"identifying_attributes,omitempty"`
	Outputs               []OutputFormat   `json:"outputs,omitempty"`
	OutputDir             string           `json:"output_dir,omitempty"`
	OutputSuffix          *string          `json:"output_suffix,omitempty"`
	OutputEPSG            *int             `json:"output_epsg,omitempty"`
	Reproject             *ReprojectConfig `json:"reproject,omitempty"`

	Logger *zap.Logger `json:"-"`
	// Done, if set, is called by RunAll after each input with its report or
	// error.
	Done func(inputPath string, report *Report, err error) `json:"-"`
}

// A Report summarizes the processing of one input.
type Report struct {
	Input    string
	Outputs  []string
	Sampled  int
	Skipped  []SkippedPoint
	Duration time.Duration
}

// LoadJob loads a Job from a JSON file. An empty base_dir defaults to the
// directory containing the file and a relative one is resolved against it.
func LoadJob(path string) (*Job, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("job file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, err
	}
	if fileInfo.Size() > maxJobFileSize {
		return nil, fmt.Errorf("%s: job file too large: %d bytes (max %d)", cleanPath, fileInfo.Size(), maxJobFileSize)
	}

	file, err := os.Open(cleanPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	job := &Job{}
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(job); err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}

	jobDir := filepath.Dir(cleanPath)
	switch {
	case job.BaseDir == "":
		job.BaseDir = jobDir
	case !filepath.IsAbs(job.BaseDir):
		job.BaseDir = filepath.Join(jobDir, job.BaseDir)
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return job, nil
}

// Validate checks j.
func (j *Job) Validate() error {
	if j.Raster == "" {
		return errors.New("missing raster")
	}
	if j.Band < 0 {
		return fmt.Errorf("band %d: %w", j.Band, ErrBand)
	}
	if j.Comma != "" && utf8.RuneCountInString(j.Comma) != 1 {
		return fmt.Errorf("comma %q: must be a single character", j.Comma)
	}
	for _, format := range j.Outputs {
		switch format {
		case OutputShapefile, OutputCSV:
		default:
			return fmt.Errorf("%s: unknown output format", format)
		}
	}
	if j.Reproject != nil && (j.Reproject.SourceEPSG <= 0 || j.Reproject.TargetEPSG <= 0) {
		return errors.New("reproject: source_epsg and target_epsg are required")
	}
	if j.OutputEPSG != nil && *j.OutputEPSG != 0 {
		if _, err := ESRIWKT(*j.OutputEPSG); err != nil {
			return fmt.Errorf("output_epsg: %w", err)
		}
	}
	return j.Schema.Validate()
}

// Resolve returns path resolved against j's BaseDir.
func (j *Job) Resolve(path string) string {
	if j.BaseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(j.BaseDir, path)
}

// OpenGrid opens j's raster.
func (j *Job) OpenGrid() (*Grid, error) {
	var rasterOptions []GeoTIFFRasterOption
	if j.BlockCacheSize > 0 {
		rasterOptions = append(rasterOptions, WithBlockCacheSize(j.BlockCacheSize))
	}
	raster, err := OpenRaster(j.Resolve(j.Raster), rasterOptions...)
	if err != nil {
		return nil, err
	}
	gridOptions := []GridOption{WithResampling(j.Resampling)}
	if j.Band != 0 {
		gridOptions = append(gridOptions, WithBand(j.Band))
	}
	grid, err := Open(raster, gridOptions...)
	if err != nil {
		_ = raster.Close()
		return nil, err
	}
	return grid, nil
}

// Run processes a single input.
func (j *Job) Run(ctx context.Context, inputPath string) (*Report, error) {
	grid, err := j.OpenGrid()
	if err != nil {
		return nil, err
	}
	defer grid.Raster().Close()
	return j.run(ctx, grid, inputPath)
}

// RunAll processes inputs in order, opening the raster once. A failing input
// is logged and the batch continues, except after cancellation or when a
// point outside the raster aborts the run under PolicyAbort. The reports of
// the successful inputs are returned with the joined errors of the others.
func (j *Job) RunAll(ctx context.Context, inputPaths []string) ([]*Report, error) {
	grid, err := j.OpenGrid()
	if err != nil {
		return nil, err
	}
	defer grid.Raster().Close()

	var reports []*Report
	var errs []error
	for _, inputPath := range inputPaths {
		report, err := j.run(ctx, grid, inputPath)
		if j.Done != nil {
			j.Done(j.Resolve(inputPath), report, err)
		}
		switch {
		case err == nil:
			reports = append(reports, report)
			continue
		case ctx.Err() != nil, errors.Is(err, ErrOutOfBounds):
			return reports, errors.Join(append(errs, err)...)
		default:
			j.logger().Error("input failed", zap.String("input", inputPath), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func (j *Job) run(ctx context.Context, grid *Grid, inputPath string) (_ *Report, err error) {
	start := time.Now()
	inputPath = j.Resolve(inputPath)
	logger := j.logger().With(zap.String("input", inputPath))

	defer func() {
		if err != nil {
			filesProcessed.WithLabelValues("failed").Inc()
		} else {
			filesProcessed.WithLabelValues("ok").Inc()
		}
	}()

	source, err := OpenSource(inputPath, j.sourceOptions()...)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	schema, err := j.Schema.Resolve(source.Fields())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inputPath, err)
	}

	points := source.Points()
	pointsEPSG := source.EPSG()
	if j.Reproject != nil {
		if pointsEPSG != 0 && pointsEPSG != j.Reproject.SourceEPSG {
			logger.Warn("input CRS differs from reprojection source",
				zap.Int("inputEPSG", pointsEPSG),
				zap.Int("sourceEPSG", j.Reproject.SourceEPSG),
			)
		}
		reprojector, err := NewReprojector(j.Reproject.SourceEPSG, j.Reproject.TargetEPSG)
		if err != nil {
			return nil, err
		}
		defer reprojector.Close()
		points = reprojector.Reproject(points)
		pointsEPSG = j.Reproject.TargetEPSG
	}
	if rasterEPSG := grid.Raster().EPSG(); pointsEPSG != 0 && rasterEPSG != 0 && pointsEPSG != rasterEPSG {
		logger.Warn("input CRS differs from raster CRS",
			zap.Int("inputEPSG", pointsEPSG),
			zap.Int("rasterEPSG", rasterEPSG),
		)
	}

	report := &Report{
		Input: inputPath,
	}
	sinks, err := j.createSinks(grid, inputPath, schema, report)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			for _, sink := range sinks {
				_ = sink.Remove()
			}
		}
	}()

	sampler := NewSampler(grid,
		WithErrorPolicy(j.ErrorPolicy),
		WithSchema(schema),
		WithLogger(logger),
		WithIdentifyingAttributes(j.IdentifyingAttributes...),
	)
	for sampledPoint, err := range sampler.SampleAll(ctx, points) {
		if err != nil {
			return nil, fmt.Errorf("%s: %w", inputPath, err)
		}
		for _, sink := range sinks {
			if err := sink.Write(sampledPoint); err != nil {
				return nil, fmt.Errorf("%s: point %d: %w", inputPath, sampledPoint.Index, err)
			}
		}
		report.Sampled++
	}
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			return nil, err
		}
	}

	report.Skipped = sampler.Skipped()
	report.Duration = time.Since(start)
	logger.Info("sampled",
		zap.Strings("outputs", report.Outputs),
		zap.Int("sampled", report.Sampled),
		zap.Int("skipped", len(report.Skipped)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// createSinks creates the outputs of inputPath and records their paths in
// report.
func (j *Job) createSinks(grid *Grid, inputPath string, schema Schema, report *Report) ([]RemovableSink, error) {
	var sinks []RemovableSink
	ok := false
	defer func() {
		if !ok {
			for _, sink := range sinks {
				_ = sink.Remove()
			}
		}
	}()

	for _, format := range j.outputs() {
		outputPath := j.outputPath(inputPath, format)
		if outputPath == inputPath {
			return nil, fmt.Errorf("%s: output would overwrite input", outputPath)
		}
		switch format {
		case OutputShapefile:
			epsg, prj, err := j.outputCRS(grid)
			if err != nil {
				return nil, err
			}
			var options []ShapefileSinkOption
			if prj != "" {
				options = append(options, WithPRJ(prj))
			}
			sink, err := CreateShapefileSink(outputPath, schema, epsg, options...)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", outputPath, err)
			}
			sinks = append(sinks, sink)
		case OutputCSV:
			sink, err := CreateCSV(outputPath, schema)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", outputPath, err)
			}
			sinks = append(sinks, sink)
		}
		report.Outputs = append(report.Outputs, outputPath)
	}

	ok = true
	return sinks, nil
}

// outputCRS returns the CRS declared for output shapefiles, as an EPSG code
// and, when inherited from a raster that has one, its own WKT definition.
func (j *Job) outputCRS(grid *Grid) (int, string, error) {
	switch {
	case j.OutputEPSG == nil && j.Reproject != nil:
		return j.Reproject.TargetEPSG, "", nil
	case j.OutputEPSG == nil:
		return DefaultEPSG, "", nil
	case *j.OutputEPSG != 0:
		return *j.OutputEPSG, "", nil
	}
	raster := grid.Raster()
	if wktRaster, ok := raster.(WKTRaster); ok {
		if wkt := wktRaster.WKT(); wkt != "" {
			return raster.EPSG(), wkt, nil
		}
	}
	if epsg := raster.EPSG(); epsg != 0 {
		return epsg, "", nil
	}
	return 0, "", errors.New("output_epsg: raster has no CRS")
}

// outputPath returns the path of inputPath's output in format.
func (j *Job) outputPath(inputPath string, format OutputFormat) string {
	dir := filepath.Dir(inputPath)
	if j.OutputDir != "" {
		dir = j.Resolve(j.OutputDir)
	}
	suffix := DefaultOutputSuffix
	if j.OutputSuffix != nil {
		suffix = *j.OutputSuffix
	}
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	var ext string
	switch format {
	case OutputShapefile:
		ext = ".shp"
	case OutputCSV:
		ext = ".csv"
	}
	return filepath.Join(dir, stem+suffix+ext)
}

func (j *Job) outputs() []OutputFormat {
	if len(j.Outputs) == 0 {
		return []OutputFormat{OutputShapefile}
	}
	return j.Outputs
}

func (j *Job) sourceOptions() []SourceOption {
	xColumn, yColumn := j.XColumn, j.YColumn
	if xColumn == "" {
		xColumn = DefaultXColumn
	}
	if yColumn == "" {
		yColumn = DefaultYColumn
	}
	options := []SourceOption{
		WithCoordinateColumns(xColumn, yColumn),
	}
	if j.Comma != "" {
		comma, _ := utf8.DecodeRuneInString(j.Comma)
		options = append(options, WithComma(comma))
	}
	if j.Charset != "" {
		options = append(options, WithCharset(j.Charset))
	}
	return options
}

func (j *Job) logger() *zap.Logger {
	if j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}
