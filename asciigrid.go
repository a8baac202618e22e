package demsample

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// An ASCIIGrid is an ESRI ASCII grid held in memory. It has a single band.
type ASCIIGrid struct {
	NCols, NRows     int
	XCorner, YCorner float64
	CellSizeX        float64
	CellSizeY        float64
	NoDataValue      float64
	HasNoData        bool
	SRID             int
	PRJ              string
	Data             []float64 // Row-major, top row first.
}

// OpenASCIIGrid reads the ESRI ASCII grid at path and the CRS from its .prj
// sidecar, if present.
func OpenASCIIGrid(path string) (*ASCIIGrid, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	g, err := ParseASCIIGrid(file)
	if err != nil {
		return nil, err
	}

	switch prj, err := os.ReadFile(sidecarPath(path, ".prj")); {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		g.PRJ = string(prj)
		g.SRID = epsgFromWKT(g.PRJ)
	}
	return g, nil
}

// ParseASCIIGrid parses an ESRI ASCII grid.
func ParseASCIIGrid(r io.Reader) (*ASCIIGrid, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(bufio.ScanWords)

	g := &ASCIIGrid{}
	var (
		xCenter, yCenter bool
		seen             = make(map[string]bool)
		firstValue       string
	)
	for scanner.Scan() {
		key := strings.ToLower(scanner.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			firstValue = key
			break
		}
		if !scanner.Scan() {
			return nil, fmt.Errorf("%s: missing value: %w", key, errParse)
		}
		value := scanner.Text()
		var err error
		switch key {
		case "ncols":
			g.NCols, err = strconv.Atoi(value)
		case "nrows":
			g.NRows, err = strconv.Atoi(value)
		case "xllcorner":
			g.XCorner, err = strconv.ParseFloat(value, 64)
		case "xllcenter":
			g.XCorner, err = strconv.ParseFloat(value, 64)
			xCenter = true
		case "yllcorner":
			g.YCorner, err = strconv.ParseFloat(value, 64)
		case "yllcenter":
			g.YCorner, err = strconv.ParseFloat(value, 64)
			yCenter = true
		case "cellsize":
			g.CellSizeX, err = strconv.ParseFloat(value, 64)
			g.CellSizeY = g.CellSizeX
		case "dx":
			g.CellSizeX, err = strconv.ParseFloat(value, 64)
		case "dy":
			g.CellSizeY, err = strconv.ParseFloat(value, 64)
		case "nodata_value":
			g.NoDataValue, err = strconv.ParseFloat(value, 64)
			g.HasNoData = true
		default:
			return nil, fmt.Errorf("%s: unknown header key: %w", key, errParse)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if g.NCols <= 0 || g.NRows <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d: %w", g.NCols, g.NRows, errParse)
	}
	if g.CellSizeX <= 0 || g.CellSizeY <= 0 {
		return nil, fmt.Errorf("invalid cell size: %w", errParse)
	}
	if !(seen["xllcorner"] || seen["xllcenter"]) || !(seen["yllcorner"] || seen["yllcenter"]) {
		return nil, fmt.Errorf("missing lower left corner: %w", errParse)
	}
	if xCenter {
		g.XCorner -= g.CellSizeX / 2
	}
	if yCenter {
		g.YCorner -= g.CellSizeY / 2
	}

	n := g.NCols * g.NRows
	g.Data = make([]float64, 0, n)
	for token := firstValue; token != ""; {
		value, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", len(g.Data), err)
		}
		g.Data = append(g.Data, value)
		token = ""
		if len(g.Data) < n && scanner.Scan() {
			token = scanner.Text()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(g.Data) != n {
		return nil, fmt.Errorf("found %d values, expected %d: %w", len(g.Data), n, errParse)
	}
	return g, nil
}

func (g *ASCIIGrid) Bands() int {
	return 1
}

func (g *ASCIIGrid) Size() (int, int) {
	return g.NCols, g.NRows
}

// GeoTransform returns g's north-up transform, anchored at the top left
// corner.
func (g *ASCIIGrid) GeoTransform() GeoTransform {
	return GeoTransform{
		g.XCorner, g.CellSizeX, 0,
		g.YCorner + float64(g.NRows)*g.CellSizeY, 0, -g.CellSizeY,
	}
}

func (g *ASCIIGrid) EPSG() int {
	return g.SRID
}

// WKT returns the contents of the .prj sidecar, if any.
func (g *ASCIIGrid) WKT() string {
	return g.PRJ
}

func (g *ASCIIGrid) NoData() (float64, bool) {
	return g.NoDataValue, g.HasNoData
}

func (g *ASCIIGrid) ReadCell(ctx context.Context, band int, cell Cell) (float64, error) {
	if band != 1 {
		return 0, fmt.Errorf("band %d of 1: %w", band, ErrBand)
	}
	if cell.C < 0 || g.NCols <= cell.C || cell.R < 0 || g.NRows <= cell.R {
		return 0, fmt.Errorf("cell %v: %w", cell, ErrOutOfBounds)
	}
	return g.Data[cell.R*g.NCols+cell.C], nil
}

func (g *ASCIIGrid) Close() error {
	return nil
}
