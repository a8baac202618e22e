package demsample

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBand is the band that is sampled unless another is requested.
// Multi-band rasters are reduced to this band.
const DefaultBand = 1

// A Cell is a pixel coordinate.
type Cell struct {
	C int // Column.
	R int // Row.
}

// A Raster is an open raster dataset. Bands are numbered from 1.
type Raster interface {
	Bands() int
	Size() (int, int)
	GeoTransform() GeoTransform
	EPSG() int
	NoData() (float64, bool)
	ReadCell(ctx context.Context, band int, cell Cell) (float64, error)
	Close() error
}

// A WKTRaster is a Raster that carries its own CRS definition as WKT.
type WKTRaster interface {
	Raster
	WKT() string
}

// OpenRaster opens the raster at path, choosing a reader from its extension.
// Errors are returned as a *RasterOpenError.
func OpenRaster(path string, options ...GeoTIFFRasterOption) (Raster, error) {
	var raster Raster
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc":
		raster, err = OpenASCIIGrid(path)
	default:
		dir, name := filepath.Split(path)
		if dir == "" {
			dir = "."
		}
		raster, err = NewGeoTIFFRaster(os.DirFS(dir), name, options...)
	}
	if err != nil {
		return nil, &RasterOpenError{Path: path, Err: err}
	}
	return raster, nil
}
