package demsample

import (
	"context"
	"fmt"
)

// A Resampling selects how a sample is computed from the cells around a
// point.
type Resampling int

const (
	// ResampleNearest returns the value of the cell containing the point.
	ResampleNearest Resampling = iota
	// ResampleBilinear interpolates between the centers of the four nearest
	// cells, clamped at the raster edges.
	ResampleBilinear
)

// A Grid is a single band of an open raster bound to its geotransform. It is
// read-only and safe to share between goroutines if its raster is.
type Grid struct {
	raster       Raster
	band         int
	width        int
	height       int
	geoTransform GeoTransform
	inverse      GeoTransform
	resampling   Resampling
}

// A GridOption sets an option on a Grid.
type GridOption func(*Grid)

// WithBand selects the band to sample. The default is DefaultBand.
func WithBand(band int) GridOption {
	return func(g *Grid) {
		g.band = band
	}
}

// WithResampling sets the resampling method. The default is ResampleNearest.
func WithResampling(resampling Resampling) GridOption {
	return func(g *Grid) {
		g.resampling = resampling
	}
}

// Open binds a band of raster. It fails if the band does not exist or the
// raster's geotransform is not invertible.
func Open(raster Raster, options ...GridOption) (*Grid, error) {
	g := &Grid{
		raster:       raster,
		band:         DefaultBand,
		geoTransform: raster.GeoTransform(),
	}
	for _, option := range options {
		option(g)
	}
	if g.band < 1 || raster.Bands() < g.band {
		return nil, fmt.Errorf("band %d of %d: %w", g.band, raster.Bands(), ErrBand)
	}
	g.width, g.height = raster.Size()
	inverse, err := g.geoTransform.Invert()
	if err != nil {
		return nil, err
	}
	g.inverse = inverse
	return g, nil
}

// Size returns g's width and height in pixels.
func (g *Grid) Size() (int, int) {
	return g.width, g.height
}

func (g *Grid) Band() int {
	return g.band
}

func (g *Grid) GeoTransform() GeoTransform {
	return g.geoTransform
}

// Raster returns the raster that g reads from.
func (g *Grid) Raster() Raster {
	return g.raster
}

// PixelAt returns the fractional pixel coordinate of (x, y).
func (g *Grid) PixelAt(x, y float64) (float64, float64) {
	if g.geoTransform.IsNorthUp() {
		col, row, _ := g.geoTransform.ApplyInverse(x, y)
		return col, row
	}
	return g.inverse.Forward(x, y)
}

// SampleAt returns the sample at the projected coordinate (x, y). It returns
// an *OutOfBoundsError if (x, y) falls outside the raster.
func (g *Grid) SampleAt(ctx context.Context, x, y float64) (float64, error) {
	col, row := g.PixelAt(x, y)
	if !(0 <= col && col < float64(g.width) && 0 <= row && row < float64(g.height)) {
		return 0, &OutOfBoundsError{
			X:      x,
			Y:      y,
			Col:    col,
			Row:    row,
			Width:  g.width,
			Height: g.height,
		}
	}
	switch g.resampling {
	case ResampleBilinear:
		return g.bilinear(ctx, col, row)
	default:
		return g.raster.ReadCell(ctx, g.band, floorCell(col, row))
	}
}

func (r Resampling) String() string {
	switch r {
	case ResampleNearest:
		return "nearest"
	case ResampleBilinear:
		return "bilinear"
	default:
		return fmt.Sprintf("Resampling(%d)", int(r))
	}
}

func (r Resampling) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Resampling) UnmarshalText(text []byte) error {
	switch string(text) {
	case "nearest":
		*r = ResampleNearest
	case "bilinear":
		*r = ResampleBilinear
	default:
		return fmt.Errorf("%q: unknown resampling", text)
	}
	return nil
}
