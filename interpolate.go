package demsample

import (
	"context"
	"math"
)

// bilinear interpolates between cell centers around (col, row).
func (g *Grid) bilinear(ctx context.Context, col, row float64) (float64, error) {
	fc, fr := col-0.5, row-0.5
	c0, r0 := int(math.Floor(fc)), int(math.Floor(fr))
	dx, dy := fc-float64(c0), fr-float64(r0)
	cells := [4]Cell{
		{C: c0, R: r0},
		{C: c0 + 1, R: r0},
		{C: c0, R: r0 + 1},
		{C: c0 + 1, R: r0 + 1},
	}
	var samples [4]float64
	for i, cell := range cells {
		cell.C = min(max(cell.C, 0), g.width-1)
		cell.R = min(max(cell.R, 0), g.height-1)
		sample, err := g.raster.ReadCell(ctx, g.band, cell)
		if err != nil {
			return 0, err
		}
		if noData, ok := g.raster.NoData(); ok && sample == noData {
			return noData, nil
		}
		samples[i] = sample
	}
	return interpolateBilinear(samples, dx, dy), nil
}

// interpolateBilinear interpolates between samples at the corners of a unit
// square, ordered top left, top right, bottom left, bottom right.
func interpolateBilinear(samples [4]float64, dx, dy float64) float64 {
	return 0 +
		samples[0]*(1-dx)*(1-dy) +
		samples[1]*dx*(1-dy) +
		samples[2]*(1-dx)*dy +
		samples[3]*dx*dy
}
