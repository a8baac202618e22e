package demsample

import "math"

// A GeoTransform is an affine mapping from pixel space to projected
// coordinates, in GDAL coefficient order:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// NewGeoTransform returns a GeoTransform from its six coefficients.
func NewGeoTransform(originX, pixelW, rowRotation, originY, colRotation, pixelH float64) GeoTransform {
	return GeoTransform{originX, pixelW, rowRotation, originY, colRotation, pixelH}
}

func (gt GeoTransform) OriginX() float64     { return gt[0] }
func (gt GeoTransform) PixelWidth() float64  { return gt[1] }
func (gt GeoTransform) RowRotation() float64 { return gt[2] }
func (gt GeoTransform) OriginY() float64     { return gt[3] }
func (gt GeoTransform) ColRotation() float64 { return gt[4] }
func (gt GeoTransform) PixelHeight() float64 { return gt[5] }

// IsNorthUp returns whether gt has no rotation terms.
func (gt GeoTransform) IsNorthUp() bool {
	return gt[2] == 0 && gt[4] == 0
}

// Forward returns the projected coordinate of the pixel coordinate (col, row).
func (gt GeoTransform) Forward(col, row float64) (float64, float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// Determinant returns the determinant of gt's linear part.
func (gt GeoTransform) Determinant() float64 {
	return gt[1]*gt[5] - gt[2]*gt[4]
}

// Invert returns the inverse of gt, mapping projected coordinates to
// fractional pixel coordinates.
func (gt GeoTransform) Invert() (GeoTransform, error) {
	if gt.IsNorthUp() {
		if !gt.northUpInvertible() {
			return GeoTransform{}, &SingularTransformError{GeoTransform: gt}
		}
		return GeoTransform{
			-gt[0] / gt[1], 1 / gt[1], 0,
			-gt[3] / gt[5], 0, 1 / gt[5],
		}, nil
	}

	det := gt.Determinant()
	if det == 0 || !isFinite(det) {
		return GeoTransform{}, &SingularTransformError{GeoTransform: gt}
	}
	invDet := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * invDet,
		gt[5] * invDet,
		-gt[2] * invDet,
		(-gt[1]*gt[3] + gt[0]*gt[4]) * invDet,
		-gt[4] * invDet,
		gt[1] * invDet,
	}, nil
}

// ApplyInverse returns the fractional pixel coordinate of the projected
// coordinate (x, y). North-up transforms are inverted by division so that
// coordinates on cell edges map to exact integers.
func (gt GeoTransform) ApplyInverse(x, y float64) (float64, float64, error) {
	if gt.IsNorthUp() {
		if !gt.northUpInvertible() {
			return 0, 0, &SingularTransformError{GeoTransform: gt}
		}
		return (x - gt[0]) / gt[1], (y - gt[3]) / gt[5], nil
	}
	inv, err := gt.Invert()
	if err != nil {
		return 0, 0, err
	}
	col, row := inv.Forward(x, y)
	return col, row, nil
}

// Pixel returns the cell containing the projected coordinate (x, y). Cell
// (c, r) covers [c, c+1) × [r, r+1) in pixel space, so the fractional
// coordinate is floored, not truncated.
func (gt GeoTransform) Pixel(x, y float64) (Cell, error) {
	col, row, err := gt.ApplyInverse(x, y)
	if err != nil {
		return Cell{}, err
	}
	return floorCell(col, row), nil
}

// Bounds returns the projected extent (minX, minY, maxX, maxY) of a raster of
// the given size.
func (gt GeoTransform) Bounds(width, height int) (float64, float64, float64, float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, corner := range [4][2]float64{
		{0, 0},
		{float64(width), 0},
		{0, float64(height)},
		{float64(width), float64(height)},
	} {
		x, y := gt.Forward(corner[0], corner[1])
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	return minX, minY, maxX, maxY
}

// northUpInvertible returns whether the north-up transform gt has finite
// coefficients and non-zero pixel sizes.
func (gt GeoTransform) northUpInvertible() bool {
	return gt[1] != 0 && gt[5] != 0 &&
		isFinite(gt[0]) && isFinite(gt[1]) && isFinite(gt[3]) && isFinite(gt[5])
}

func floorCell(col, row float64) Cell {
	return Cell{
		C: int(math.Floor(col)),
		R: int(math.Floor(row)),
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
