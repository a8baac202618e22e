package demsample

import (
	"errors"
	"fmt"
)

var (
	ErrSingularTransform = errors.New("singular geotransform")
	ErrOutOfBounds       = errors.New("out of bounds")
	ErrBand              = errors.New("band out of range")
	ErrNotPoint          = errors.New("not a point geometry")
	ErrFieldOverflow     = errors.New("value does not fit field")

	errParse     = errors.New("parse error")
	errShortRead = errors.New("short read")
)

// A RasterOpenError is returned when a raster cannot be opened or read.
type RasterOpenError struct {
	Path string
	Err  error
}

func (e *RasterOpenError) Error() string {
	return fmt.Sprintf("%s: open raster: %v", e.Path, e.Err)
}

func (e *RasterOpenError) Unwrap() error {
	return e.Err
}

// A SingularTransformError is returned when a GeoTransform cannot be
// inverted.
type SingularTransformError struct {
	GeoTransform GeoTransform
}

func (e *SingularTransformError) Error() string {
	return fmt.Sprintf("singular geotransform %v", [6]float64(e.GeoTransform))
}

func (e *SingularTransformError) Is(target error) bool {
	return target == ErrSingularTransform
}

// An OutOfBoundsError is returned when a coordinate maps to a pixel outside
// the raster.
type OutOfBoundsError struct {
	X, Y   float64
	Col    float64
	Row    float64
	Width  int
	Height int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("(%f, %f): pixel (%g, %g) outside %dx%d raster", e.X, e.Y, e.Col, e.Row, e.Width, e.Height)
}

func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// A VectorOpenError is returned when a vector dataset cannot be opened or one
// of its features cannot be read. Index is -1 when the error is not specific
// to a feature.
type VectorOpenError struct {
	Path  string
	Index int
	Err   error
}

func (e *VectorOpenError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: feature %d: %v", e.Path, e.Index, e.Err)
}

func (e *VectorOpenError) Unwrap() error {
	return e.Err
}

// A TableParseError is returned when a delimited-text table is malformed.
// Line is 1-based and includes the header.
type TableParseError struct {
	Path string
	Line int
	Err  error
}

func (e *TableParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *TableParseError) Unwrap() error {
	return e.Err
}
