package demsample

import (
	"fmt"
	"iter"

	"github.com/twpayne/go-proj/v10"
)

// A Reprojector transforms projected coordinates between two CRSs. Coordinates
// are always in x, y (easting, northing or longitude, latitude) order,
// whatever the axis order of the CRS definitions.
type Reprojector struct {
	sourceEPSG int
	targetEPSG int
	pj         *proj.PJ
}

// NewReprojector returns a new Reprojector from sourceEPSG to targetEPSG.
func NewReprojector(sourceEPSG, targetEPSG int) (*Reprojector, error) {
	pj, err := proj.NewCRSToCRS(epsgCode(sourceEPSG), epsgCode(targetEPSG), nil)
	if err != nil {
		return nil, err
	}
	defer pj.Destroy()
	normalizedPJ, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, err
	}
	return &Reprojector{
		sourceEPSG: sourceEPSG,
		targetEPSG: targetEPSG,
		pj:         normalizedPJ,
	}, nil
}

func (r *Reprojector) SourceEPSG() int {
	return r.sourceEPSG
}

func (r *Reprojector) TargetEPSG() int {
	return r.targetEPSG
}

// Transform transforms a single coordinate.
func (r *Reprojector) Transform(x, y float64) (float64, float64, error) {
	coord, err := r.pj.Forward(proj.Coord{x, y, 0, 0})
	if err != nil {
		return 0, 0, err
	}
	return coord[0], coord[1], nil
}

// Reproject returns points with their coordinates transformed. Attributes are
// unchanged.
func (r *Reprojector) Reproject(points iter.Seq2[InputPoint, error]) iter.Seq2[InputPoint, error] {
	return func(yield func(InputPoint, error) bool) {
		for p, err := range points {
			if err != nil {
				yield(InputPoint{}, err)
				return
			}
			x, y, err := r.Transform(p.X, p.Y)
			if err != nil {
				yield(InputPoint{}, fmt.Errorf("point %d: EPSG:%d to EPSG:%d: %w", p.Index, r.sourceEPSG, r.targetEPSG, err))
				return
			}
			p.X, p.Y = x, y
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (r *Reprojector) Close() error {
	r.pj.Destroy()
	return nil
}

func epsgCode(epsg int) string {
	return fmt.Sprintf("EPSG:%d", epsg)
}
