package demsample

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"golang.org/x/text/encoding"
)

// A ShapefileSource reads points from an ESRI shapefile. Attribute types
// follow the DBF field declarations.
type ShapefileSource struct {
	path        string
	decoder     *shp.Decoder
	textDecoder *encoding.Decoder
	fields      []FieldSpec
	names       []string
	epsg        int
}

// OpenShapefile opens the point shapefile at path. Its CRS is read from the
// .prj sidecar, if any.
func OpenShapefile(path string, options ...SourceOption) (*ShapefileSource, error) {
	o := newSourceOptions(options)
	textDecoder, err := o.textDecoder()
	if err != nil {
		return nil, &VectorOpenError{Path: path, Index: -1, Err: err}
	}

	decoder, err := shp.NewDecoder(path)
	if err != nil {
		return nil, &VectorOpenError{Path: path, Index: -1, Err: err}
	}

	s := &ShapefileSource{
		path:        path,
		decoder:     decoder,
		textDecoder: textDecoder,
	}
	for _, field := range decoder.Fields() {
		fieldSpec := fieldSpecFromDBF(field)
		s.fields = append(s.fields, fieldSpec)
		s.names = append(s.names, fieldSpec.Name)
	}

	switch data, err := os.ReadFile(sidecarPath(path, ".prj")); {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		decoder.Close()
		return nil, &VectorOpenError{Path: path, Index: -1, Err: err}
	default:
		s.epsg = epsgFromWKT(string(data))
	}

	return s, nil
}

// fieldSpecFromDBF returns the FieldSpec of a DBF field. Numeric fields
// without decimals are integers. Dates and logicals are carried as text.
func fieldSpecFromDBF(field goshp.Field) FieldSpec {
	fieldSpec := FieldSpec{
		Name:      strings.TrimRight(string(field.Name[:]), "\x00 "),
		Width:     int(field.Size),
		Precision: int(field.Precision),
	}
	switch field.Fieldtype {
	case 'N':
		if field.Precision == 0 {
			fieldSpec.Type = FieldInteger
		} else {
			fieldSpec.Type = FieldReal
		}
	case 'F':
		fieldSpec.Type = FieldReal
	default:
		fieldSpec.Type = FieldString
		fieldSpec.Precision = 0
	}
	return fieldSpec
}

func (s *ShapefileSource) Fields() []FieldSpec {
	return s.fields
}

func (s *ShapefileSource) EPSG() int {
	return s.epsg
}

// Points returns one point per feature. Features that are not points end the
// sequence with an error wrapping ErrNotPoint.
func (s *ShapefileSource) Points() iter.Seq2[InputPoint, error] {
	return func(yield func(InputPoint, error) bool) {
		for index := 0; ; index++ {
			g, values, more := s.decoder.DecodeRowFields(s.names...)
			if err := s.decoder.Error(); err != nil {
				yield(InputPoint{}, &VectorOpenError{Path: s.path, Index: index, Err: err})
				return
			}
			if !more {
				return
			}

			var point geom.Point
			switch g := g.(type) {
			case geom.Point:
				point = g
			case *geom.Point:
				point = *g
			default:
				yield(InputPoint{}, &VectorOpenError{Path: s.path, Index: index, Err: fmt.Errorf("%T: %w", g, ErrNotPoint)})
				return
			}

			attributes, err := s.attributes(values)
			if err != nil {
				yield(InputPoint{}, &VectorOpenError{Path: s.path, Index: index, Err: err})
				return
			}
			if !yield(InputPoint{Index: index, X: point.X, Y: point.Y, Attributes: attributes}, nil) {
				return
			}
		}
	}
}

// attributes converts a row's raw DBF values to typed attributes.
func (s *ShapefileSource) attributes(values map[string]string) (Attributes, error) {
	attributes := make(Attributes, len(s.fields))
	for i, field := range s.fields {
		raw := strings.Trim(values[field.Name], " \x00")
		text, err := s.textDecoder.String(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Name, err)
		}
		value, err := convertValue(text, field.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Name, err)
		}
		attributes[i] = Attribute{Name: field.Name, Value: value}
	}
	return attributes, nil
}

func (s *ShapefileSource) Close() error {
	s.decoder.Close()
	return nil
}

// sidecarPath returns path with its extension replaced by ext.
func sidecarPath(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// ReadShapefile returns the points of the shapefile at path. The shapefile is
// closed when the sequence ends.
func ReadShapefile(path string, options ...SourceOption) iter.Seq2[InputPoint, error] {
	return func(yield func(InputPoint, error) bool) {
		s, err := OpenShapefile(path, options...)
		if err != nil {
			yield(InputPoint{}, err)
			return
		}
		defer s.Close()
		s.Points()(yield)
	}
}
