package demsample

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
)

// maxDBFFieldNameLen is the maximum length of a DBF field name, in bytes.
const maxDBFFieldNameLen = 10

// shapefileSidecarExts are the files written alongside a .shp.
var shapefileSidecarExts = []string{".shx", ".dbf", ".prj", ".cpg"}

// A ShapefileSink writes output records as a point shapefile.
type ShapefileSink struct {
	path    string
	encoder *shp.Encoder
	fields  []FieldSpec
	values  []string
	closed  bool
}

type shapefileSinkOptions struct {
	prj string
}

// A ShapefileSinkOption sets an option on a ShapefileSink.
type ShapefileSinkOption func(*shapefileSinkOptions)

// WithPRJ sets the contents of the .prj sidecar, replacing the ESRI WKT of
// the EPSG code. It carries CRS definitions that have no built in WKT.
func WithPRJ(wkt string) ShapefileSinkOption {
	return func(o *shapefileSinkOptions) {
		o.prj = wkt
	}
}

// CreateShapefileSink creates the point shapefile at path with the fields of
// schema, a .prj sidecar for epsg, and a .cpg sidecar declaring UTF-8
// attributes.
func CreateShapefileSink(path string, schema Schema, epsg int, options ...ShapefileSinkOption) (*ShapefileSink, error) {
	o := &shapefileSinkOptions{}
	for _, option := range options {
		option(o)
	}

	fields := schema.OutputFields()
	dbfFields := make([]goshp.Field, len(fields))
	for i, field := range fields {
		dbfField, err := dbfFieldFromSpec(field)
		if err != nil {
			return nil, err
		}
		dbfFields[i] = dbfField
	}
	if o.prj == "" {
		if _, err := ESRIWKT(epsg); err != nil {
			return nil, err
		}
	}

	encoder, err := shp.NewEncoderFromFields(path, goshp.POINT, dbfFields...)
	if err != nil {
		return nil, err
	}
	s := &ShapefileSink{
		path:    path,
		encoder: encoder,
		fields:  fields,
		values:  make([]string, len(fields)),
	}

	ok := false
	defer func() {
		if !ok {
			_ = s.Remove()
		}
	}()

	if err := writePRJ(sidecarPath(path, ".prj"), epsg, o.prj); err != nil {
		return nil, err
	}
	if err := os.WriteFile(sidecarPath(path, ".cpg"), []byte("UTF-8"), 0o666); err != nil {
		return nil, err
	}

	ok = true
	return s, nil
}

// dbfFieldFromSpec returns the DBF declaration of field.
func dbfFieldFromSpec(field FieldSpec) (goshp.Field, error) {
	if len(field.Name) > maxDBFFieldNameLen {
		return goshp.Field{}, fmt.Errorf("%s: field name longer than %d bytes: %w", field.Name, maxDBFFieldNameLen, ErrSchema)
	}
	if field.Width <= 0 || maxStringWidth < field.Width {
		return goshp.Field{}, fmt.Errorf("%s: width %d out of range: %w", field.Name, field.Width, ErrSchema)
	}
	switch field.Type {
	case FieldInteger:
		return goshp.NumberField(field.Name, uint8(field.Width)), nil
	case FieldReal:
		return goshp.FloatField(field.Name, uint8(field.Width), uint8(field.Precision)), nil
	default:
		return goshp.StringField(field.Name, uint8(field.Width)), nil
	}
}

// Write writes p. Values are formatted before anything is written, so a value
// that cannot be represented leaves no partial record.
func (s *ShapefileSink) Write(p SampledPoint) error {
	for i, field := range s.fields {
		value, _ := p.Attributes.Get(field.Name)
		text, err := dbfValue(value, field)
		if err != nil {
			return err
		}
		s.values[i] = text
	}
	row := int(s.encoder.Write(&goshp.Point{X: p.X, Y: p.Y}))
	for i, text := range s.values {
		if err := s.encoder.WriteAttribute(row, i, text); err != nil {
			return fmt.Errorf("%s: %w", s.fields[i].Name, err)
		}
	}
	return nil
}

// dbfValue formats value as the text of a DBF cell of field. Missing values
// are blank. Strings are truncated. Numbers must fit the field width: reals
// lose decimals, then switch to exponent notation, before failing with
// ErrFieldOverflow.
func dbfValue(value any, field FieldSpec) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case int64:
		if field.Type == FieldReal {
			return dbfReal(float64(v), field)
		}
		text := strconv.FormatInt(v, 10)
		if len(text) > field.Width {
			return "", fmt.Errorf("%s: %s: %w", field.Name, text, ErrFieldOverflow)
		}
		return text, nil
	case float64:
		if field.Type == FieldString {
			return truncateString(formatValue(v), field.Width), nil
		}
		return dbfReal(v, field)
	case string:
		return truncateString(v, field.Width), nil
	default:
		return truncateString(formatValue(v), field.Width), nil
	}
}

// dbfReal returns the widest representation of v that fits field.
func dbfReal(v float64, field FieldSpec) (string, error) {
	for precision := field.Precision; precision >= 0; precision-- {
		if text := strconv.FormatFloat(v, 'f', precision, 64); len(text) <= field.Width {
			return text, nil
		}
	}
	if text := strconv.FormatFloat(v, 'e', -1, 64); len(text) <= field.Width {
		return text, nil
	}
	for precision := field.Width; precision >= 0; precision-- {
		if text := strconv.FormatFloat(v, 'e', precision, 64); len(text) <= field.Width {
			return text, nil
		}
	}
	return "", fmt.Errorf("%s: %g: %w", field.Name, v, ErrFieldOverflow)
}

// truncateString truncates s to at most n bytes without splitting a rune.
func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (s *ShapefileSink) Close() error {
	if !s.closed {
		s.encoder.Close()
		s.closed = true
	}
	return nil
}

// Remove closes s and removes the shapefile and its sidecars.
func (s *ShapefileSink) Remove() error {
	_ = s.Close()
	errs := []error{os.Remove(s.path)}
	for _, ext := range shapefileSidecarExts {
		if err := os.Remove(sidecarPath(s.path, ext)); !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
