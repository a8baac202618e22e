package demsample

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// DefaultHeightField is the name of the sampled height attribute.
const DefaultHeightField = "height"

const (
	maxStringWidth     = 254
	defaultRealWidth   = 24
	defaultRealPrec    = 15
	defaultIntegerSize = 18
)

var ErrSchema = errors.New("invalid schema")

// A FieldType is the type of an output field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldReal    FieldType = "real"
)

// A FieldSpec declares an output field.
type FieldSpec struct {
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	Type      FieldType `json:"type,omitempty"`
	Width     int       `json:"width,omitempty"`
	Precision int       `json:"precision,omitempty"`
}

// A Schema maps input attributes to output fields. When Fields is empty every
// input attribute is carried through unchanged. XField and YField, when set,
// receive the output geometry's coordinates, and HeightField receives the
// sample. Each of them overwrites a field of the same name or is appended.
type Schema struct {
	Fields      []FieldSpec `json:"fields,omitempty"`
	XField      string      `json:"x_field,omitempty"`
	YField      string      `json:"y_field,omitempty"`
	HeightField string      `json:"height_field,omitempty"`
}

// source returns the input attribute that f is read from.
func (f FieldSpec) source() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Name
}

// withDefaults returns f with zero widths replaced by defaults.
func (f FieldSpec) withDefaults() FieldSpec {
	switch f.Type {
	case FieldString:
		if f.Width == 0 {
			f.Width = maxStringWidth
		}
	case FieldInteger:
		if f.Width == 0 {
			f.Width = defaultIntegerSize
		}
	case FieldReal:
		if f.Width == 0 {
			f.Width = defaultRealWidth
			if f.Precision == 0 {
				f.Precision = defaultRealPrec
			}
		}
	}
	return f
}

func (s Schema) heightField() string {
	if s.HeightField != "" {
		return s.HeightField
	}
	return DefaultHeightField
}

// Resolve returns s with every field bound to one of inputFields. An empty
// field list becomes inputFields, and missing field types and widths are
// inherited from the input.
func (s Schema) Resolve(inputFields []FieldSpec) (Schema, error) {
	if len(s.Fields) == 0 {
		s.Fields = slices.Clone(inputFields)
		for i := range s.Fields {
			s.Fields[i].Source = ""
		}
		return s, s.Validate()
	}

	fields := make([]FieldSpec, len(s.Fields))
	for i, field := range s.Fields {
		index := slices.IndexFunc(inputFields, func(f FieldSpec) bool {
			return f.Name == field.source()
		})
		if index < 0 {
			return Schema{}, fmt.Errorf("%s: unknown input attribute %q: %w", field.Name, field.source(), ErrSchema)
		}
		if field.Type == "" {
			field.Type = inputFields[index].Type
			if field.Width == 0 {
				field.Width = inputFields[index].Width
				field.Precision = inputFields[index].Precision
			}
		}
		fields[i] = field
	}
	s.Fields = fields
	return s, s.Validate()
}

// Validate checks s's field declarations.
func (s Schema) Validate() error {
	names := make(map[string]bool)
	for _, field := range s.Fields {
		if field.Name == "" {
			return fmt.Errorf("empty field name: %w", ErrSchema)
		}
		if names[field.Name] {
			return fmt.Errorf("%s: duplicate field: %w", field.Name, ErrSchema)
		}
		names[field.Name] = true
		switch field.Type {
		case "", FieldInteger, FieldReal:
		case FieldString:
			if field.Width < 0 || maxStringWidth < field.Width {
				return fmt.Errorf("%s: width %d out of range: %w", field.Name, field.Width, ErrSchema)
			}
		default:
			return fmt.Errorf("%s: unknown type %q: %w", field.Name, field.Type, ErrSchema)
		}
	}
	return nil
}

// OutputFields returns the declared output fields, including the coordinate
// and height fields. Output fields have no Source.
func (s Schema) OutputFields() []FieldSpec {
	fields := make([]FieldSpec, 0, len(s.Fields)+3)
	for _, field := range s.Fields {
		field.Source = ""
		if field.Type == "" {
			field.Type = FieldString
		}
		fields = append(fields, field.withDefaults())
	}
	for _, name := range []string{s.XField, s.YField, s.heightField()} {
		if name == "" {
			continue
		}
		field := FieldSpec{Name: name, Type: FieldReal}.withDefaults()
		if i := slices.IndexFunc(fields, func(f FieldSpec) bool { return f.Name == name }); i >= 0 {
			fields[i] = field
		} else {
			fields = append(fields, field)
		}
	}
	return fields
}

// Apply returns the SampledPoint for p with the given height. The output
// coordinates are p's own: sampling does not move points.
func (s Schema) Apply(p InputPoint, height float64) (SampledPoint, error) {
	var attributes Attributes
	if len(s.Fields) == 0 {
		attributes = p.Attributes
	} else {
		attributes = make(Attributes, 0, len(s.Fields)+3)
		for _, field := range s.Fields {
			value, ok := p.Attributes.Get(field.source())
			if !ok {
				return SampledPoint{}, fmt.Errorf("%s: missing input attribute %q: %w", field.Name, field.source(), ErrSchema)
			}
			converted, err := convertValue(value, field.Type)
			if err != nil {
				return SampledPoint{}, fmt.Errorf("%s: %w", field.Name, err)
			}
			attributes = append(attributes, Attribute{Name: field.Name, Value: converted})
		}
	}
	if s.XField != "" {
		attributes = attributes.With(s.XField, p.X)
	}
	if s.YField != "" {
		attributes = attributes.With(s.YField, p.Y)
	}
	attributes = attributes.With(s.heightField(), height)
	return SampledPoint{
		Index:      p.Index,
		X:          p.X,
		Y:          p.Y,
		Height:     height,
		Attributes: attributes,
	}, nil
}

// convertValue converts value to fieldType. Empty strings convert to nil for
// numeric types.
func convertValue(value any, fieldType FieldType) (any, error) {
	switch fieldType {
	case "":
		return value, nil
	case FieldString:
		return formatValue(value), nil
	case FieldInteger:
		switch v := value.(type) {
		case nil:
			return nil, nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%v: not an integer", v)
			}
			return int64(v), nil
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, nil
			}
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || f != math.Trunc(f) {
				return nil, fmt.Errorf("%q: not an integer", v)
			}
			return int64(f), nil
		}
	case FieldReal:
		switch v := value.(type) {
		case nil:
			return nil, nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%q: not a number", v)
			}
			return f, nil
		}
	}
	return nil, fmt.Errorf("%T: cannot convert to %s", value, fieldType)
}

// formatValue formats an attribute value as text.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
