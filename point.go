package demsample

import "slices"

// An Attribute is a named value carried by a point. Values are strings,
// int64s, or float64s.
type Attribute struct {
	Name  string
	Value any
}

// Attributes is an ordered set of attributes with unique names.
type Attributes []Attribute

// Get returns the value of the attribute called name.
func (a Attributes) Get(name string) (any, bool) {
	for _, attribute := range a {
		if attribute.Name == name {
			return attribute.Value, true
		}
	}
	return nil, false
}

// Names returns the attribute names in order.
func (a Attributes) Names() []string {
	names := make([]string, len(a))
	for i, attribute := range a {
		names[i] = attribute.Name
	}
	return names
}

// With returns a copy of a with the attribute called name set to value. An
// existing attribute keeps its position, otherwise it is appended.
func (a Attributes) With(name string, value any) Attributes {
	result := slices.Clone(a)
	for i := range result {
		if result[i].Name == name {
			result[i].Value = value
			return result
		}
	}
	return append(result, Attribute{Name: name, Value: value})
}

// An InputPoint is a point read from an input dataset. Index is the 0-based
// record or feature index in the dataset.
type InputPoint struct {
	Index      int
	X, Y       float64
	Attributes Attributes
}

// A SampledPoint is an InputPoint with its sampled height. Attributes are the
// output attributes, in output field order.
type SampledPoint struct {
	Index      int
	X, Y       float64
	Height     float64
	Attributes Attributes
}

// A SkippedPoint records an input point that could not be sampled.
type SkippedPoint struct {
	Index int
	X, Y  float64
	Err   error
}
