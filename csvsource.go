package demsample

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"strconv"
	"strings"
)

// A CSVSource reads points from a delimited-text table with a header row.
// Every attribute is a string.
type CSVSource struct {
	name   string
	closer io.Closer
	reader *csv.Reader
	header []string
	xIndex int
	yIndex int
}

// OpenCSV opens the table at path.
func OpenCSV(path string, options ...SourceOption) (*CSVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &TableParseError{Path: path, Err: err}
	}
	s, err := NewCSVSource(file, path, options...)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	s.closer = file
	return s, nil
}

// NewCSVSource returns a CSVSource reading from r. name identifies r in
// errors. The header row is read immediately.
func NewCSVSource(r io.Reader, name string, options ...SourceOption) (*CSVSource, error) {
	o := newSourceOptions(options)
	textReader, err := o.textReader(r)
	if err != nil {
		return nil, &TableParseError{Path: name, Err: err}
	}

	reader := csv.NewReader(textReader)
	reader.Comma = o.comma
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	switch {
	case errors.Is(err, io.EOF):
		return nil, &TableParseError{Path: name, Line: 1, Err: errors.New("missing header")}
	case err != nil:
		return nil, &TableParseError{Path: name, Line: 1, Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	s := &CSVSource{
		name:   name,
		reader: reader,
		header: header,
		xIndex: slices.Index(header, o.xColumn),
		yIndex: slices.Index(header, o.yColumn),
	}
	if s.xIndex < 0 {
		return nil, &TableParseError{Path: name, Line: 1, Err: fmt.Errorf("missing column %q", o.xColumn)}
	}
	if s.yIndex < 0 {
		return nil, &TableParseError{Path: name, Line: 1, Err: fmt.Errorf("missing column %q", o.yColumn)}
	}
	return s, nil
}

// Fields returns a string field for each column.
func (s *CSVSource) Fields() []FieldSpec {
	fields := make([]FieldSpec, len(s.header))
	for i, name := range s.header {
		fields[i] = FieldSpec{
			Name:  name,
			Type:  FieldString,
			Width: maxStringWidth,
		}
	}
	return fields
}

func (s *CSVSource) EPSG() int {
	return 0
}

// Points returns one point per record.
func (s *CSVSource) Points() iter.Seq2[InputPoint, error] {
	return func(yield func(InputPoint, error) bool) {
		for index := 0; ; index++ {
			record, err := s.reader.Read()
			switch {
			case errors.Is(err, io.EOF):
				return
			case err != nil:
				var parseErr *csv.ParseError
				line := 0
				if errors.As(err, &parseErr) {
					line = parseErr.Line
				}
				yield(InputPoint{}, &TableParseError{Path: s.name, Line: line, Err: err})
				return
			}
			line, _ := s.reader.FieldPos(0)

			x, err := strconv.ParseFloat(strings.TrimSpace(record[s.xIndex]), 64)
			if err != nil {
				yield(InputPoint{}, &TableParseError{Path: s.name, Line: line, Err: fmt.Errorf("%s: %w", s.header[s.xIndex], err)})
				return
			}
			y, err := strconv.ParseFloat(strings.TrimSpace(record[s.yIndex]), 64)
			if err != nil {
				yield(InputPoint{}, &TableParseError{Path: s.name, Line: line, Err: fmt.Errorf("%s: %w", s.header[s.yIndex], err)})
				return
			}

			attributes := make(Attributes, len(s.header))
			for i, name := range s.header {
				attributes[i] = Attribute{Name: name, Value: record[i]}
			}
			if !yield(InputPoint{Index: index, X: x, Y: y, Attributes: attributes}, nil) {
				return
			}
		}
	}
}

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ReadCSV returns the points of the table read from r.
func ReadCSV(r io.Reader, options ...SourceOption) iter.Seq2[InputPoint, error] {
	return func(yield func(InputPoint, error) bool) {
		s, err := NewCSVSource(r, "", options...)
		if err != nil {
			yield(InputPoint{}, err)
			return
		}
		s.Points()(yield)
	}
}
