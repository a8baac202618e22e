package demsample

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
)

// A CSVSink writes output records as a delimited-text table with a header
// row. Point coordinates are only written if the schema has coordinate
// fields.
type CSVSink struct {
	path   string
	file   *os.File
	writer *csv.Writer
	fields []FieldSpec
	record []string
}

// NewCSVSink returns a new CSVSink writing to w. The header is written
// immediately.
func NewCSVSink(w io.Writer, schema Schema) (*CSVSink, error) {
	s := &CSVSink{
		writer: csv.NewWriter(w),
		fields: schema.OutputFields(),
	}
	header := make([]string, len(s.fields))
	for i, field := range s.fields {
		header[i] = field.Name
	}
	if err := s.writer.Write(header); err != nil {
		return nil, err
	}
	s.record = make([]string, len(s.fields))
	return s, nil
}

// CreateCSV creates the table at path.
func CreateCSV(path string, schema Schema) (*CSVSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewCSVSink(file, schema)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}
	s.path = path
	s.file = file
	return s, nil
}

func (s *CSVSink) Write(p SampledPoint) error {
	for i, field := range s.fields {
		value, _ := p.Attributes.Get(field.Name)
		s.record[i] = formatValue(value)
	}
	return s.writer.Write(s.record)
}

func (s *CSVSink) Close() error {
	s.writer.Flush()
	err := s.writer.Error()
	if s.file != nil {
		err = errors.Join(err, s.file.Close())
		s.file = nil
	}
	return err
}

// Remove closes s and removes its file.
func (s *CSVSink) Remove() error {
	_ = s.Close()
	if s.path == "" {
		return nil
	}
	return os.Remove(s.path)
}
