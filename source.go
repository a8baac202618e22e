package demsample

import (
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	DefaultXColumn = "xcoord"
	DefaultYColumn = "ycoord"
)

// A Source is an open input point dataset.
type Source interface {
	// Fields returns the declared input attributes, in order.
	Fields() []FieldSpec
	// Points returns the input points. The sequence is single pass.
	Points() iter.Seq2[InputPoint, error]
	// EPSG returns the CRS of the points, or zero if unknown.
	EPSG() int
	Close() error
}

type sourceOptions struct {
	xColumn string
	yColumn string
	comma   rune
	charset string
}

// A SourceOption sets an option on a Source.
type SourceOption func(*sourceOptions)

// WithCoordinateColumns sets the table columns holding projected coordinates.
// The defaults are DefaultXColumn and DefaultYColumn.
func WithCoordinateColumns(xColumn, yColumn string) SourceOption {
	return func(o *sourceOptions) {
		o.xColumn = xColumn
		o.yColumn = yColumn
	}
}

// WithComma sets the table delimiter.
func WithComma(comma rune) SourceOption {
	return func(o *sourceOptions) {
		o.comma = comma
	}
}

// WithCharset sets the IANA name of the text encoding of input attributes, for
// example "windows-1252". The default is UTF-8.
func WithCharset(charset string) SourceOption {
	return func(o *sourceOptions) {
		o.charset = charset
	}
}

func newSourceOptions(options []SourceOption) *sourceOptions {
	o := &sourceOptions{
		xColumn: DefaultXColumn,
		yColumn: DefaultYColumn,
		comma:   ',',
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// textDecoder returns a decoder for o's charset.
func (o *sourceOptions) textDecoder() (*encoding.Decoder, error) {
	if o.charset == "" {
		return unicode.UTF8.NewDecoder(), nil
	}
	enc, err := ianaindex.IANA.Encoding(o.charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("%s: unsupported charset", o.charset)
	}
	return enc.NewDecoder(), nil
}

// textReader returns a reader that decodes r from o's charset to UTF-8,
// dropping any byte order mark.
func (o *sourceOptions) textReader(r io.Reader) (io.Reader, error) {
	decoder, err := o.textDecoder()
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, unicode.BOMOverride(decoder)), nil
}

// OpenSource opens the input dataset at path, choosing a reader from its
// extension.
func OpenSource(path string, options ...SourceOption) (Source, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		s, err := OpenCSV(path, options...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ".shp":
		s, err := OpenShapefile(path, options...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &VectorOpenError{Path: path, Index: -1, Err: fmt.Errorf("%s: unsupported input format", ext)}
	}
}
