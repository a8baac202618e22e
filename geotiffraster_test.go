package demsample

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	tiffTypeASCII  = 2
	tiffTypeShort  = 3
	tiffTypeLong   = 4
	tiffTypeDouble = 12
)

type testTIFFEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

func shortEntry(tag uint16, values ...uint16) testTIFFEntry {
	var value []byte
	for _, v := range values {
		value = binary.LittleEndian.AppendUint16(value, v)
	}
	return testTIFFEntry{tag: tag, typ: tiffTypeShort, count: uint32(len(values)), value: value}
}

func longEntry(tag uint16, values ...uint32) testTIFFEntry {
	var value []byte
	for _, v := range values {
		value = binary.LittleEndian.AppendUint32(value, v)
	}
	return testTIFFEntry{tag: tag, typ: tiffTypeLong, count: uint32(len(values)), value: value}
}

func doubleEntry(tag uint16, values ...float64) testTIFFEntry {
	var value []byte
	for _, v := range values {
		value = binary.LittleEndian.AppendUint64(value, math.Float64bits(v))
	}
	return testTIFFEntry{tag: tag, typ: tiffTypeDouble, count: uint32(len(values)), value: value}
}

func asciiEntry(tag uint16, s string) testTIFFEntry {
	return testTIFFEntry{tag: tag, typ: tiffTypeASCII, count: uint32(len(s) + 1), value: append([]byte(s), 0)}
}

// buildTestTIFF returns a little-endian TIFF with imageData at offset 8
// followed by a single IFD. entries must be sorted by tag.
func buildTestTIFF(imageData []byte, entries []testTIFFEntry) []byte {
	le := binary.LittleEndian
	buf := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	buf = append(buf, imageData...)
	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}
	ifdOffset := len(buf)
	le.PutUint32(buf[4:], uint32(ifdOffset))

	extraOffset := ifdOffset + 2 + 12*len(entries) + 4
	var ifd, extra []byte
	ifd = le.AppendUint16(ifd, uint16(len(entries)))
	for _, entry := range entries {
		ifd = le.AppendUint16(ifd, entry.tag)
		ifd = le.AppendUint16(ifd, entry.typ)
		ifd = le.AppendUint32(ifd, entry.count)
		if len(entry.value) <= 4 {
			value := make([]byte, 4)
			copy(value, entry.value)
			ifd = append(ifd, value...)
			continue
		}
		ifd = le.AppendUint32(ifd, uint32(extraOffset+len(extra)))
		extra = append(extra, entry.value...)
		if len(extra)%2 == 1 {
			extra = append(extra, 0)
		}
	}
	ifd = le.AppendUint32(ifd, 0)
	return append(append(buf, ifd...), extra...)
}

func float32Bytes(values ...float32) []byte {
	var data []byte
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}
	return data
}

func uint16Bytes(values ...uint16) []byte {
	var data []byte
	for _, v := range values {
		data = binary.LittleEndian.AppendUint16(data, v)
	}
	return data
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	return buf.Bytes()
}

func writeTestTIFF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dem.tif")
	assert.NoError(t, os.WriteFile(path, data, 0o666))
	return path
}

func TestGeoTIFFRaster(t *testing.T) {
	float32Data := float32Bytes(1, 2, 3, 4, -9999, 6)
	predictedData := deflate(t, uint16Bytes(10, 10, 10, 40, 10, 10))

	for _, tc := range []struct {
		name              string
		data              []byte
		expectedNoData    float64
		expectedHasNoData bool
		expected          []float64
	}{
		{
			name: "float32_uncompressed",
			data: buildTestTIFF(float32Data, []testTIFFEntry{
				longEntry(256, 3),
				longEntry(257, 2),
				shortEntry(258, 32),
				shortEntry(259, compressionNone),
				shortEntry(262, 1),
				longEntry(273, 8),
				shortEntry(277, 1),
				longEntry(278, 2),
				longEntry(279, uint32(len(float32Data))),
				shortEntry(339, sampleFormatIEEEFloat),
				doubleEntry(33550, 10, 10, 0),
				doubleEntry(33922, 0, 0, 0, 1000, 2000, 0),
				shortEntry(34735, 1, 1, 0, 3, 1024, 0, 1, 1, 1025, 0, 1, 1, 3072, 0, 1, 32632),
				asciiEntry(42113, "-9999"),
			}),
			expectedNoData:    -9999,
			expectedHasNoData: true,
			expected:          []float64{1, 2, 3, 4, -9999, 6},
		},
		{
			name: "uint16_deflate_predictor_pixel_is_point",
			data: buildTestTIFF(predictedData, []testTIFFEntry{
				longEntry(256, 3),
				longEntry(257, 2),
				shortEntry(258, 16),
				shortEntry(259, compressionDeflate),
				shortEntry(262, 1),
				longEntry(273, 8),
				shortEntry(277, 1),
				longEntry(278, 2),
				longEntry(279, uint32(len(predictedData))),
				shortEntry(317, predictorHorizontal),
				shortEntry(339, sampleFormatUint),
				doubleEntry(33550, 10, 10, 0),
				doubleEntry(33922, 0, 0, 0, 1005, 1995, 0),
				shortEntry(34735, 1, 1, 0, 3, 1024, 0, 1, 1, 1025, 0, 1, 2, 3072, 0, 1, 32632),
			}),
			expected: []float64{10, 20, 30, 40, 50, 60},
		},
		{
			name: "uint16_two_strips",
			data: buildTestTIFF(uint16Bytes(10, 20, 30, 40, 50, 60), []testTIFFEntry{
				longEntry(256, 3),
				longEntry(257, 2),
				shortEntry(258, 16),
				shortEntry(262, 1),
				longEntry(273, 8, 14),
				shortEntry(277, 1),
				longEntry(278, 1),
				longEntry(279, 6, 6),
				doubleEntry(33550, 10, 10, 0),
				doubleEntry(33922, 0, 0, 0, 1000, 2000, 0),
				shortEntry(34735, 1, 1, 0, 3, 1024, 0, 1, 1, 1025, 0, 1, 1, 3072, 0, 1, 32632),
			}),
			expected: []float64{10, 20, 30, 40, 50, 60},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raster, err := OpenRaster(writeTestTIFF(t, tc.data))
			assert.NoError(t, err)
			defer func() {
				assert.NoError(t, raster.Close())
			}()

			assert.Equal(t, 1, raster.Bands())
			width, height := raster.Size()
			assert.Equal(t, [2]int{3, 2}, [2]int{width, height})
			assert.Equal(t, NewGeoTransform(1000, 10, 0, 2000, 0, -10), raster.GeoTransform())
			assert.Equal(t, 32632, raster.EPSG())
			noData, hasNoData := raster.NoData()
			assert.Equal(t, tc.expectedNoData, noData)
			assert.Equal(t, tc.expectedHasNoData, hasNoData)

			grid, err := Open(raster)
			assert.NoError(t, err)
			var actual []float64
			for _, coord := range [][2]float64{
				{1005, 1995}, {1015, 1995}, {1025, 1995},
				{1005, 1985}, {1015, 1985}, {1025, 1985},
			} {
				sample, err := grid.SampleAt(t.Context(), coord[0], coord[1])
				assert.NoError(t, err)
				actual = append(actual, sample)
			}
			assert.Equal(t, tc.expected, actual)

			_, err = grid.SampleAt(t.Context(), 1030, 1995)
			assert.IsError(t, err, ErrOutOfBounds)
		})
	}
}

func TestGeoTIFFRaster_BlockCache(t *testing.T) {
	data := float32Bytes(1, 2, 3, 4)
	path := writeTestTIFF(t, buildTestTIFF(data, []testTIFFEntry{
		longEntry(256, 2),
		longEntry(257, 2),
		shortEntry(258, 32),
		longEntry(273, 8),
		longEntry(279, uint32(len(data))),
		shortEntry(339, sampleFormatIEEEFloat),
		doubleEntry(33550, 1, 1, 0),
		doubleEntry(33922, 0, 0, 0, 0, 2, 0),
	}))
	raster, err := NewGeoTIFFRaster(os.DirFS(filepath.Dir(path)), filepath.Base(path), WithBlockCacheSize(1))
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, raster.Close())
	}()
	assert.Equal(t, 0, raster.EPSG())

	hits := testutil.ToFloat64(blockCacheHits)
	misses := testutil.ToFloat64(blockCacheMisses)
	for _, cell := range []Cell{{C: 0, R: 0}, {C: 1, R: 1}} {
		_, err := raster.ReadCell(t.Context(), 1, cell)
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, testutil.ToFloat64(blockCacheHits)-hits)
	assert.Equal(t, 1, testutil.ToFloat64(blockCacheMisses)-misses)

	sample, err := raster.ReadCell(t.Context(), 1, Cell{C: 1, R: 0})
	assert.NoError(t, err)
	assert.Equal(t, 2, sample)

	_, err = raster.ReadCell(t.Context(), 2, Cell{})
	assert.IsError(t, err, ErrBand)
}

func TestGeoTIFFRaster_Errors(t *testing.T) {
	_, err := OpenRaster(filepath.Join(t.TempDir(), "missing.tif"))
	assert.IsError(t, err, fs.ErrNotExist)

	path := writeTestTIFF(t, []byte("not a tiff"))
	_, err = OpenRaster(path)
	var rasterOpenError *RasterOpenError
	assert.True(t, errors.As(err, &rasterOpenError))
	assert.Equal(t, path, rasterOpenError.Path)

	data := float32Bytes(1)
	_, err = OpenRaster(writeTestTIFF(t, buildTestTIFF(data, []testTIFFEntry{
		longEntry(256, 1),
		longEntry(257, 1),
		shortEntry(258, 32),
		longEntry(273, 8),
		longEntry(279, uint32(len(data))),
		shortEntry(339, sampleFormatIEEEFloat),
	})))
	assert.EqualError(t, errors.Unwrap(err), "missing georeferencing")
}
