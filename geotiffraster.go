package demsample

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	planarConfigChunky     = 1
	planarConfigPlanar     = 2
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatIEEEFloat  = 3
	defaultBlockCacheBytes = 64 << 20
)

// A GeoTIFFRaster is an open GeoTIFF file. Only the first IFD is read.
type GeoTIFFRaster struct {
	file             *os.File
	byteOrder        binary.ByteOrder
	width            int
	height           int
	blockWidth       int
	blockHeight      int
	blocksAcross     int
	blocksDown       int
	blockOffsets     []uint64
	blockByteCounts  []uint64
	compression      int
	predictor        int
	samplesPerPixel  int
	planar           bool
	stripped         bool
	bytesPerSample   int
	sampleFormat     int
	geoTransform     GeoTransform
	epsg             int
	noData           float64
	hasNoData        bool
	blockCacheBytes  int
	blockSamplesLRU  *lru.Cache[int, []float64]
	sparseBlockValue float64
}

type GeoTIFFRasterOption func(*GeoTIFFRaster)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth             uint32    `tiff:"field,tag=256"`
	ImageLength            uint32    `tiff:"field,tag=257"`
	BitsPerSample          []uint16  `tiff:"field,tag=258"`
	Compression            uint16    `tiff:"field,tag=259"`
	StripOffsets           []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel        uint16    `tiff:"field,tag=277"`
	RowsPerStrip           uint32    `tiff:"field,tag=278"`
	StripByteCounts        []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration    uint16    `tiff:"field,tag=284"`
	Predictor              uint16    `tiff:"field,tag=317"`
	TileWidth              uint32    `tiff:"field,tag=322"`
	TileLength             uint32    `tiff:"field,tag=323"`
	TileOffsets            []uint64  `tiff:"field,tag=324"`
	TileByteCounts         []uint64  `tiff:"field,tag=325"`
	SampleFormat           []uint16  `tiff:"field,tag=339"`
	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag     []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag      string    `tiff:"field,tag=34737"`
	GDALNoData             string    `tiff:"field,tag=42113"`
}

// NewGeoTIFFRaster returns a new GeoTIFFRaster.
func NewGeoTIFFRaster(fsys fs.FS, filename string, options ...GeoTIFFRasterOption) (*GeoTIFFRaster, error) {
	var err error
	ok := false

	r := &GeoTIFFRaster{
		blockCacheBytes: defaultBlockCacheBytes,
	}
	for _, option := range options {
		option(r)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	if _, ok := file.(*os.File); !ok {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	r.file = file.(*os.File)
	defer func() {
		if !ok {
			_ = r.file.Close()
		}
	}()

	header := make([]byte, 2)
	if _, err := r.file.ReadAt(header, 0); err != nil {
		return nil, err
	}
	switch string(header) {
	case "II":
		r.byteOrder = binary.LittleEndian
	case "MM":
		r.byteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("%s: not a TIFF file", filename)
	}

	tiffTIFF, err := tiff.Parse(r.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, fmt.Errorf("%s: no IFDs", filename)
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	if err := r.initLayout(&ifd); err != nil {
		return nil, err
	}
	if err := r.initGeoreferencing(&ifd); err != nil {
		return nil, err
	}

	if noData := strings.TrimRight(strings.TrimSpace(ifd.GDALNoData), "\x00"); noData != "" {
		r.noData, err = strconv.ParseFloat(noData, 64)
		if err != nil {
			return nil, fmt.Errorf("GDAL_NODATA %q: %w", noData, err)
		}
		r.hasNoData = true
		r.sparseBlockValue = r.noData
	}

	blockSampleBytes := 8 * r.blockWidth * r.blockHeight * r.samplesPerBlockPixel()
	r.blockSamplesLRU, err = lru.New[int, []float64](max(r.blockCacheBytes/blockSampleBytes, 1))
	if err != nil {
		return nil, err
	}

	ok = true
	return r, nil
}

// WithBlockCacheSize sets the approximate number of bytes of decoded blocks to
// keep in memory.
func WithBlockCacheSize(blockCacheBytes int) GeoTIFFRasterOption {
	return func(r *GeoTIFFRaster) {
		r.blockCacheBytes = blockCacheBytes
	}
}

func (r *GeoTIFFRaster) initLayout(ifd *geoTIFFIFD) error {
	r.width = int(ifd.ImageWidth)
	r.height = int(ifd.ImageLength)
	if r.width == 0 || r.height == 0 {
		return errors.New("empty image")
	}

	r.samplesPerPixel = max(int(ifd.SamplesPerPixel), 1)
	switch ifd.PlanarConfiguration {
	case 0, planarConfigChunky:
	case planarConfigPlanar:
		r.planar = r.samplesPerPixel > 1
	default:
		return fmt.Errorf("planar configuration %d: %w", ifd.PlanarConfiguration, errors.ErrUnsupported)
	}

	if len(ifd.BitsPerSample) == 0 {
		return errors.New("missing BitsPerSample")
	}
	for _, bits := range ifd.BitsPerSample[1:] {
		if bits != ifd.BitsPerSample[0] {
			return fmt.Errorf("mixed BitsPerSample: %w", errors.ErrUnsupported)
		}
	}
	r.bytesPerSample = int(ifd.BitsPerSample[0]) / 8
	r.sampleFormat = sampleFormatUint
	if len(ifd.SampleFormat) > 0 {
		r.sampleFormat = int(ifd.SampleFormat[0])
	}
	switch {
	case r.sampleFormat == sampleFormatUint && slices.Contains([]int{1, 2, 4, 8}, r.bytesPerSample):
	case r.sampleFormat == sampleFormatInt && slices.Contains([]int{1, 2, 4, 8}, r.bytesPerSample):
	case r.sampleFormat == sampleFormatIEEEFloat && slices.Contains([]int{4, 8}, r.bytesPerSample):
	default:
		return fmt.Errorf("sample format %d with %d bits: %w", r.sampleFormat, ifd.BitsPerSample[0], errors.ErrUnsupported)
	}

	r.compression = int(ifd.Compression)
	switch r.compression {
	case 0:
		r.compression = compressionNone
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return fmt.Errorf("compression %d: %w", r.compression, errors.ErrUnsupported)
	}
	r.predictor = int(ifd.Predictor)
	switch r.predictor {
	case 0:
		r.predictor = predictorNone
	case predictorNone:
	case predictorHorizontal:
		if r.sampleFormat == sampleFormatIEEEFloat {
			return fmt.Errorf("horizontal predictor with floating point samples: %w", errors.ErrUnsupported)
		}
	default:
		return fmt.Errorf("predictor %d: %w", r.predictor, errors.ErrUnsupported)
	}

	switch {
	case ifd.TileWidth != 0 && ifd.TileLength != 0:
		r.blockWidth = int(ifd.TileWidth)
		r.blockHeight = int(ifd.TileLength)
		r.blockOffsets = ifd.TileOffsets
		r.blockByteCounts = ifd.TileByteCounts
	case len(ifd.StripOffsets) != 0:
		r.stripped = true
		r.blockWidth = r.width
		r.blockHeight = int(ifd.RowsPerStrip)
		if r.blockHeight == 0 || r.blockHeight > r.height {
			r.blockHeight = r.height
		}
		r.blockOffsets = ifd.StripOffsets
		r.blockByteCounts = ifd.StripByteCounts
	default:
		return errors.New("missing strip or tile offsets")
	}
	r.blocksAcross = (r.width + r.blockWidth - 1) / r.blockWidth
	r.blocksDown = (r.height + r.blockHeight - 1) / r.blockHeight
	blocksPerImage := r.blocksAcross * r.blocksDown
	if r.planar {
		blocksPerImage *= r.samplesPerPixel
	}
	if len(r.blockOffsets) != blocksPerImage || len(r.blockByteCounts) != blocksPerImage {
		return errors.New("incorrect number of block byte counts or offsets")
	}
	return nil
}

func (r *GeoTIFFRaster) initGeoreferencing(ifd *geoTIFFIFD) error {
	var geoKeys *ParsedGeoKeys
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		var err error
		geoKeys, err = ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return fmt.Errorf("geokeys: %w", err)
		}
		r.epsg = geoKeys.EPSG()
	}

	switch m := ifd.ModelTransformationTag; {
	case len(m) == 16:
		r.geoTransform = GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	case len(ifd.ModelPixelScaleTag) >= 2 && len(ifd.ModelTiepointTag) >= 6:
		scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
		i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
		x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
		r.geoTransform = GeoTransform{x - i*scaleX, scaleX, 0, y + j*scaleY, 0, -scaleY}
	default:
		return errors.New("missing georeferencing")
	}

	if geoKeys.PixelIsPoint() {
		gt := &r.geoTransform
		gt[0] -= 0.5*gt[1] + 0.5*gt[2]
		gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	}
	return nil
}

func (r *GeoTIFFRaster) Close() error {
	return r.file.Close()
}

// Bands returns the number of samples per pixel.
func (r *GeoTIFFRaster) Bands() int {
	return r.samplesPerPixel
}

// Size returns r's width and height in pixels.
func (r *GeoTIFFRaster) Size() (int, int) {
	return r.width, r.height
}

func (r *GeoTIFFRaster) GeoTransform() GeoTransform {
	return r.geoTransform
}

// EPSG returns the EPSG code from r's GeoKeys, or zero.
func (r *GeoTIFFRaster) EPSG() int {
	return r.epsg
}

func (r *GeoTIFFRaster) NoData() (float64, bool) {
	return r.noData, r.hasNoData
}

// ReadCell returns the raw sample of band at cell.
func (r *GeoTIFFRaster) ReadCell(ctx context.Context, band int, cell Cell) (float64, error) {
	if band < 1 || r.samplesPerPixel < band {
		return 0, fmt.Errorf("band %d of %d: %w", band, r.samplesPerPixel, ErrBand)
	}
	if cell.C < 0 || r.width <= cell.C || cell.R < 0 || r.height <= cell.R {
		return 0, fmt.Errorf("cell %v: %w", cell, ErrOutOfBounds)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	blockIndex := cell.C/r.blockWidth + r.blocksAcross*(cell.R/r.blockHeight)
	if r.planar {
		blockIndex += (band - 1) * r.blocksAcross * r.blocksDown
	}
	blockSamples, err := r.getBlockSamplesCached(blockIndex)
	if err != nil {
		return 0, err
	}

	localC, localR := cell.C%r.blockWidth, cell.R%r.blockHeight
	index := localC + localR*r.blockWidth
	if blockSamples == nil {
		return r.sparseBlockValue, nil
	}
	if !r.planar {
		index = index*r.samplesPerPixel + band - 1
	}
	if index >= len(blockSamples) {
		return 0, errShortRead
	}
	return blockSamples[index], nil
}

func (r *GeoTIFFRaster) samplesPerBlockPixel() int {
	if r.planar {
		return 1
	}
	return r.samplesPerPixel
}

// getBlockSamplesCached returns the decoded samples of the block at
// blockIndex using r's cache. Sparse blocks return nil.
func (r *GeoTIFFRaster) getBlockSamplesCached(blockIndex int) ([]float64, error) {
	if blockSamples, ok := r.blockSamplesLRU.Get(blockIndex); ok {
		blockCacheHits.Inc()
		return blockSamples, nil
	}
	blockCacheMisses.Inc()
	blockSamples, err := r.getBlockSamples(blockIndex)
	if err != nil {
		return nil, err
	}
	r.blockSamplesLRU.Add(blockIndex, blockSamples)
	return blockSamples, nil
}

// getBlockSamples reads, decompresses, and decodes the block at blockIndex.
func (r *GeoTIFFRaster) getBlockSamples(blockIndex int) ([]float64, error) {
	byteCount := r.blockByteCounts[blockIndex]
	offset := r.blockOffsets[blockIndex]
	if byteCount == 0 || offset == 0 {
		return nil, nil
	}

	compressedData := make([]byte, byteCount)
	switch n, err := r.file.ReadAt(compressedData, int64(offset)); {
	case err != nil && !(errors.Is(err, io.EOF) && n == len(compressedData)):
		return nil, err
	case n != len(compressedData):
		return nil, errShortRead
	}

	rows := r.blockHeight
	if r.stripped {
		// The last strip is truncated at the bottom of the image.
		blockRow := (blockIndex % (r.blocksAcross * r.blocksDown)) / r.blocksAcross
		rows = min(r.blockHeight, r.height-blockRow*r.blockHeight)
	}
	rowBytes := r.blockWidth * r.samplesPerBlockPixel() * r.bytesPerSample
	data, err := r.decompress(compressedData, rows*rowBytes)
	if err != nil {
		return nil, err
	}
	if r.predictor == predictorHorizontal {
		r.undoHorizontalPredictor(data, rowBytes)
	}
	return r.decode(data), nil
}

// decompress returns the first size bytes of the decompressed data.
func (r *GeoTIFFRaster) decompress(compressedData []byte, size int) ([]byte, error) {
	var reader io.Reader
	switch r.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		reader = lzwReader
	case compressionDeflate, compressionDeflateOld:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		reader = zlibReader
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, err
	}
	return data, nil
}

// undoHorizontalPredictor reverses horizontal differencing in place.
func (r *GeoTIFFRaster) undoHorizontalPredictor(data []byte, rowBytes int) {
	stride := r.samplesPerBlockPixel()
	size := r.bytesPerSample
	for rowStart := 0; rowStart+rowBytes <= len(data); rowStart += rowBytes {
		row := data[rowStart : rowStart+rowBytes]
		for i := stride; i < len(row)/size; i++ {
			a, b := row[(i-stride)*size:], row[i*size:]
			switch size {
			case 1:
				b[0] += a[0]
			case 2:
				r.byteOrder.PutUint16(b, r.byteOrder.Uint16(b)+r.byteOrder.Uint16(a))
			case 4:
				r.byteOrder.PutUint32(b, r.byteOrder.Uint32(b)+r.byteOrder.Uint32(a))
			case 8:
				r.byteOrder.PutUint64(b, r.byteOrder.Uint64(b)+r.byteOrder.Uint64(a))
			}
		}
	}
}

// decode converts raw sample bytes to float64s.
func (r *GeoTIFFRaster) decode(data []byte) []float64 {
	size := r.bytesPerSample
	samples := make([]float64, len(data)/size)
	for i := range samples {
		b := data[i*size : (i+1)*size]
		switch r.sampleFormat<<8 | size {
		case sampleFormatUint<<8 | 1:
			samples[i] = float64(b[0])
		case sampleFormatInt<<8 | 1:
			samples[i] = float64(int8(b[0]))
		case sampleFormatUint<<8 | 2:
			samples[i] = float64(r.byteOrder.Uint16(b))
		case sampleFormatInt<<8 | 2:
			samples[i] = float64(int16(r.byteOrder.Uint16(b)))
		case sampleFormatUint<<8 | 4:
			samples[i] = float64(r.byteOrder.Uint32(b))
		case sampleFormatInt<<8 | 4:
			samples[i] = float64(int32(r.byteOrder.Uint32(b)))
		case sampleFormatUint<<8 | 8:
			samples[i] = float64(r.byteOrder.Uint64(b))
		case sampleFormatInt<<8 | 8:
			samples[i] = float64(int64(r.byteOrder.Uint64(b)))
		case sampleFormatIEEEFloat<<8 | 4:
			samples[i] = float64(math.Float32frombits(r.byteOrder.Uint32(b)))
		case sampleFormatIEEEFloat<<8 | 8:
			samples[i] = math.Float64frombits(r.byteOrder.Uint64(b))
		}
	}
	return samples
}
