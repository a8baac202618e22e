package demsample_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-demsample"
)

var testOutputSchema = demsample.Schema{
	Fields: []demsample.FieldSpec{
		{Name: "NOME", Type: demsample.FieldString, Width: 20},
		{Name: "COD", Type: demsample.FieldInteger, Width: 10},
	},
	XField:      "X_COORD",
	HeightField: "HEIGHT",
}

var testSampledPoints = []demsample.SampledPoint{
	{
		Index:  0,
		X:      500100.5,
		Y:      4999900.25,
		Height: 1234.5,
		Attributes: demsample.Attributes{
			{Name: "NOME", Value: "Città"},
			{Name: "COD", Value: int64(7)},
			{Name: "X_COORD", Value: 500100.5},
			{Name: "HEIGHT", Value: 1234.5},
		},
	},
	{
		Index:  1,
		X:      500200,
		Y:      4999800,
		Height: -9999,
		Attributes: demsample.Attributes{
			{Name: "NOME", Value: "Lago"},
			{Name: "COD", Value: int64(-3)},
			{Name: "X_COORD", Value: 500200.0},
			{Name: "HEIGHT", Value: -9999.0},
		},
	},
}

func TestShapefileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peaks_QUOTA.shp")
	sink, err := demsample.CreateShapefileSink(path, testOutputSchema, demsample.DefaultEPSG)
	assert.NoError(t, err)
	for _, p := range testSampledPoints {
		assert.NoError(t, sink.Write(p))
	}
	assert.NoError(t, sink.Close())

	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj", ".cpg"} {
		_, err := os.Stat(filepath.Join(filepath.Dir(path), "peaks_QUOTA"+ext))
		assert.NoError(t, err)
	}
	cpg, err := os.ReadFile(filepath.Join(filepath.Dir(path), "peaks_QUOTA.cpg"))
	assert.NoError(t, err)
	assert.Equal(t, "UTF-8", string(cpg))
	prj, err := os.ReadFile(filepath.Join(filepath.Dir(path), "peaks_QUOTA.prj"))
	assert.NoError(t, err)
	assert.True(t, bytes.HasPrefix(prj, []byte(`PROJCS["WGS_1984_UTM_Zone_32N"`)))

	source, err := demsample.OpenShapefile(path)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, source.Close())
	}()
	assert.Equal(t, demsample.DefaultEPSG, source.EPSG())
	assert.Equal(t, []demsample.FieldSpec{
		{Name: "NOME", Type: demsample.FieldString, Width: 20},
		{Name: "COD", Type: demsample.FieldInteger, Width: 10},
		{Name: "X_COORD", Type: demsample.FieldReal, Width: 24, Precision: 15},
		{Name: "HEIGHT", Type: demsample.FieldReal, Width: 24, Precision: 15},
	}, source.Fields())

	var points []demsample.InputPoint
	for p, err := range source.Points() {
		assert.NoError(t, err)
		points = append(points, p)
	}
	assert.Equal(t, len(testSampledPoints), len(points))
	for i, p := range points {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, testSampledPoints[i].X, p.X)
		assert.Equal(t, testSampledPoints[i].Y, p.Y)
		assert.Equal(t, testSampledPoints[i].Attributes, p.Attributes)
	}
}

func TestReadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.shp")
	sink, err := demsample.CreateShapefileSink(path, demsample.Schema{}, 4326)
	assert.NoError(t, err)
	assert.NoError(t, sink.Write(demsample.SampledPoint{
		X:          9.5,
		Y:          45.25,
		Attributes: demsample.Attributes{{Name: "height", Value: 100.0}},
	}))
	assert.NoError(t, sink.Close())

	var points []demsample.InputPoint
	for p, err := range demsample.ReadShapefile(path) {
		assert.NoError(t, err)
		points = append(points, p)
	}
	assert.Equal(t, []demsample.InputPoint{
		{X: 9.5, Y: 45.25, Attributes: demsample.Attributes{{Name: "height", Value: 100.0}}},
	}, points)

	source, err := demsample.OpenSource(path)
	assert.NoError(t, err)
	assert.Equal(t, 4326, source.EPSG())
	assert.NoError(t, source.Close())
}

func TestOpenShapefile_Missing(t *testing.T) {
	_, err := demsample.OpenShapefile(filepath.Join(t.TempDir(), "missing.shp"))
	var vectorOpenError *demsample.VectorOpenError
	assert.True(t, errors.As(err, &vectorOpenError))
	assert.Equal(t, -1, vectorOpenError.Index)
}

func TestCreateShapefileSink_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := demsample.CreateShapefileSink(filepath.Join(dir, "long.shp"), demsample.Schema{
		HeightField: "ELEVATION_M",
	}, demsample.DefaultEPSG)
	assert.IsError(t, err, demsample.ErrSchema)

	_, err = demsample.CreateShapefileSink(filepath.Join(dir, "crs.shp"), demsample.Schema{}, 2056)
	assert.IsError(t, err, errors.ErrUnsupported)

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(entries))
}

func TestShapefileSink_Remove(t *testing.T) {
	dir := t.TempDir()
	sink, err := demsample.CreateShapefileSink(filepath.Join(dir, "partial.shp"), demsample.Schema{}, demsample.DefaultEPSG)
	assert.NoError(t, err)
	assert.NoError(t, sink.Write(demsample.SampledPoint{Attributes: demsample.Attributes{{Name: "height", Value: 1.0}}}))
	assert.NoError(t, sink.Remove())

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(entries))
}

func TestShapefileSink_WideReals(t *testing.T) {
	const float32NoData = -3.4028234663852886e+38

	schema := demsample.Schema{
		Fields: []demsample.FieldSpec{
			{Name: "SHAPE_Area", Type: demsample.FieldReal, Width: 19, Precision: 11},
		},
	}
	path := filepath.Join(t.TempDir(), "wide.shp")
	sink, err := demsample.CreateShapefileSink(path, schema, demsample.DefaultEPSG)
	assert.NoError(t, err)
	for _, tc := range []struct {
		area   float64
		height float64
	}{
		{area: 1.5e9, height: float32NoData},
		{area: 0.25, height: 123.5},
	} {
		p, err := schema.Apply(demsample.InputPoint{
			X:          500000,
			Y:          5000000,
			Attributes: demsample.Attributes{{Name: "SHAPE_Area", Value: tc.area}},
		}, tc.height)
		assert.NoError(t, err)
		assert.NoError(t, sink.Write(p))
	}
	assert.NoError(t, sink.Close())

	var attributes []demsample.Attributes
	for p, err := range demsample.ReadShapefile(path) {
		assert.NoError(t, err)
		attributes = append(attributes, p.Attributes)
	}
	assert.Equal(t, []demsample.Attributes{
		{{Name: "SHAPE_Area", Value: 1.5e9}, {Name: "height", Value: float32NoData}},
		{{Name: "SHAPE_Area", Value: 0.25}, {Name: "height", Value: 123.5}},
	}, attributes)
}

func TestShapefileSink_Overflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrow.shp")
	sink, err := demsample.CreateShapefileSink(path, demsample.Schema{
		Fields: []demsample.FieldSpec{
			{Name: "COD", Type: demsample.FieldInteger, Width: 3},
			{Name: "Q", Type: demsample.FieldReal, Width: 4, Precision: 1},
		},
	}, demsample.DefaultEPSG)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, sink.Remove())
	}()

	err = sink.Write(demsample.SampledPoint{Attributes: demsample.Attributes{{Name: "COD", Value: int64(12345)}}})
	assert.IsError(t, err, demsample.ErrFieldOverflow)
	assert.EqualError(t, err, "COD: 12345: value does not fit field")

	err = sink.Write(demsample.SampledPoint{Attributes: demsample.Attributes{{Name: "Q", Value: -3.4e38}}})
	assert.IsError(t, err, demsample.ErrFieldOverflow)

	assert.NoError(t, sink.Write(demsample.SampledPoint{Attributes: demsample.Attributes{{Name: "Q", Value: 12.75}}}))
}

func TestCreateShapefileSink_PRJ(t *testing.T) {
	dir := t.TempDir()

	sink, err := demsample.CreateShapefileSink(filepath.Join(dir, "etrs89.shp"), demsample.Schema{}, 25832)
	assert.NoError(t, err)
	assert.NoError(t, sink.Close())
	source, err := demsample.OpenShapefile(filepath.Join(dir, "etrs89.shp"))
	assert.NoError(t, err)
	assert.Equal(t, 25832, source.EPSG())
	assert.NoError(t, source.Close())

	const lv95 = `PROJCS["CH1903+ / LV95",GEOGCS["CH1903+",DATUM["CH1903+",SPHEROID["Bessel 1841",6377397.155,299.1528128]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Hotine_Oblique_Mercator_Azimuth_Center"],UNIT["metre",1],AUTHORITY["EPSG","2056"]]`
	sink, err = demsample.CreateShapefileSink(filepath.Join(dir, "lv95.shp"), demsample.Schema{}, 2056, demsample.WithPRJ(lv95))
	assert.NoError(t, err)
	assert.NoError(t, sink.Close())
	prj, err := os.ReadFile(filepath.Join(dir, "lv95.prj"))
	assert.NoError(t, err)
	assert.Equal(t, lv95, string(prj))
}
