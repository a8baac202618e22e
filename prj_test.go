package demsample

import (
	"errors"
	"strconv"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestEPSGFromWKT(t *testing.T) {
	for epsg := range esriWKTs {
		t.Run(strconv.Itoa(epsg), func(t *testing.T) {
			wkt, err := ESRIWKT(epsg)
			assert.NoError(t, err)
			assert.Equal(t, epsg, epsgFromWKT(wkt))
		})
	}

	for _, tc := range []struct {
		name     string
		wkt      string
		expected int
	}{
		{
			name:     "ogc_authority",
			wkt:      `PROJCS["WGS 84 / UTM zone 33N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]],PROJECTION["Transverse_Mercator"],UNIT["metre",1],AUTHORITY["EPSG","32633"]]`,
			expected: 32633,
		},
		{
			name:     "authority_with_trailing_newline",
			wkt:      "GEOGCS[\"WGS 84\",AUTHORITY[\"EPSG\",\"4326\"]]\n",
			expected: 4326,
		},
		{
			name:     "unknown_name",
			wkt:      `PROJCS["Somewhere_Else",GEOGCS["GCS_WGS_1984"]]`,
			expected: 0,
		},
		{
			name:     "garbage",
			wkt:      "not wkt",
			expected: 0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, epsgFromWKT(tc.wkt))
		})
	}
}

func TestESRIWKT_Unsupported(t *testing.T) {
	_, err := ESRIWKT(2056)
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}
