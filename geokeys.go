package demsample

import "errors"

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS         GeoKey = 2048
	GeoKeyGeogCitation        GeoKey = 2049
	GeoKeyGeodeticDatum       GeoKey = 2050
	GeoKeyAngularUnits        GeoKey = 2054
	GeoKeyGeogAngularUnitSize GeoKey = 2055

	GeoKeyProjectedCRS GeoKey = 3072
	GeoKeyPCSCitation  GeoKey = 3073
	GeoKeyLinearUnits  GeoKey = 3076

	GeoKeyVertical GeoKey = 4096
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2

	rasterPixelIsArea  = 1
	rasterPixelIsPoint = 2

	userDefinedGeoKey = 32767
)

type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		count := int(keyValues[2])
		valueOrIndex := int(keyValues[3])
		switch tiffTagLocation {
		case 0:
			if count != 1 {
				return nil, errParse
			}
			parsedGeoKeys.Params[key] = valueOrIndex
		case 34736: // GeoDoubleParamsTag
			if count != 1 {
				return nil, errors.ErrUnsupported
			}
			if valueOrIndex >= len(doubleParams) {
				return nil, errParse
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[valueOrIndex]
		case 34737: // GeoASCIIParamsTag
			if valueOrIndex+count > len(asciiParams) {
				return nil, errParse
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[valueOrIndex : valueOrIndex+count])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// EPSG returns the EPSG code of the CRS described by k, or zero if it is
// user-defined or absent.
func (k *ParsedGeoKeys) EPSG() int {
	if k == nil {
		return 0
	}
	keys := []GeoKey{GeoKeyProjectedCRS, GeoKeyGeodeticCRS}
	if k.Params[GeoKeyGTModelType] == modelTypeGeographic {
		keys = []GeoKey{GeoKeyGeodeticCRS}
	}
	for _, key := range keys {
		if code, ok := k.Params[key]; ok && code != 0 && code != userDefinedGeoKey {
			return code
		}
	}
	return 0
}

// PixelIsPoint returns whether tie points refer to pixel centers.
func (k *ParsedGeoKeys) PixelIsPoint() bool {
	return k != nil && k.Params[GeoKeyGTRasterType] == rasterPixelIsPoint
}
