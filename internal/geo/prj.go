package geo

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

	webMercatorWKT = `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"],PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",0.0],PARAMETER["Standard_Parallel_1",0.0],PARAMETER["Auxiliary_Sphere_Type",0.0],UNIT["Meter",1.0]]`
)

// WKT is the ESRI .prj text for c.
func (c CRS) WKT() string {
	switch c {
	case WGS84:
		return wgs84WKT
	case WebMercator:
		return webMercatorWKT
	}
	return ""
}

// CRSFromWKT recognises the two supported systems in ESRI or OGC WKT.
func CRSFromWKT(wkt string) (CRS, error) {
	upper := strings.ToUpper(wkt)
	switch {
	case strings.Contains(upper, "MERCATOR"):
		return WebMercator, nil
	case strings.HasPrefix(strings.TrimSpace(upper), "GEOGCS") && strings.Contains(upper, "WGS"):
		return WGS84, nil
	}
	return 0, errors.Wrap(ErrUnsupportedCRS, "unrecognised WKT")
}

// PrjPath returns the .prj sidecar path for a shapefile.
func PrjPath(shpPath string) string {
	return strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
}

// ReadPrj detects the CRS of a shapefile from its .prj sidecar. ok is false
// when there is no sidecar.
func ReadPrj(shpPath string) (crs CRS, ok bool, err error) {
	data, err := os.ReadFile(PrjPath(shpPath))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "read prj")
	}
	crs, err = CRSFromWKT(string(data))
	if err != nil {
		return 0, false, err
	}
	return crs, true, nil
}

func WritePrj(shpPath string, crs CRS) error {
	wkt := crs.WKT()
	if wkt == "" {
		return errors.Wrapf(ErrUnsupportedCRS, "%s", crs)
	}
	return errors.Wrap(os.WriteFile(PrjPath(shpPath), []byte(wkt), 0o644), "write prj")
}
