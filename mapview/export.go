package mapview

import (
	"fmt"
	"io"

	geojson "github.com/paulmach/go.geojson"
	kml "github.com/twpayne/go-kml/v3"
)

// GeoJSON renders the markers as a FeatureCollection of points.
func GeoJSON(view View) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, m := range view.Markers {
		f := geojson.NewPointFeature([]float64{m.Longitude, m.Latitude})
		f.ID = m.ID
		f.SetProperty("status", m.Popup.Status)
		f.SetProperty("description", m.Popup.Description)
		f.SetProperty("photoUrl", m.Popup.PhotoURL)
		f.SetProperty("date", m.Popup.Date)
		fc.AddFeature(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode geojson: %w", err)
	}
	return data, nil
}

// KML writes the markers as a KML document with one placemark each.
func KML(w io.Writer, view View, title string) error {
	elements := []kml.Element{kml.Name(title)}
	for _, m := range view.Markers {
		elements = append(elements, kml.Placemark(
			kml.Name(m.Popup.Status+" "+m.Popup.Date),
			kml.Description(placemarkDescription(m)),
			kml.Point(
				kml.Coordinates(kml.Coordinate{
					Lon: m.Longitude,
					Lat: m.Latitude,
				}),
			),
		))
	}
	if err := kml.KML(kml.Document(elements...)).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

func placemarkDescription(m Marker) string {
	desc := m.Popup.Description
	if m.Popup.PhotoURL != "" {
		desc += "\n" + m.Popup.PhotoURL
	}
	return desc
}
