// Package mapview turns stored reports into what the public map shows:
// a center, a zoom level and one marker per report.
package mapview

import (
	"time"

	"github.com/shopspring/decimal"

	"olhovivo/models"
)

const (
	DefaultZoom = 13
	// coordinatePlaces is the precision published for report coordinates,
	// about 11 cm at the equator.
	coordinatePlaces = 6
)

// DefaultFallback is the center used when there is nothing to show.
var DefaultFallback = Point{Latitude: -16.4677, Longitude: -54.6368}

type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Popup struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	PhotoURL    string `json:"photoUrl"`
	Date        string `json:"date"`
}

type Marker struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Popup     Popup   `json:"popup"`
}

type View struct {
	Center  Point    `json:"center"`
	Zoom    int      `json:"zoom"`
	Markers []Marker `json:"markers"`
}

type Options struct {
	Fallback Point
	Zoom     int
	// Location is the time zone popup dates are shown in. UTC when nil.
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.Fallback == (Point{}) {
		o.Fallback = DefaultFallback
	}
	if o.Zoom <= 0 {
		o.Zoom = DefaultZoom
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Build centers the map on the first report, which is the newest when
// reports come from the listing, or on the fallback when there are none.
func Build(reports []models.PublicReport, opts Options) View {
	opts = opts.withDefaults()
	view := View{
		Center:  opts.Fallback,
		Zoom:    opts.Zoom,
		Markers: make([]Marker, 0, len(reports)),
	}
	for i, r := range reports {
		m := newMarker(r, opts.Location)
		if i == 0 {
			view.Center = Point{Latitude: m.Latitude, Longitude: m.Longitude}
		}
		view.Markers = append(view.Markers, m)
	}
	return view
}

func newMarker(r models.PublicReport, loc *time.Location) Marker {
	status := r.Status
	if status == "" {
		status = models.StatusPending
	}
	return Marker{
		ID:        r.ID,
		Latitude:  Round(r.Latitude),
		Longitude: Round(r.Longitude),
		Popup: Popup{
			Status:      status,
			Description: r.Description,
			PhotoURL:    r.PhotoURL,
			Date:        FormatDate(r.CreatedAt, loc),
		},
	}
}

// Round cuts a coordinate to the published precision.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(coordinatePlaces).InexactFloat64()
}

// FormatDate renders t as dd/mm/yyyy in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02/01/2006")
}
