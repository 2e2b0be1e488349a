package models

// ViewPort is a lat/lon rectangle of the map
type ViewPort struct {
	LatMin float64 `form:"latmin" json:"latmin"`
	LonMin float64 `form:"lonmin" json:"lonmin"`
	LatMax float64 `form:"latmax" json:"latmax"`
	LonMax float64 `form:"lonmax" json:"lonmax"`
}

func (v ViewPort) Valid() bool {
	return v.LatMin < v.LatMax && v.LonMin < v.LonMax &&
		v.LatMin >= -90 && v.LatMax <= 90 && v.LonMin >= -180 && v.LonMax <= 180
}
