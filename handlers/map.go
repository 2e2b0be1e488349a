package handlers

import (
	"bytes"
	"net/http"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"olhovivo/mapview"
	"olhovivo/models"
)

func (h *Handlers) mapView(c *gin.Context) (mapview.View, bool) {
	list, err := h.reports.List(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to list reports for the map: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Erro ao buscar denúncias"})
		return mapview.View{}, false
	}
	return mapview.Build(list, h.cfg.Map), true
}

// GetMap handles GET /api/map
func (h *Handlers) GetMap(c *gin.Context) {
	if view, ok := h.mapView(c); ok {
		c.JSON(http.StatusOK, view)
	}
}

// GetMapGeoJSON handles GET /api/map.geojson
func (h *Handlers) GetMapGeoJSON(c *gin.Context) {
	view, ok := h.mapView(c)
	if !ok {
		return
	}
	data, err := mapview.GeoJSON(view)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Erro ao gerar o mapa", Details: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}

// GetMapKML handles GET /api/map.kml
func (h *Handlers) GetMapKML(c *gin.Context) {
	view, ok := h.mapView(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := mapview.KML(&buf, view, "Denúncias"); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Erro ao gerar o mapa", Details: err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="denuncias.kml"`)
	c.Data(http.StatusOK, "application/vnd.google-earth.kml+xml", buf.Bytes())
}

// GetMapClusters handles GET /api/map/clusters?latmin=&lonmin=&latmax=&lonmax=
func (h *Handlers) GetMapClusters(c *gin.Context) {
	var vp models.ViewPort
	if err := c.ShouldBindQuery(&vp); err != nil || !vp.Valid() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Viewport inválido"})
		return
	}

	list, err := h.reports.ListInViewPort(c.Request.Context(), vp)
	if err != nil {
		log.Errorf("Failed to list reports in viewport: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Erro ao buscar denúncias"})
		return
	}
	view := mapview.Build(list, h.cfg.Map)
	c.JSON(http.StatusOK, mapview.ClusterMarkers(vp, view.Markers))
}
