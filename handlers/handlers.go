package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"olhovivo/export"
	"olhovivo/mapview"
	"olhovivo/models"
	"olhovivo/rabbitmq"
	"olhovivo/reports"
	"olhovivo/storage"
	ws "olhovivo/websocket"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether the database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Session        ws.SessionConfig
	Map            mapview.Options
	MaxUploadBytes int64
}

// Handlers contains all HTTP handlers
type Handlers struct {
	hub       *ws.Hub
	reports   *reports.Service
	db        Pinger
	host      storage.ImageHost
	publisher *rabbitmq.Publisher
	cfg       Config
}

// NewHandlers creates a new handlers instance. publisher may be nil.
func NewHandlers(hub *ws.Hub, svc *reports.Service, db Pinger, host storage.ImageHost, publisher *rabbitmq.Publisher, cfg Config) *Handlers {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Handlers{
		hub:       hub,
		reports:   svc,
		db:        db,
		host:      host,
		publisher: publisher,
		cfg:       cfg,
	}
}

// CreateReport handles POST /api/denuncias
func (h *Handlers) CreateReport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)
	if err := c.Request.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: "Arquivo muito grande"})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Formulário inválido", Details: err.Error()})
		return
	}

	photo, err := readPhoto(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Não foi possível ler a foto", Details: err.Error()})
		return
	}

	report, err := h.reports.Create(c.Request.Context(), reports.Submission{
		Name:        c.PostForm("name"),
		Phone:       c.PostForm("phone"),
		Description: c.PostForm("description"),
		Latitude:    c.PostForm("latitude"),
		Longitude:   c.PostForm("longitude"),
		Accuracy:    c.PostForm("accuracy"),
		Consent:     formBool(c.PostForm("lgpdAccepted")),
		Photo:       photo,
	})
	if errors.Is(err, reports.ErrValidation) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Erro ao processar denúncia",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": report})
}

func readPhoto(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes", "sim":
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// ListReports handles GET /api/denuncias
func (h *Handlers) ListReports(c *gin.Context) {
	list, err := h.reports.List(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to list reports: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Erro ao buscar denúncias"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// ExportReports handles GET /api/denuncias/export.xlsx
func (h *Handlers) ExportReports(c *gin.Context) {
	list, err := h.reports.List(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to list reports for export: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Erro ao buscar denúncias"})
		return
	}
	var buf bytes.Buffer
	if err := export.WriteReports(&buf, list, h.cfg.Map.Location); err != nil {
		log.Errorf("Failed to export reports: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Erro ao exportar denúncias", Details: err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="denuncias.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// WebSocket upgrader
var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ListenReports handles WebSocket connections of live map viewers
func (h *Handlers) ListenReports(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("Failed to upgrade listener connection: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// AcquireLocation handles the websocket through which a form page relays
// its browser geolocation readings and receives acquisition progress
func (h *Handlers) AcquireLocation(c *gin.Context) {
	secure := ws.SecureRequest(c.Request)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("Failed to upgrade acquisition connection: %v", err)
		return
	}
	defer conn.Close()

	ws.NewSession(ws.NewRelay(conn, secure), h.cfg.Session).Run(c.Request.Context())
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status, code := "healthy", http.StatusOK
	database := "ok"
	if err := h.db.Ping(ctx); err != nil {
		log.Warnf("Health check: database unreachable: %v", err)
		status, code = "unhealthy", http.StatusServiceUnavailable
		database = "unreachable"
	}

	publisher := "disabled"
	if h.publisher != nil {
		publisher = "disconnected"
		if h.publisher.IsConnected() {
			publisher = "connected"
		}
	}

	imageHost := h.host.Name()
	if b, ok := h.host.(*storage.BreakerHost); ok {
		imageHost += " (" + b.State() + ")"
	}

	connected, _ := h.hub.GetStats()
	c.JSON(code, models.HealthResponse{
		Status:           status,
		Service:          "olhovivo",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Database:         database,
		Publisher:        publisher,
		ImageHost:        imageHost,
		ConnectedClients: connected,
		ActiveSessions:   ws.ActiveSessions(),
	})
}
