package service

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"

	"olhovivo/config"
	"olhovivo/database"
	"olhovivo/geolocation"
	"olhovivo/handlers"
	"olhovivo/image"
	"olhovivo/mapview"
	"olhovivo/metrics"
	"olhovivo/rabbitmq"
	"olhovivo/reports"
	"olhovivo/storage"
	"olhovivo/websocket"
)

const schemaTimeout = 30 * time.Second

// Service owns the long lived parts of the report service
type Service struct {
	config    *config.Config
	db        *database.Database
	hub       *websocket.Hub
	host      storage.ImageHost
	publisher *rabbitmq.Publisher
	handlers  *handlers.Handlers
}

// NewService connects to the database and builds everything the handlers need
func NewService(cfg *config.Config) (*Service, error) {
	profiles, err := geolocation.LoadProfiles(cfg.AcquisitionProfilesFile)
	if err != nil {
		return nil, err
	}
	if _, err := profiles.Get(cfg.AcquisitionProfile); err != nil {
		return nil, fmt.Errorf("ACQUISITION_PROFILE: %w", err)
	}

	host, err := storage.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.MapTimezone)
	if err != nil {
		log.Warnf("Unknown MAP_TIMEZONE %q, using UTC: %v", cfg.MapTimezone, err)
		loc = time.UTC
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub()

	var publisher *rabbitmq.Publisher
	opts := reports.Options{
		Folder:         cfg.CloudFolder,
		RequireConsent: cfg.RequireConsent,
		Broadcaster:    hub,
	}
	if cfg.AMQPURL != "" {
		publisher = rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		opts.Publisher = publisher
	}

	svc := reports.NewService(db, host, image.NewProcessor(cfg.MaxImageDimension, cfg.ImageQuality), opts)

	h := handlers.NewHandlers(hub, svc, db, host, publisher, handlers.Config{
		Session: websocket.SessionConfig{
			Profiles:       profiles,
			DefaultProfile: cfg.AcquisitionProfile,
			RequireSecure:  cfg.RequireSecureContext,
			Observer:       metrics.ObserveAcquisition,
		},
		Map: mapview.Options{
			Fallback: mapview.Point{Latitude: cfg.MapFallbackLat, Longitude: cfg.MapFallbackLng},
			Zoom:     cfg.MapZoom,
			Location: loc,
		},
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	return &Service{
		config:    cfg,
		db:        db,
		hub:       hub,
		host:      host,
		publisher: publisher,
		handlers:  h,
	}, nil
}

// Start prepares the schema and starts the background workers
func (s *Service) Start() error {
	log.Info("Starting report service...")

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := s.db.EnsureSchema(ctx); err != nil {
		return err
	}

	go s.hub.Run()

	if s.publisher != nil {
		if err := s.publisher.Connect(); err != nil {
			log.Warnf("RabbitMQ unavailable, will retry on publish: %v", err)
		}
	}

	log.WithFields(log.Fields{
		"image_host": s.host.Name(),
		"profile":    s.config.AcquisitionProfile,
		"publisher":  s.publisher != nil,
	}).Info("Report service started")
	return nil
}

// Stop stops the service gracefully
func (s *Service) Stop() error {
	log.Info("Stopping report service...")

	s.hub.Stop()

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Warnf("Error closing publisher: %v", err)
		}
	}

	if err := s.db.Close(); err != nil {
		log.Errorf("Error closing database: %v", err)
	}

	log.Info("Report service stopped")
	return nil
}

// GetHandlers returns the HTTP handlers
func (s *Service) GetHandlers() *handlers.Handlers {
	return s.handlers
}

// LocalUploads reports whether photos are served by this process and from
// which directory.
func (s *Service) LocalUploads() (string, bool) {
	if s.host.Name() != "local" {
		return "", false
	}
	return s.config.LocalUploadDir, true
}
