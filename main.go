package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"olhovivo/config"
	"olhovivo/metrics"
	"olhovivo/middleware"
	"olhovivo/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Set log level
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Invalid LOG_LEVEL %q, using info", cfg.LogLevel)
	}
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Register()

	// Create service
	svc, err := service.NewService(cfg)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	// Start service
	if err := svc.Start(); err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Setup HTTP server
	router := setupRouter(ctx, cfg, svc)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain requests before the service closes the database they use
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	if err := svc.Stop(); err != nil {
		log.Errorf("Error stopping service: %v", err)
	}

	log.Info("Server exited")
}

func setupRouter(ctx context.Context, cfg *config.Config, svc *service.Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	// Add gzip compression middleware; websocket upgrades must stay uncompressed
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/api/denuncias/listen",
		"/api/location/acquire",
	})))

	router.Use(cors.New(cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		AllowOrigins: []string{"*"},
		MaxAge:       12 * time.Hour,
	}))

	limiter := middleware.NewRateLimiter(cfg.SubmitPerMin, cfg.SubmitBurst)
	go limiter.Cleanup(ctx)

	h := svc.GetHandlers()

	api := router.Group("/api")
	{
		// Reports
		api.POST("/denuncias", limiter.Handler(), h.CreateReport)
		api.GET("/denuncias", h.ListReports)
		api.GET("/denuncias/export.xlsx", h.ExportReports)

		// WebSocket endpoint for new report notifications
		api.GET("/denuncias/listen", h.ListenReports)

		// WebSocket endpoint for location acquisition
		api.GET("/location/acquire", h.AcquireLocation)

		// Map
		api.GET("/map", h.GetMap)
		api.GET("/map.geojson", h.GetMapGeoJSON)
		api.GET("/map.kml", h.GetMapKML)
		api.GET("/map/clusters", h.GetMapClusters)
	}

	if dir, ok := svc.LocalUploads(); ok {
		router.Static("/uploads", dir)
	}

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
