package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/signaling-relay/backend/api/handlers"
	"github.com/signaling-relay/backend/internal/config"
	"github.com/signaling-relay/backend/internal/db"
	"github.com/signaling-relay/backend/internal/discovery"
	"github.com/signaling-relay/backend/internal/logger"
	"github.com/signaling-relay/backend/internal/metrics"
	"github.com/signaling-relay/backend/internal/repository"
	"github.com/signaling-relay/backend/internal/ws"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Get configuration from environment
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize repository; records left open by a previous run are stale
	peerRepo := repository.NewPeerRepository(database)
	if n, err := peerRepo.CloseStale(context.Background(), time.Now()); err != nil {
		log.WithError(err).Warn("Failed to close stale peer records")
	} else if n > 0 {
		log.WithField("count", n).Info("Closed stale peer records")
	}

	// Initialize relay service
	collector := metrics.NewCollector()
	wsService := ws.NewService(ws.ServiceConfig{
		Repository:     peerRepo,
		Metrics:        collector,
		Logger:         log,
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
	})
	defer wsService.Close()

	// Initialize handlers
	peerHandler := handlers.NewPeerHandler(wsService.Relay(), peerRepo)
	wsHandler := handlers.NewWebSocketHandler(wsService.Handler(), log)

	// Initialize Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"peers":  wsService.Relay().Len(),
		})
	})
	r.GET("/metrics", gin.WrapH(collector.Handler()))

	// API routes
	api := r.Group("/api")
	{
		peerHandler.RegisterRoutes(api)
	}

	// WebSocket routes
	wsHandler.RegisterRoutes(r)

	// Advertise on the local network
	var advertiser *discovery.Advertiser
	if cfg.MDNS {
		advertiser, err = discovery.Advertise(cfg.MDNSName, cfg.PortNumber())
		if err != nil {
			log.WithError(err).Warn("Failed to start mDNS advertisement")
		} else {
			log.WithFields(logrus.Fields{
				"name":    advertiser.Name(),
				"service": discovery.ServiceType,
			}).Info("Advertising relay via mDNS")
		}
	}

	srv := &http.Server{
		Addr:    cfg.Address(),
		Handler: r,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("Shutting down server...")

		if advertiser != nil {
			if err := advertiser.Close(); err != nil {
				log.WithError(err).Warn("Failed to stop mDNS advertisement")
			}
		}

		// Stop accepting upgrades first; hijacked WebSocket connections are
		// not tracked by the server and are closed by the relay
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Server shutdown did not complete cleanly")
		}

		wsService.Close()
	}()

	// Start server
	log.Infof("Signaling relay running on ws://%s", displayAddress(cfg))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
	<-done
}

// displayAddress returns a dialable host:port for the startup log line.
func displayAddress(cfg *config.Config) string {
	if cfg.Host == "" {
		return "localhost" + cfg.Address()
	}
	return cfg.Address()
}

// requestLogger returns a middleware that logs each HTTP request via logrus.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"latency":  time.Since(start).String(),
			"clientIP": c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Debug("request handled")
	}
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
