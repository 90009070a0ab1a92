package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/engine"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/metrics"
	"github.com/dougsko/js8emu/pkg/spots"
	"github.com/dougsko/js8emu/pkg/storage"
)

// Daemon wires the emulator to its optional journal, spot publisher and
// admin web server
type Daemon struct {
	config *config.Config
	wg     sync.WaitGroup

	emulator  *engine.Emulator
	metrics   *metrics.Metrics
	feed      *Feed
	store     *storage.MessageStore
	recorder  *storage.Recorder
	spots     *spots.Publisher
	router    *gin.Engine
	webServer *http.Server

	stopOnce sync.Once
}

// NewDaemon creates the daemon and its components without opening any port
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{
		config:  cfg,
		metrics: metrics.New(),
		feed:    NewFeed(),
	}

	opts := []engine.Option{
		engine.WithMetrics(d.metrics),
		engine.WithMonitor(d.feed),
	}

	if cfg.Storage.DatabasePath != "" {
		store, err := storage.NewMessageStore(cfg.Storage.DatabasePath, cfg.Storage.MaxMessages)
		if err != nil {
			return nil, err
		}
		d.store = store
		d.recorder = storage.NewRecorder(store, storage.DefaultRecorderBuffer)
		opts = append(opts, engine.WithMonitor(d.recorder))
	}

	publisher, err := spots.NewPublisher(cfg)
	if err != nil {
		if d.store != nil {
			d.store.Close()
		}
		return nil, err
	}
	if publisher != nil {
		d.spots = publisher
		opts = append(opts, engine.WithMonitor(publisher))
	}

	d.emulator = engine.NewEmulator(cfg, opts...)

	if cfg.Web.Enabled {
		d.setupWebServer()
	}

	return d, nil
}

// Start binds the interface listeners and the web server
func (d *Daemon) Start() error {
	if d.recorder != nil {
		d.recorder.Start()
	}

	if err := d.emulator.Start(); err != nil {
		return err
	}

	if d.webServer != nil {
		ln, err := net.Listen("tcp", d.webServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen for web server on %s: %w", d.webServer.Addr, err)
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			logging.Infof("web", "Web interface: http://%s", d.webServer.Addr)
			if err := d.webServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Errorf("web", "Web server error: %v", err)
			}
		}()
	}

	return nil
}

// Run serves until ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	return d.emulator.Run(ctx)
}

// Stop shuts every component down in reverse start order
func (d *Daemon) Stop() error {
	var stopErr error
	d.stopOnce.Do(func() {
		if d.webServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.webServer.Shutdown(ctx); err != nil {
				logging.Warnf("web", "Web server shutdown error: %v", err)
			}
		}
		d.feed.Close()

		stopErr = d.emulator.Close()

		if d.recorder != nil {
			d.recorder.Stop()
		}
		d.spots.Close()
		if d.store != nil {
			if err := d.store.Close(); err != nil && stopErr == nil {
				stopErr = err
			}
		}

		d.wg.Wait()
	})
	return stopErr
}

// setupWebServer initializes the router and the HTTP server
func (d *Daemon) setupWebServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/interfaces", d.handleGetInterfaces)
		api.GET("/interfaces/:name/heard", d.handleGetHeard)
		api.PUT("/interfaces/:name/frequency", d.handleSetFrequency)
		api.POST("/interfaces/:name/transmit", d.handleTransmit)
		api.GET("/messages", d.handleGetMessages)
		api.GET("/messages/search", d.handleSearchMessages)
		api.GET("/stats", d.handleGetStats)
		api.GET("/ws", d.handleFeedWebSocket)
	}
	router.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	d.router = router
	d.webServer = &http.Server{
		Addr:              net.JoinHostPort(d.config.Web.BindAddress, strconv.Itoa(d.config.Web.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
