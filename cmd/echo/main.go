// Command echo runs the arrow impact detector: camera capture, target
// calibration, impact detection and the HTTP control API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/echo-archery/impact.report/internal/api"
	"github.com/echo-archery/impact.report/internal/camera"
	"github.com/echo-archery/impact.report/internal/config"
	"github.com/echo-archery/impact.report/internal/db"
	"github.com/echo-archery/impact.report/internal/session"
)

var (
	devMode    = flag.Bool("dev", false, "Run with a synthetic camera instead of real hardware")
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "impact_data.db", "Path to the sqlite database")
	device     = flag.String("device", "/dev/video0", "v4l2 capture device")
	width      = flag.Int("width", 1280, "Capture width in pixels")
	height     = flag.Int("height", 720, "Capture height in pixels")
	fps        = flag.Float64("fps", 15, "Capture frame rate")
	rotation   = flag.Int("rotation", 0, "Frame rotation in degrees (0, 90, 180, 270)")
	configPath = flag.String("config", "", "Path to a JSON tuning config (optional)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	var cam camera.Source
	if *devMode {
		cam = camera.NewMock(camera.MockConfig{Width: *width, Height: *height})
		log.Print("dev mode: using synthetic camera")
	} else {
		var err error
		cam, err = camera.OpenGst(camera.Config{
			Device:         *device,
			Width:          *width,
			Height:         *height,
			FPS:            *fps,
			Rotation:       *rotation,
			CaptureTimeout: tuning.GetCaptureTimeout(),
			OpenRetries:    tuning.GetOpenRetries(),
		})
		if err != nil {
			log.Fatalf("Failed to open camera: %v", err)
		}
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	manager := session.NewManager(cam, database, tuning)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The /api/shutdown endpoint feeds the same path as SIGTERM.
	shutdownRequest := func() {
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(syscall.SIGTERM)
	}

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(api.NewServer(manager, database, shutdownRequest).ServeMux()),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("listening on %s", *listen)

	<-ctx.Done()
	log.Print("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Printf("session shutdown error: %v", err)
	}
	wg.Wait()
	log.Print("goodbye")
}
