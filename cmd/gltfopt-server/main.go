// gltfopt-server - HTTP front end for the GLB optimizer
// POST a binary glTF file to /optimize and get the optimized GLB back,
// with the optimization report in the X-Optimization-Report header.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/optimize"
)

// Config holds the server configuration, read from environment variables
// with an optional .env file.
type Config struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxUploadSize int64
	Defaults      optimize.Options
}

// loadConfig reads configuration from the environment. A missing .env file
// is fine; variables can be set directly.
func loadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	return Config{
		Host:          getEnv("SERVER_HOST", "0.0.0.0"),
		Port:          getEnv("SERVER_PORT", "8080"),
		ReadTimeout:   getDurationEnv("SERVER_READ_TIMEOUT", 60*time.Second),
		WriteTimeout:  getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:   getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		MaxUploadSize: getInt64Env("MAX_UPLOAD_SIZE", 100<<20),
		Defaults:      defaultsFromEnv(),
	}
}

func defaultsFromEnv() optimize.Options {
	opts := optimize.DefaultOptions()
	opts.MaxTextureSize = getIntEnv("MAX_TEXTURE_SIZE", opts.MaxTextureSize)
	opts.TextureFormat = getEnv("TEXTURE_FORMAT", opts.TextureFormat)
	opts.TextureQuality = getIntEnv("TEXTURE_QUALITY", opts.TextureQuality)
	opts.TextureWorkers = getIntEnv("TEXTURE_WORKERS", opts.TextureWorkers)
	opts.PositionBits = getIntEnv("POSITION_BITS", opts.PositionBits)
	opts.NormalBits = getIntEnv("NORMAL_BITS", opts.NormalBits)
	opts.TexcoordBits = getIntEnv("TEXCOORD_BITS", opts.TexcoordBits)
	return opts
}

func main() {
	cfg := loadConfig()
	srv := &server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/optimize", srv.handleOptimize)

	addr := cfg.Host + ":" + cfg.Port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	log.Printf("gltfopt-server listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

type server struct {
	cfg Config
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok","service":"gltfopt-server"}`)
}

// handleOptimize accepts a GLB body and responds with the optimized GLB.
// Pipeline knobs can be overridden per request through query parameters.
func (s *server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "read upload: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	opts := s.optionsFor(r)
	out, report, err := optimize.Optimize(r.Context(), data, opts)
	if err != nil {
		kind := optimize.KindOf(err)
		log.Printf("optimize failed (%s): %v", kind, err)
		http.Error(w, err.Error(), statusFor(kind))
		return
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		http.Error(w, "encode report: "+err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("optimized %d -> %d bytes (%.1f%%, level %s)",
		report.FileSize.Original, report.FileSize.Optimized,
		report.FileSize.ReductionPercent, report.OptimizationLevel)

	w.Header().Set("Content-Type", "model/gltf-binary")
	w.Header().Set("X-Optimization-Report", string(reportJSON))
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *server) optionsFor(r *http.Request) optimize.Options {
	opts := s.cfg.Defaults
	q := r.URL.Query()
	opts.MaxTextureSize = getIntQuery(q.Get("maxTextureSize"), opts.MaxTextureSize)
	if f := q.Get("textureFormat"); f != "" {
		opts.TextureFormat = f
	}
	opts.TextureQuality = getIntQuery(q.Get("textureQuality"), opts.TextureQuality)
	opts.PositionBits = getIntQuery(q.Get("positionBits"), opts.PositionBits)
	opts.NormalBits = getIntQuery(q.Get("normalBits"), opts.NormalBits)
	opts.TexcoordBits = getIntQuery(q.Get("texcoordBits"), opts.TexcoordBits)
	return opts
}

func statusFor(kind optimize.ErrorKind) int {
	switch kind {
	case optimize.ErrDecode:
		return http.StatusBadRequest
	case optimize.ErrRecompression, optimize.ErrCompression, optimize.ErrStage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid value for %s: %q, using %d", key, v, fallback)
	}
	return fallback
}

func getInt64Env(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("Invalid value for %s: %q, using %d", key, v, fallback)
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid value for %s: %q, using %s", key, v, fallback)
	}
	return fallback
}

func getIntQuery(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return fallback
}
