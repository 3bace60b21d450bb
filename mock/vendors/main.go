// Command vendors runs lightweight HTTP mock servers that simulate the
// chat-completion endpoints the monitor probes, plus a vendor status page.
// It is used for local development without real credentials.
//
// Each vendor listens on its own port:
//
//	OpenAI-compatible  :19001
//	Anthropic          :19002
//	Gemini             :19003
//	Status page        :19004
//
// Environment overrides (PORT_<VENDOR>):
//
//	PORT_OPENAI, PORT_ANTHROPIC, PORT_GEMINI, PORT_STATUSPAGE
//
// Behaviour flags (via env):
//
//	MOCK_LATENCY_MS       — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE       — fraction [0,1] of requests that return HTTP 500 (default 0)
//	MOCK_STREAM_WORDS     — words in streaming response (default 10)
//	MOCK_STATUS_INDICATOR — statuspage indicator: none/minor/major/critical (default none)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Config holds runtime configuration shared across all mock servers.
type Config struct {
	LatencyMS       int
	ErrorRate       float64
	StreamWords     int
	StatusIndicator string
}

func loadConfig() Config {
	c := Config{StreamWords: 10, StatusIndicator: "none"}

	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_STREAM_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StreamWords = n
		}
	}
	if v := os.Getenv("MOCK_STATUS_INDICATOR"); v != "" {
		c.StatusIndicator = v
	}
	return c
}

func portFromEnv(key string, defaultPort int) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return strconv.Itoa(defaultPort)
}

func startServer(name, addr string, h http.Handler, log *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info("mock vendor listening", slog.String("vendor", name), slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("vendor", name), slog.String("error", err.Error()))
		}
	}()
	return srv
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	log.Info("starting mock vendors",
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Int("stream_words", cfg.StreamWords),
		slog.String("status_indicator", cfg.StatusIndicator),
	)

	servers := []*http.Server{
		startServer("openai", ":"+portFromEnv("PORT_OPENAI", 19001), newOpenAIHandler(cfg), log),
		startServer("anthropic", ":"+portFromEnv("PORT_ANTHROPIC", 19002), newAnthropicHandler(cfg), log),
		startServer("gemini", ":"+portFromEnv("PORT_GEMINI", 19003), newGeminiHandler(cfg), log),
		startServer("statuspage", ":"+portFromEnv("PORT_STATUSPAGE", 19004), newStatuspageHandler(cfg), log),
	}

	// Print readiness
	fmt.Println("READY")

	// Wait for signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mock vendors")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(s *http.Server) {
			defer wg.Done()
			_ = s.Shutdown(ctx)
		}(srv)
	}
	wg.Wait()
	log.Info("mock vendors stopped")
}
