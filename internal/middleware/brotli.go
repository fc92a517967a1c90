package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// CompressionConfig controls brotli response compression.
type CompressionConfig struct {
	// Level is the brotli quality, 0..11.
	Level int
	// MinBytes is the smallest body worth compressing. Smaller bodies are
	// written as-is.
	MinBytes int
	// SkipPaths lists request paths that are never compressed.
	SkipPaths []string
}

// DefaultCompressionConfig compresses bodies of at least 1 KiB. An attempt
// view carrying its question snapshot is usually well past that.
var DefaultCompressionConfig = CompressionConfig{
	Level:    brotli.DefaultCompression,
	MinBytes: 1024,
}

// Compress brotli-encodes responses for clients that accept br. The body is
// buffered until MinBytes is reached, then streamed through the encoder.
func Compress(cfg CompressionConfig) gin.HandlerFunc {
	if cfg.Level < brotli.BestSpeed || cfg.Level > brotli.BestCompression {
		cfg.Level = DefaultCompressionConfig.Level
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultCompressionConfig.MinBytes
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok || isStream(c.Request) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		cw := &compressWriter{ResponseWriter: c.Writer, level: cfg.Level, minBytes: cfg.MinBytes}
		c.Writer = cw
		defer func() {
			if err := cw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

type compressWriter struct {
	gin.ResponseWriter
	level    int
	minBytes int
	pending  []byte
	enc      *brotli.Writer
}

func (w *compressWriter) Write(data []byte) (int, error) {
	if w.enc != nil {
		return w.enc.Write(data)
	}

	w.pending = append(w.pending, data...)
	if len(w.pending) < w.minBytes {
		return len(data), nil
	}

	h := w.ResponseWriter.Header()
	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	w.enc = brotli.NewWriterLevel(w.ResponseWriter, w.level)

	if _, err := w.enc.Write(w.pending); err != nil {
		return 0, err
	}
	w.pending = nil
	return len(data), nil
}

func (w *compressWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush pushes buffered bytes to the client, compressed or not.
func (w *compressWriter) Flush() {
	if w.enc != nil {
		_ = w.enc.Flush()
	} else if len(w.pending) > 0 {
		_, _ = w.ResponseWriter.Write(w.pending)
		w.pending = nil
	}
	w.ResponseWriter.Flush()
}

// finish closes the encoder, or writes a short body uncompressed.
func (w *compressWriter) finish() error {
	if w.enc != nil {
		return w.enc.Close()
	}
	if len(w.pending) == 0 {
		return nil
	}
	w.ResponseWriter.Header().Set("Content-Length", strconv.Itoa(len(w.pending)))
	_, err := w.ResponseWriter.Write(w.pending)
	w.pending = nil
	return err
}

// isStream reports requests for the SSE monitor or the attempt socket,
// which must not be buffered.
func isStream(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// acceptsBrotli honours "br" in Accept-Encoding unless it carries q=0.
func acceptsBrotli(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), "br") {
			continue
		}
		q := strings.TrimSpace(params)
		if v, ok := strings.CutPrefix(q, "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f == 0 {
				return false
			}
		}
		return true
	}
	return false
}
