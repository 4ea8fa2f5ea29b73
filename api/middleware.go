package api

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

var errInvalidGzip = errors.New("invalid gzip body")

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers can
// work with plain JSON payloads. Decompression starts on the first read, so a
// bad gzip stream surfaces as errInvalidGzip from whoever reads the body.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			req.Body = &gzipReadCloser{body: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	zr   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	if g.zr == nil {
		zr, err := gzip.NewReader(g.body)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", errInvalidGzip, err)
		}
		g.zr = zr
	}
	n, err := g.zr.Read(p)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %v", errInvalidGzip, err)
	}
	return n, err
}

func (g *gzipReadCloser) Close() error {
	var err error
	if g.zr != nil {
		err = g.zr.Close()
	}
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// RequestLogger writes one structured entry per request. Errors are handed to
// the echo error handler first so the logged status is the one sent.
func RequestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := log.Fields{
				"method":     c.Request().Method,
				"route":      c.Path(),
				"status":     status,
				"latency_ms": durationToMillis(time.Since(start)),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if user, ok := c.Get(userContextKey).(string); ok && user != "" {
				fields["user"] = user
			}
			if err != nil {
				fields["error"] = err.Error()
			}

			entry := logger.WithFields(fields)
			switch {
			case status >= http.StatusInternalServerError:
				entry.Error("http.request")
			case status >= http.StatusBadRequest:
				entry.Warn("http.request")
			default:
				entry.Info("http.request")
			}
			return nil
		}
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
