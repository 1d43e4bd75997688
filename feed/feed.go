// Package feed serves calculated events over HTTP as a read-only calendar
// subscription, in iCalendar or xCal form.
package feed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/export"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/storage"
)

const (
	contentTypeICS  = "text/calendar; charset=utf-8"
	contentTypeXCal = "application/calendar+xml; charset=utf-8"
)

// Source calculates the events of a window. calendar.Service implements it.
type Source[D any] interface {
	GetCalculated(ctx context.Context, from, to time.Time, data expr.Expr) ([]event.Event[D], error)
}

// Config holds the optional parts of a Handler
type Config[D any] struct {
	// Realm enables Basic authentication when Authenticate is set
	Realm        string
	Authenticate func(user, password string) bool

	// Days is the window length when the request names none. Defaults to 30.
	Days int
	// MaxDays caps the requested window. Defaults to 366.
	MaxDays int
	// Filter is applied to every request
	Filter expr.Expr

	Options export.Options[D]
	Logger  *zap.Logger
	Now     func() time.Time
}

// Handler serves the events of a Source. Query parameters:
//
//	from    RFC 3339 start of the window, default now
//	days    window length in days
//	format  "ics" (default) or "xcal"
type Handler[D any] struct {
	source Source[D]
	config Config[D]
	logger *zap.Logger
}

// NewHandler creates a feed handler over source
func NewHandler[D any](source Source[D], config Config[D]) *Handler[D] {
	if config.Days <= 0 {
		config.Days = 30
	}
	if config.MaxDays <= 0 {
		config.MaxDays = 366
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Realm == "" {
		config.Realm = "librecur"
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler[D]{source: source, config: config, logger: logger.Named("feed")}
}

func (h *Handler[D]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkAuth(w, r) {
		return
	}

	from, to, err := h.window(r)
	if err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	events, err := h.source.GetCalculated(r.Context(), from, to, h.config.Filter)
	if err != nil {
		if storage.HasType(err, storage.ErrInvalidInput) {
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to calculate events", zap.Time("from", from), zap.Time("to", to), zap.Error(err))
		http.Error(w, "Internal Server Error: Unable to calculate events", http.StatusInternalServerError)
		return
	}

	opt := h.config.Options
	if opt.Stamp.IsZero() {
		opt.Stamp = h.config.Now().Truncate(time.Minute)
	}
	var buf bytes.Buffer
	contentType := contentTypeICS
	if wantsXCal(r) {
		contentType = contentTypeXCal
		doc, err := export.XCal(events, opt)
		if err == nil {
			_, err = doc.WriteTo(&buf)
		}
		if err != nil {
			h.logger.Error("failed to render xcal", zap.Error(err))
			http.Error(w, "Internal Server Error: Failed to encode calendar", http.StatusInternalServerError)
			return
		}
	} else if err := export.Encode(&buf, export.ICS(events, opt)); err != nil {
		h.logger.Error("failed to render ics", zap.Error(err))
		http.Error(w, "Internal Server Error: Failed to encode calendar", http.StatusInternalServerError)
		return
	}

	sum := sha256.Sum256(buf.Bytes())
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
	h.logger.Debug("served feed", zap.Int("events", len(events)), zap.Time("from", from), zap.Time("to", to))
}

// window parses the requested range, truncated to minutes
func (h *Handler[D]) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from := h.config.Now()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from %q", v)
		}
		from = t
	}
	days := h.config.Days
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid days %q", v)
		}
		days = n
	}
	if days > h.config.MaxDays {
		return time.Time{}, time.Time{}, fmt.Errorf("window of %d days exceeds the limit of %d", days, h.config.MaxDays)
	}
	from = from.Truncate(time.Minute)
	return from, from.AddDate(0, 0, days), nil
}

func wantsXCal(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "xcal", "xml":
		return true
	case "ics", "ical":
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "application/calendar+xml")
}

// checkAuth enforces Basic authentication when an authenticator is set
func (h *Handler[D]) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.config.Authenticate == nil {
		return true
	}
	user, password, ok := r.BasicAuth()
	if ok && user != "" && h.config.Authenticate(user, password) {
		return true
	}
	h.logger.Info("authentication failed", zap.Bool("credentials", ok), zap.String("user", user))
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, h.config.Realm))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}
