package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/export"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

type note struct {
	Title string
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetCalculated(ctx context.Context, from, to time.Time, data expr.Expr) ([]event.Event[note], error) {
	args := m.Called(ctx, from, to, data)
	events, _ := args.Get(0).([]event.Event[note])
	return events, args.Error(1)
}

var now = time.Date(2024, time.May, 6, 8, 30, 45, 0, time.UTC)

func newHandler(source Source[note], configure func(*Config[note])) *Handler[note] {
	cfg := Config[note]{
		Days:    7,
		MaxDays: 31,
		Options: export.Options[note]{Summary: func(n note) string { return n.Title }},
		Now:     func() time.Time { return now },
	}
	if configure != nil {
		configure(&cfg)
	}
	return NewHandler(source, cfg)
}

func sampleEvents() []event.Event[note] {
	start := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	return []event.Event[note]{{
		ID:     uuid.New(),
		Kind:   event.KindOneTime,
		Period: recurrence.MustPeriod(start, start.Add(time.Hour)),
		Data:   note{"retro"},
	}}
}

func TestServeHTTP(t *testing.T) {
	from := now.Truncate(time.Minute)

	tests := []struct {
		name           string
		method         string
		target         string
		headers        map[string]string
		setupMocks     func(m *mockSource)
		expectedStatus int
		checkResponse  func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:   "default window as ics",
			method: http.MethodGet,
			target: "/feed.ics",
			setupMocks: func(m *mockSource) {
				m.On("GetCalculated", mock.Anything, from, from.AddDate(0, 0, 7), expr.Expr(nil)).Return(sampleEvents(), nil)
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, contentTypeICS, rec.Header().Get("Content-Type"))
				assert.NotEmpty(t, rec.Header().Get("ETag"))
				assert.Contains(t, rec.Body.String(), "SUMMARY:retro")
				assert.Contains(t, rec.Body.String(), "DTSTART:20240507T090000Z")
			},
		},
		{
			name:   "explicit window as xcal",
			method: http.MethodGet,
			target: "/feed?from=2024-05-01T00:00:00Z&days=3&format=xcal",
			setupMocks: func(m *mockSource) {
				start := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
				m.On("GetCalculated", mock.Anything, start, start.AddDate(0, 0, 3), expr.Expr(nil)).Return(sampleEvents(), nil)
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, contentTypeXCal, rec.Header().Get("Content-Type"))
				assert.Contains(t, rec.Body.String(), "<date-time>2024-05-07T09:00:00Z</date-time>")
			},
		},
		{
			name:    "xcal by accept header",
			method:  http.MethodGet,
			target:  "/feed",
			headers: map[string]string{"Accept": "application/calendar+xml"},
			setupMocks: func(m *mockSource) {
				m.On("GetCalculated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sampleEvents(), nil)
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, contentTypeXCal, rec.Header().Get("Content-Type"))
			},
		},
		{
			name:   "head has no body",
			method: http.MethodHead,
			target: "/feed",
			setupMocks: func(m *mockSource) {
				m.On("GetCalculated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sampleEvents(), nil)
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.NotEqual(t, "0", rec.Header().Get("Content-Length"))
				assert.Empty(t, rec.Body.String())
			},
		},
		{
			name:           "method not allowed",
			method:         http.MethodPost,
			target:         "/feed",
			setupMocks:     func(m *mockSource) {},
			expectedStatus: http.StatusMethodNotAllowed,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
			},
		},
		{
			name:           "malformed days",
			method:         http.MethodGet,
			target:         "/feed?days=-1",
			setupMocks:     func(m *mockSource) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "window too long",
			method:         http.MethodGet,
			target:         "/feed?days=32",
			setupMocks:     func(m *mockSource) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed from",
			method:         http.MethodGet,
			target:         "/feed?from=yesterday",
			setupMocks:     func(m *mockSource) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "invalid input from the source",
			method: http.MethodGet,
			target: "/feed",
			setupMocks: func(m *mockSource) {
				m.On("GetCalculated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, storage.InvalidInput(nil, "bad filter"))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "source failure",
			method: http.MethodGet,
			target: "/feed",
			setupMocks: func(m *mockSource) {
				m.On("GetCalculated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, errors.New("connection refused"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &mockSource{}
			tt.setupMocks(source)
			h := newHandler(source, nil)

			req := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.checkResponse != nil {
				tt.checkResponse(t, rec)
			}
			source.AssertExpectations(t)
		})
	}
}

func TestETag(t *testing.T) {
	source := &mockSource{}
	source.On("GetCalculated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sampleEvents(), nil)
	h := newHandler(source, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.True(t, strings.HasPrefix(etag, `"`))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	source := &mockSource{}
	source.On("GetCalculated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(sampleEvents(), nil)
	h := newHandler(source, func(c *Config[note]) {
		c.Realm = "team calendar"
		c.Authenticate = func(user, password string) bool { return user == "alice" && password == "secret" }
	})

	tests := []struct {
		name           string
		user, password string
		setAuth        bool
		expectedStatus int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "alice", "guess", true, http.StatusUnauthorized},
		{"empty user", "", "secret", true, http.StatusUnauthorized},
		{"valid", "alice", "secret", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/feed", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.password)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="team calendar"`, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
