package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sagerspace-tracker/internal/metrics"
	"sagerspace-tracker/internal/models"
	"sagerspace-tracker/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) Metrics(ctx context.Context) (metrics.Counts, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(metrics.Counts)
	return counts, args.Error(1)
}

func (m *MockTracker) ActiveTracks(ctx context.Context) ([]models.TrackSummary, error) {
	args := m.Called(ctx)
	active, _ := args.Get(0).([]models.TrackSummary)
	return active, args.Error(1)
}

func (m *MockTracker) Track(ctx context.Context, trackID string) (models.Journey, error) {
	args := m.Called(ctx, trackID)
	return args.Get(0).(models.Journey), args.Error(1)
}

func (m *MockTracker) Focus(ctx context.Context, trackID string) error {
	return m.Called(ctx, trackID).Error(0)
}

func (m *MockTracker) Select(ctx context.Context, trackID string) error {
	return m.Called(ctx, trackID).Error(0)
}

func (m *MockTracker) Status(ctx context.Context) (service.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(service.Status), args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, tracker Tracker, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter(Config{Tracker: tracker})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) Result[T] {
	t.Helper()
	var res Result[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return res
}

func sampleJourney() models.Journey {
	first := models.PositionReport{TrackID: "JO-B001", Lat: 25.20, Lng: 55.27, AltitudeMeters: 100, DisplayName: "Falcon"}
	second := models.PositionReport{TrackID: "JO-B001", Lat: 25.21, Lng: 55.28, AltitudeMeters: 120, HeadingDegrees: 90, DisplayName: "Falcon"}
	return models.Journey{
		TrackID:            "JO-B001",
		History:            []models.PositionReport{first, second},
		Current:            second,
		FirstSeenEpochMs:   1000,
		LastUpdatedEpochMs: 2000,
	}
}

func TestPing(t *testing.T) {
	w := serve(t, &MockTracker{}, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestGetMetrics(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("Metrics", mock.Anything).Return(metrics.Counts{models.CategoryCleared: 1, models.CategoryRestricted: 0}, nil)

	w := serve(t, tracker, http.MethodGet, "/api/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	res := decode[map[string]int](t, w)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, map[string]int{"cleared": 1, "restricted": 0}, res.Result)
	tracker.AssertExpectations(t)
}

func TestGetTrack(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("Track", mock.Anything, "JO-B001").Return(sampleJourney(), nil)
	tracker.On("Track", mock.Anything, "JO-X999").Return(models.Journey{}, service.ErrTrackNotFound)

	w := serve(t, tracker, http.MethodGet, "/api/tracks/JO-B001")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[TrackDetail](t, w)
	assert.Equal(t, "JO-B001", res.Result.TrackID)
	assert.Equal(t, "Falcon", res.Result.DisplayName)
	assert.Equal(t, 120.0, res.Result.AltitudeMeters)
	assert.Equal(t, 90.0, res.Result.HeadingDegrees)
	assert.Equal(t, models.CategoryCleared, res.Result.Category)
	assert.Len(t, res.Result.Trail, 2)

	w = serve(t, tracker, http.MethodGet, "/api/tracks/JO-X999")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ResultError, decode[any](t, w).Code)
}

func TestFocusAndSelect(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("Focus", mock.Anything, "JO-B001").Return(nil)
	tracker.On("Select", mock.Anything, "JO-B001").Return(nil)
	tracker.On("Focus", mock.Anything, "JO-X999").Return(service.ErrTrackNotFound)

	assert.Equal(t, http.StatusOK, serve(t, tracker, http.MethodPost, "/api/tracks/JO-B001/focus").Code)
	assert.Equal(t, http.StatusOK, serve(t, tracker, http.MethodPost, "/api/tracks/JO-B001/select").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, tracker, http.MethodPost, "/api/tracks/JO-X999/focus").Code)
	tracker.AssertExpectations(t)
}

func TestListActiveTracks_ServiceStopped(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("ActiveTracks", mock.Anything).Return(nil, service.ErrServiceStopped)

	w := serve(t, tracker, http.MethodGet, "/api/tracks")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetStatus_InternalError(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("Status", mock.Anything).Return(service.Status{}, errors.New("boom"))

	w := serve(t, tracker, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode[any](t, w).Message)
}

func TestExportActiveTracks(t *testing.T) {
	tracker := &MockTracker{}
	tracker.On("ActiveTracks", mock.Anything).Return([]models.TrackSummary{sampleJourney().Summary()}, nil)

	w := serve(t, tracker, http.MethodGet, "/api/tracks/export.xlsx")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "active_tracks_")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Registration", rows[0][0])
	assert.Equal(t, "JO-B001", rows[1][0])
	assert.Equal(t, "cleared", rows[1][5])
	tracker.AssertNotCalled(t, "Track", mock.Anything, "export.xlsx")
}

func TestSearchFlightsNotImplemented(t *testing.T) {
	w := serve(t, &MockTracker{}, http.MethodGet, "/api/flights/search")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	w := serve(t, &MockTracker{}, http.MethodOptions, "/api/tracks")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
