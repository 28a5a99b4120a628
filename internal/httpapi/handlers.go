package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"sagerspace-tracker/internal/models"
	"sagerspace-tracker/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 跟踪服务 HTTP 处理器
type Handler struct {
	tracker Tracker
	logger  *zap.Logger
}

// TrackDetail 航迹详情（地图标记弹窗）
type TrackDetail struct {
	models.TrackSummary
	Trail []models.Coordinate `json:"trail"`
}

// GetMetrics GET /api/metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	counts, err := h.tracker.Metrics(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	writeOk(c, counts)
}

// GetStatus GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	st, err := h.tracker.Status(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	writeOk(c, st)
}

// ListActiveTracks GET /api/tracks
func (h *Handler) ListActiveTracks(c *gin.Context) {
	active, err := h.tracker.ActiveTracks(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	writeOk(c, active)
}

// GetTrack GET /api/tracks/:id
func (h *Handler) GetTrack(c *gin.Context) {
	j, err := h.tracker.Track(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	writeOk(c, TrackDetail{TrackSummary: j.Summary(), Trail: j.Coordinates()})
}

// FocusTrack POST /api/tracks/:id/focus
func (h *Handler) FocusTrack(c *gin.Context) {
	id := c.Param("id")
	if err := h.tracker.Focus(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	writeOk(c, gin.H{"track_id": id})
}

// SelectTrack POST /api/tracks/:id/select
func (h *Handler) SelectTrack(c *gin.Context) {
	id := c.Param("id")
	if err := h.tracker.Select(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	writeOk(c, gin.H{"track_id": id})
}

// ExportActiveTracks GET /api/tracks/export.xlsx
func (h *Handler) ExportActiveTracks(c *gin.Context) {
	active, err := h.tracker.ActiveTracks(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := ExportActiveTracks(active)
	if err != nil {
		h.logger.Error("Failed to export active tracks", zap.Error(err))
		writeFail(c, http.StatusInternalServerError, "failed to export active tracks")
		return
	}

	filename := fmt.Sprintf("active_tracks_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// SearchFlights GET /api/flights/search（历史查询未实现）
func (h *Handler) SearchFlights(c *gin.Context) {
	writeFail(c, http.StatusNotImplemented, "flight history search is not available")
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTrackNotFound):
		writeFail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrServiceStopped):
		writeFail(c, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Tracker request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		writeFail(c, http.StatusInternalServerError, "internal error")
	}
}
