package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lingvohub/lingvo-engine/internal/application/command"
	"github.com/lingvohub/lingvo-engine/internal/application/query"
	"github.com/lingvohub/lingvo-engine/internal/domain/grading"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/internal/interface/http/handlers"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth returns the aggregated dependency status.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// handleReady reports whether the service can accept traffic.
func (s *Server) handleReady(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "message": status.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// handleLive only proves the process answers.
func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true, "uptime": s.Uptime().Round(time.Second).String()})
}

// handleMetrics renders every registered metrics source.
func (s *Server) handleMetrics(c *gin.Context) {
	out := make(gin.H, len(s.deps.MetricsSources)+1)
	for name, source := range s.deps.MetricsSources {
		out[name] = source()
	}
	out["uptime_seconds"] = int64(s.Uptime().Seconds())
	c.JSON(http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSIONS
// ══════════════════════════════════════════════════════════════════════════════

type submitLessonRequest struct {
	Answers       []grading.SubmittedAnswer `json:"answers"`
	CorrelationID string                    `json:"correlation_id,omitempty"`
}

// handleSubmitLesson grades a submission and applies the level update.
// POST /api/v1/lessons/:lessonId/submissions
func (s *Server) handleSubmitLesson(c *gin.Context) {
	var req submitLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeBindError(c, err)
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = c.GetString(handlers.RequestIDKey)
	}

	res, err := s.deps.SubmitLesson.Handle(c.Request.Context(), command.SubmitLessonCommand{
		UserID:        handlers.CurrentUser(c),
		LessonID:      shared.LessonID(c.Param("lessonId")),
		Answers:       req.Answers,
		CorrelationID: correlationID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, res, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMMENDATIONS
// ══════════════════════════════════════════════════════════════════════════════

// handleListRecommendations returns active recommendations, best first.
// GET /api/v1/recommendations?limit=N
func (s *Server) handleListRecommendations(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handlers.AbortWithError(c, http.StatusBadRequest, "validation_error", "limit must be an integer")
			return
		}
		limit = n
	}

	res, err := s.deps.ListRecommendations.Handle(c.Request.Context(), query.ListRecommendationsQuery{
		UserID: handlers.CurrentUser(c),
		Limit:  limit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, res, &handlers.ResponseMeta{TotalCount: res.Total})
}

// handleRecordRecommendation applies shown / accepted / completed.
// POST /api/v1/recommendations/:id/:transition
func (s *Server) handleRecordRecommendation(c *gin.Context) {
	transition, err := command.ParseTransition(c.Param("transition"))
	if err != nil {
		handlers.AbortWithError(c, http.StatusNotFound, "not_found", "Route not found")
		return
	}

	rec, err := s.deps.RecordRecommendation.Handle(c.Request.Context(), command.RecordRecommendationCommand{
		UserID:           handlers.CurrentUser(c),
		RecommendationID: c.Param("id"),
		Transition:       transition,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, rec, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress returns the learner's level and statistics.
// GET /api/v1/progress
func (s *Server) handleGetProgress(c *gin.Context) {
	dto, err := s.deps.GetProgress.Handle(c.Request.Context(), query.GetProgressQuery{
		UserID: handlers.CurrentUser(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	handlers.WriteJSON(c, http.StatusOK, dto, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps a domain error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsConcurrencyConflict(err):
		return http.StatusServiceUnavailable, "concurrency_conflict"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	_ = c.Error(err)

	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.Operation(c.FullPath()), logger.Err(err))
		message = "An unexpected error occurred"
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
	}
	handlers.AbortWithError(c, status, code, message)
}

func (s *Server) writeBindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		handlers.AbortWithError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body is too large")
		return
	}
	handlers.AbortWithError(c, http.StatusBadRequest, "invalid_json", err.Error())
}
