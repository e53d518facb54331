package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/iris-api/internal/middleware"
	"github.com/Brownie44l1/iris-api/internal/model"
)

// Scorer is the part of model.Server the handlers depend on.
type Scorer interface {
	Score(raw []byte) model.Result
	InputName() string
	Labels() []string
}

type Handler struct {
	scorer Scorer
	log    *zap.Logger
}

func NewHandler(scorer Scorer, log *zap.Logger) *Handler {
	return &Handler{
		scorer: scorer,
		log:    log,
	}
}

// Health handles GET / and GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready handles GET /ready.
func (h *Handler) Ready(c *gin.Context) {
	if h.scorer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"input":  h.scorer.InputName(),
		"labels": h.scorer.Labels(),
	})
}

// Score handles POST /score. The body is handed to the model as-is; the
// response is a label array or {"error": msg}.
func (h *Handler) Score(c *gin.Context) {
	if h.scorer == nil {
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: "model not loaded"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		h.respond(c, model.Result{Err: &model.Error{Kind: model.KindRequest, Err: err}})
		return
	}

	h.respond(c, h.scorer.Score(body))
}

func (h *Handler) respond(c *gin.Context, res model.Result) {
	if res.Err != nil {
		kind := model.KindOf(res.Err)
		_ = c.Error(res.Err)
		fields := []zap.Field{
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Stringer("kind", kind),
			zap.Error(res.Err),
		}
		if kind == model.KindRequest {
			h.log.Warn("Scoring request rejected", fields...)
		} else {
			h.log.Error("Scoring failed", fields...)
		}
		c.JSON(StatusFor(kind), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind model.Kind) int {
	switch kind {
	case model.KindRequest:
		return http.StatusBadRequest
	case model.KindConfig, model.KindLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
