package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/internal/payment"
	"github.com/vecinoapp/vecino-core/internal/verification"
)

// maxArtifactBytes bounds a single capture upload.
const maxArtifactBytes = 10 << 20

// Handler provides HTTP handlers for verification sessions and payment
// confirmations
type Handler struct {
	verifications *verification.Manager
	payments      *payment.Manager
	logger        *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(verifications *verification.Manager, payments *payment.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		verifications: verifications,
		payments:      payments,
		logger:        logger,
	}
}

func (h *Handler) traceID(c *gin.Context) string {
	traceID := c.GetHeader("X-Trace-ID")
	if traceID == "" {
		traceID = uuid.New().String()
		c.Header("X-Trace-ID", traceID)
	}
	return traceID
}

// OpenSessionRequest opens a verification surface.
type OpenSessionRequest struct {
	Email         string `json:"email" binding:"omitempty,email"`
	UserAgent     string `json:"userAgent"`
	ViewportWidth int    `json:"viewportWidth" binding:"gte=0"`
	PageURL       string `json:"pageUrl" binding:"omitempty,absoluteurl"`
}

// OpenSessionHandler creates a verification session for the calling surface
// and starts watching the remote status.
func (h *Handler) OpenSessionHandler(c *gin.Context) {
	traceID := h.traceID(c)

	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "INVALID_REQUEST",
			"message":  "Invalid request format",
			"details":  err.Error(),
			"trace_id": traceID,
		})
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}

	s, err := h.verifications.Open(verification.OpenRequest{
		Email:         req.Email,
		UserAgent:     req.UserAgent,
		ViewportWidth: req.ViewportWidth,
		PageURL:       req.PageURL,
	})
	if err != nil {
		h.logger.Error("Failed to open verification session",
			zap.String("trace_id", traceID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "SESSION_OPEN_FAILED",
			"message":  "Could not open verification session",
			"trace_id": traceID,
		})
		return
	}

	// only the handoff surface polls; a capable device reconciles on open
	// and again on demand
	if s.Snapshot().Capable {
		if _, err := s.Reconcile(c.Request.Context()); err != nil {
			h.logger.Warn("Initial reconcile failed",
				zap.String("trace_id", traceID),
				zap.String("session_id", s.ID().String()),
				zap.Error(err))
		}
	} else {
		// the watch is session-scoped, not request-scoped: it runs until
		// the status turns terminal or the session is closed
		if err := s.Watch(context.Background()); err != nil {
			h.logger.Warn("Verification watch did not start",
				zap.String("trace_id", traceID),
				zap.String("session_id", s.ID().String()),
				zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, s.Snapshot())
}

func (h *Handler) session(c *gin.Context, traceID string) (*verification.Session, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "INVALID_SESSION_ID",
			"message":  "Session id must be a UUID",
			"trace_id": traceID,
		})
		return nil, false
	}
	s, err := h.verifications.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "SESSION_NOT_FOUND",
			"message":  "Verification session not found",
			"trace_id": traceID,
		})
		return nil, false
	}
	return s, true
}

// GetSessionHandler returns the current session snapshot.
func (h *Handler) GetSessionHandler(c *gin.Context) {
	traceID := h.traceID(c)
	s, ok := h.session(c, traceID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// HandoffQRHandler renders the session's handoff link as a PNG code.
func (h *Handler) HandoffQRHandler(c *gin.Context) {
	traceID := h.traceID(c)
	s, ok := h.session(c, traceID)
	if !ok {
		return
	}
	png, err := s.HandoffQR()
	if err != nil {
		h.logger.Error("Handoff code render failed",
			zap.String("trace_id", traceID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "QR_RENDER_FAILED",
			"message":  "Could not render handoff code",
			"trace_id": traceID,
		})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// ReclassifyRequest carries a new viewport width after a resize.
type ReclassifyRequest struct {
	ViewportWidth int `json:"viewportWidth" binding:"gte=0"`
}

// ReclassifyHandler re-runs device classification for the session.
func (h *Handler) ReclassifyHandler(c *gin.Context) {
	traceID := h.traceID(c)
	s, ok := h.session(c, traceID)
	if !ok {
		return
	}
	var req ReclassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "INVALID_REQUEST",
			"message":  "Invalid request format",
			"trace_id": traceID,
		})
		return
	}
	s.Reclassify(req.ViewportWidth)
	c.JSON(http.StatusOK, s.Snapshot())
}

// ConfirmStepHandler acknowledges the info step.
func (h *Handler) ConfirmStepHandler(c *gin.Context) {
	traceID := h.traceID(c)
	s, ok := h.session(c, traceID)
	if !ok {
		return
	}
	if err := s.Confirm(); err != nil {
		h.wizardError(c, traceID, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// AttachArtifactHandler stores the uploaded capture in the current wizard
// slot and advances.
func (h *Handler) AttachArtifactHandler(c *gin.Context) {
	traceID := h.traceID(c)
	s, ok := h.session(c, traceID)
	if !ok {
		return
	}

	file, err := c.FormFile("artifact")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "MISSING_ARTIFACT",
			"message":  "Multipart field 'artifact' is required",
			"trace_id": traceID,
		})
		return
	}
	if file.Size > maxArtifactBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":    "ARTIFACT_TOO_LARGE",
			"message":  "Artifact exceeds the upload limit",
			"trace_id": traceID,
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "UNREADABLE_ARTIFACT",
			"message":  "Could not read uploaded artifact",
			"trace_id": traceID,
		})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, maxArtifactBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "UNREADABLE_ARTIFACT",
			"message":  "Could not read uploaded artifact",
			"trace_id": traceID,
		})
		return
	}

	if err := s.Attach(data); err != nil {
		h.wizardError(c, traceID, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// BackHandler moves the wizard one capture step backwards.
func (h *Handler) BackHandler(c *gin.Context) {
	traceID := h.traceID(c)
	s, ok := h.session(c, traceID)
	if !ok {
		return
	}
	if err := s.Back(); err != nil {
		h.wizardError(c, traceID, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// SubmitHandler sends the captured documents upstream.
func (h *Handler) SubmitHandler(c *gin.Context) {
	traceID := h.traceID(c)
	s, ok := h.session(c, traceID)
	if !ok {
		return
	}
	if err := s.Submit(c.Request.Context()); err != nil {
		if errors.Is(err, verification.ErrInvalidTransition) || errors.Is(err, verification.ErrSessionClosed) {
			h.wizardError(c, traceID, err)
			return
		}
		// upload failed; the session already recycled to a retryable state
		h.logger.Warn("Verification submission failed",
			zap.String("trace_id", traceID),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "SUBMIT_FAILED",
			"message":  "Document submission failed, capture can be retried",
			"trace_id": traceID,
			"session":  s.Snapshot(),
		})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// ReconcileHandler fetches the remote verification status and applies it.
func (h *Handler) ReconcileHandler(c *gin.Context) {
	traceID := h.traceID(c)
	s, ok := h.session(c, traceID)
	if !ok {
		return
	}
	if _, err := s.Reconcile(c.Request.Context()); err != nil {
		h.wizardError(c, traceID, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// CloseSessionHandler tears the session down.
func (h *Handler) CloseSessionHandler(c *gin.Context) {
	traceID := h.traceID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "INVALID_SESSION_ID",
			"message":  "Session id must be a UUID",
			"trace_id": traceID,
		})
		return
	}
	if err := h.verifications.Close(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "SESSION_NOT_FOUND",
			"message":  "Verification session not found",
			"trace_id": traceID,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) wizardError(c *gin.Context, traceID string, err error) {
	switch {
	case errors.Is(err, verification.ErrSessionClosed):
		c.JSON(http.StatusGone, gin.H{
			"error":    "SESSION_CLOSED",
			"message":  "Verification session already closed",
			"trace_id": traceID,
		})
	case errors.Is(err, verification.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "INVALID_TRANSITION",
			"message":  err.Error(),
			"trace_id": traceID,
		})
	case errors.Is(err, verification.ErrEmptyArtifact):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "EMPTY_ARTIFACT",
			"message":  "Uploaded artifact is empty",
			"trace_id": traceID,
		})
	default:
		h.logger.Error("Verification operation failed",
			zap.String("trace_id", traceID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "OPERATION_FAILED",
			"message":  "Verification operation failed",
			"trace_id": traceID,
		})
	}
}

// PaymentReturnHandler is the redirect-return landing: it resolves (or
// reattaches to) the confirmation for the token in the query and returns its
// current view. An absent token resolves to an immediately failed view.
func (h *Handler) PaymentReturnHandler(c *gin.Context) {
	traceID := h.traceID(c)

	confirmation, err := h.payments.Resolve(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.logger.Error("Failed to resolve payment confirmation",
			zap.String("trace_id", traceID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "CONFIRMATION_FAILED",
			"message":  "Could not resolve payment confirmation",
			"trace_id": traceID,
		})
		return
	}
	c.JSON(http.StatusOK, confirmation.Snapshot())
}

// PaymentStatusHandler returns the current view for an already-resolved
// token without creating a new confirmation.
func (h *Handler) PaymentStatusHandler(c *gin.Context) {
	traceID := h.traceID(c)

	confirmation, ok := h.payments.Get(c.Query("token"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "CONFIRMATION_NOT_FOUND",
			"message":  "No confirmation in progress for this token",
			"trace_id": traceID,
		})
		return
	}
	c.JSON(http.StatusOK, confirmation.Snapshot())
}

// ContinueRequest names the token whose armed continuation should fire.
type ContinueRequest struct {
	Token string `json:"token" binding:"required"`
}

// PaymentContinueHandler fires the armed continuation exactly once and
// returns the action the client should perform.
func (h *Handler) PaymentContinueHandler(c *gin.Context) {
	traceID := h.traceID(c)

	var req ContinueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "INVALID_REQUEST",
			"message":  "Invalid request format",
			"trace_id": traceID,
		})
		return
	}

	confirmation, ok := h.payments.Get(req.Token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "CONFIRMATION_NOT_FOUND",
			"message":  "No confirmation in progress for this token",
			"trace_id": traceID,
		})
		return
	}

	action, err := confirmation.Confirm(c.Request.Context())
	if err != nil {
		if errors.Is(err, payment.ErrNoContinuation) {
			c.JSON(http.StatusConflict, gin.H{
				"error":    "NO_CONTINUATION",
				"message":  "No continuation armed for this token",
				"trace_id": traceID,
			})
			return
		}
		h.logger.Error("Failed to fire payment continuation",
			zap.String("trace_id", traceID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "CONTINUATION_FAILED",
			"message":  "Could not fire payment continuation",
			"trace_id": traceID,
		})
		return
	}
	c.JSON(http.StatusOK, action)
}

// HealthCheckHandler reports liveness.
func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "vecino-core",
	})
}
