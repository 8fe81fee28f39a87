package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/internal/payment"
	"github.com/vecinoapp/vecino-core/internal/verification"
)

// Routes configures all verification and payment routes
func Routes(
	router *gin.RouterGroup,
	verifications *verification.Manager,
	payments *payment.Manager,
	logger *zap.Logger,
) {
	handler := NewHandler(verifications, payments, logger)

	router.GET("/health", handler.HealthCheckHandler)

	verificationGroup := router.Group("/verification")
	{
		verificationGroup.POST("/sessions", handler.OpenSessionHandler)
		verificationGroup.GET("/sessions/:id", handler.GetSessionHandler)
		verificationGroup.GET("/sessions/:id/handoff.png", handler.HandoffQRHandler)
		verificationGroup.POST("/sessions/:id/reclassify", handler.ReclassifyHandler)
		verificationGroup.POST("/sessions/:id/confirm", handler.ConfirmStepHandler)
		verificationGroup.POST("/sessions/:id/artifacts", handler.AttachArtifactHandler)
		verificationGroup.POST("/sessions/:id/back", handler.BackHandler)
		verificationGroup.POST("/sessions/:id/submit", handler.SubmitHandler)
		verificationGroup.POST("/sessions/:id/reconcile", handler.ReconcileHandler)
		verificationGroup.DELETE("/sessions/:id", handler.CloseSessionHandler)
	}

	paymentGroup := router.Group("/payments")
	{
		paymentGroup.GET("/confirm", handler.PaymentReturnHandler)
		paymentGroup.GET("/status", handler.PaymentStatusHandler)
		paymentGroup.POST("/continue", handler.PaymentContinueHandler)
	}
}
