package router

import (
	"github.com/giftwell/fulfillment/internal/alert"
	"github.com/giftwell/fulfillment/internal/autogift"
	"github.com/giftwell/fulfillment/internal/logger"
	"github.com/giftwell/fulfillment/internal/middleware"
	"github.com/giftwell/fulfillment/internal/operator"
	"github.com/giftwell/fulfillment/internal/orchestrator"
	"github.com/giftwell/fulfillment/internal/recovery"
	"github.com/giftwell/fulfillment/internal/release"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(
	orchH *orchestrator.Handler,
	recoveryH *recovery.Handler,
	releaseH *release.Handler,
	autogiftH *autogift.Handler,
	alertH *alert.Handler,
	operatorH *operator.Handler,
	jwtSecret []byte,
) chi.Router {
	r := chi.NewRouter()

	r.Use(logger.WithLogging)
	r.Use(chiMiddleware.Recoverer)

	r.Use(middleware.GzipHandler)

	// Trigger adapters and customer-facing reads.
	r.Post("/api/webhooks/stripe", orchH.StripeWebhook)
	r.Post("/api/orders/{orderID}/process", orchH.ProcessOrder)
	r.Get("/api/orders/{orderID}/status", orchH.OrderStatus)

	// Approval links arrive by email; the one-time token is the credential.
	r.Route("/api/autogift", func(r chi.Router) {
		r.Post("/executions", autogiftH.RecordSelection)
		r.Get("/executions/{executionID}", autogiftH.GetExecution)
		r.Post("/approvals/{token}", autogiftH.Approve)
		r.Post("/rejections/{token}", autogiftH.Reject)
	})

	// Operator surface.
	r.Post("/api/admin/login", operatorH.Login)
	r.Group(func(r chi.Router) {
		r.Use(middleware.OperatorAuth(jwtSecret))

		r.Post("/api/admin/operators", operatorH.CreateOperator)
		r.Post("/api/admin/orders/{orderID}/recover", recoveryH.Recover)
		r.Patch("/api/admin/orders/{orderID}/schedule", releaseH.UpdateOrderDate)
		r.Get("/api/admin/alerts", alertH.ListAlerts)
		r.Post("/api/admin/alerts/{alertID}/resolve", alertH.ResolveAlert)
	})

	return r
}
