package renewal

import (
	"context"
	"errors"
	"net/http"

	"edge_certd/internal/httpx"
	"edge_certd/internal/renewal"

	"github.com/gin-gonic/gin"
)

// Renewer triggers renewal runs. Satisfied by the renewal coordinator.
type Renewer interface {
	RunRenewal(ctx context.Context, forced bool) (bool, error)
	InProgress() bool
}

// Notifier publishes fire-and-forget status events
type Notifier interface {
	PublishStatusEvent(ctx context.Context, text string) error
}

// Handler handles certificate renewal API requests
type Handler struct {
	renewer  Renewer
	notifier Notifier
}

// NewHandler creates a new handler
func NewHandler(renewer Renewer, notifier Notifier) *Handler {
	return &Handler{
		renewer:  renewer,
		notifier: notifier,
	}
}

// Force handles POST /api/v1/renewal/force. The run executes synchronously
// and can legitimately occupy many minutes; the caller must not impose a
// shorter timeout. The run itself is detached from the request context so
// a client disconnect cannot cancel it mid-pipeline.
func (h *Handler) Force(c *gin.Context) {
	if h.renewer.InProgress() {
		httpx.FailErr(c, httpx.ErrStateConflict("certificate renewal already in progress"))
		return
	}

	ctx := context.Background()

	// Fire-and-forget trigger notification
	_ = h.notifier.PublishStatusEvent(ctx, "Forced cert renewal triggered")

	renewed, err := h.renewer.RunRenewal(ctx, true)
	if err != nil {
		if errors.Is(err, renewal.ErrRenewalInProgress) {
			httpx.FailErr(c, httpx.ErrStateConflict("certificate renewal already in progress"))
			return
		}
		var cfgErr *renewal.ConfigurationError
		if errors.As(err, &cfgErr) {
			httpx.FailErr(c, httpx.ErrParamInvalid(cfgErr.Error()))
			return
		}
		httpx.FailErr(c, httpx.ErrInternalError("certificate renewal failed", err))
		return
	}

	httpx.OK(c, gin.H{"renewed": renewed})
}

// Status handles GET /api/v1/renewal/status
func (h *Handler) Status(c *gin.Context) {
	httpx.OK(c, gin.H{"inProgress": h.renewer.InProgress()})
}

// Health handles GET /health, mirroring the platform's expectations for
// microservice health probes
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
