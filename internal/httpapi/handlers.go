package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ivr-gateway/internal/callautomation"
	"ivr-gateway/internal/calllog"
	"ivr-gateway/internal/ivr"
	"ivr-gateway/internal/mediastream"
	"ivr-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// CallRecords is the read side of the call log used by the ops API.
type CallRecords interface {
	GetRecord(ctx context.Context, callConnectionID string) (calllog.Record, error)
}

type Handlers struct {
	Service *ivr.Service
	Records CallRecords
	Streams *mediastream.Handler
}

// --- Event Grid webhook ---

// IncomingCall receives the Event Grid notification batch for inbound
// calls. Subscription validation handshakes are answered synchronously;
// call notifications are accepted best effort so one bad entry never
// fails the whole batch.
func (h Handlers) IncomingCall(c *gin.Context) {
	log := logger.FromGin(c)

	var events []callautomation.EventGridEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	for _, ev := range events {
		switch ev.EventType {
		case callautomation.EventTypeSubscriptionValidation:
			var v callautomation.SubscriptionValidationData
			if err := json.Unmarshal(ev.Data, &v); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid validation event"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"validationResponse": v.ValidationCode})
			return

		case callautomation.EventTypeIncomingCall:
			ic, err := callautomation.ParseIncomingCall(ev.Data)
			if err != nil {
				log.Warn("dropping malformed incoming call event", "event_id", ev.ID, "error", err)
				continue
			}
			if err := h.Service.AcceptIncomingCall(c.Request.Context(), ic); err != nil {
				if errors.Is(err, ivr.ErrCapacityExhausted) {
					log.Warn("incoming call rejected over capacity", "caller_id", ic.CallerRawID)
				} else {
					log.Error("failed to answer incoming call", "caller_id", ic.CallerRawID, "error", err)
				}
			}

		default:
			log.Debug("ignoring event grid event", "event_type", ev.EventType)
		}
	}
	c.Status(http.StatusOK)
}

// --- Call Automation callbacks ---

// Callbacks receives the mid-call event batch for one answered call.
// The platform retries on non-2xx, so this always returns 200 once the
// body parses; unroutable events are dropped inside the service.
func (h Handlers) Callbacks(c *gin.Context) {
	var events []callautomation.CloudEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	h.Service.ProcessEvents(c.Request.Context(), events)
	c.Status(http.StatusOK)
}

// --- Ops API ---

func (h Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.Service.Sessions()})
}

func (h Handlers) GetCall(c *gin.Context) {
	id := c.Param("call_connection_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_connection_id required"})
		return
	}
	rec, err := h.Records.GetRecord(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, calllog.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": h.Streams.Stats()})
}
