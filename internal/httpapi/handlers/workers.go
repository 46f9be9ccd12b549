package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scoutkit/creator-pipeline/internal/common"
	"github.com/scoutkit/creator-pipeline/internal/discovery"
	"github.com/scoutkit/creator-pipeline/internal/observability"
	"github.com/scoutkit/creator-pipeline/internal/queue"
)

const ledgerSource = "pushqueue"

// deliveryURL rebuilds the exact URL this request was delivered to. The
// signature must be checked against the inbound URL, never a configured one:
// that is what stops a message signed for one endpoint being replayed at
// another.
func deliveryURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}

func (h *Handler) SearchWorker(c *gin.Context) {
	h.runWorker(c, "search", queue.TypeSearch, func(ctx context.Context, msg *queue.Message) (any, error) {
		outcome, err := h.Jobs.HandleSearch(ctx, msg)
		if err != nil {
			return nil, err
		}
		observability.CreatorsDiscovered.Add(float64(outcome.NewCreators))
		if outcome.Action != "terminal_noop" {
			observability.JobsTransitioned.WithLabelValues(string(outcome.Status)).Inc()
		}
		return outcome, nil
	})
}

func (h *Handler) EnrichWorker(c *gin.Context) {
	h.runWorker(c, "enrich", queue.TypeEnrich, func(ctx context.Context, msg *queue.Message) (any, error) {
		return h.Jobs.HandleEnrich(ctx, msg)
	})
}

func (h *Handler) MonitorWorker(c *gin.Context) {
	h.runWorker(c, "monitor", queue.TypeMonitor, func(ctx context.Context, msg *queue.Message) (any, error) {
		return h.Jobs.HandleMonitor(ctx, msg)
	})
}

// runWorker is the shared preamble and postamble around every queue-delivered
// callback. Order matters: signature, then payload shape, and only then any
// job state or ledger write. A forged or malformed message must leave no
// trace.
//
// Business failures are answered with 200: the queue's retry budget is for
// transport faults, not for re-running a search the provider already rejected.
func (h *Handler) runWorker(c *gin.Context, worker string, want queue.Type, run func(ctx context.Context, msg *queue.Message) (any, error)) {
	start := time.Now()
	defer func() {
		observability.WorkerDuration.WithLabelValues(worker).Observe(time.Since(start).Seconds())
	}()

	body, err := c.GetRawData()
	if err != nil {
		observability.MessagesProcessed.WithLabelValues(worker, "rejected").Inc()
		common.Fail(c, http.StatusBadRequest, 10010, "unreadable body")
		return
	}

	token := c.GetHeader(queue.HeaderSignature)
	if err := h.Signer.Verify(token, deliveryURL(c), body); err != nil {
		observability.MessagesProcessed.WithLabelValues(worker, "rejected").Inc()
		h.Logger.Warn("rejected unsigned or mis-signed delivery",
			"worker", worker, "url", deliveryURL(c), "error", err)
		common.Fail(c, http.StatusUnauthorized, 40110, "invalid signature")
		return
	}

	var msg queue.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		observability.MessagesProcessed.WithLabelValues(worker, "rejected").Inc()
		common.Fail(c, http.StatusBadRequest, 10011, "invalid json")
		return
	}
	if msg.Type != want {
		observability.MessagesProcessed.WithLabelValues(worker, "rejected").Inc()
		common.Fail(c, http.StatusBadRequest, 10012, "message type does not match endpoint")
		return
	}
	if err := msg.Validate(); err != nil {
		observability.MessagesProcessed.WithLabelValues(worker, "rejected").Inc()
		common.Fail(c, http.StatusBadRequest, 10013, err.Error())
		return
	}

	eventID := c.GetHeader(queue.HeaderMessageID)
	if eventID == "" {
		observability.MessagesProcessed.WithLabelValues(worker, "rejected").Inc()
		common.Fail(c, http.StatusBadRequest, 10014, "missing message id")
		return
	}

	ctx := c.Request.Context()
	decision := h.Ledger.Check(ctx, eventID, ledgerSource, string(msg.Type), body)
	if !decision.ShouldProcess {
		observability.MessagesProcessed.WithLabelValues(worker, "duplicate").Inc()
		common.OK(c, gin.H{
			"duplicate": true,
			"reason":    decision.Reason,
			"event_id":  eventID,
		})
		return
	}

	result, err := run(ctx, &msg)
	if err != nil {
		if errors.Is(err, discovery.ErrJobNotFound) {
			// The job is gone for good; complete the event so redeliveries
			// stop at the ledger.
			if mErr := h.Ledger.MarkCompleted(ctx, eventID); mErr != nil {
				h.Logger.Error("ledger mark completed failed", "event_id", eventID, "error", mErr)
			}
			observability.MessagesProcessed.WithLabelValues(worker, "failed").Inc()
			c.JSON(http.StatusOK, gin.H{"code": 40402, "message": "job not found", "data": nil})
			return
		}

		if mErr := h.Ledger.MarkFailed(ctx, eventID, err.Error()); mErr != nil {
			h.Logger.Error("ledger mark failed failed", "event_id", eventID, "error", mErr)
		}
		if h.Cache != nil {
			_ = h.Cache.InvalidateJobStatus(ctx, msg.JobID)
		}
		observability.MessagesProcessed.WithLabelValues(worker, "failed").Inc()
		h.Logger.Error("worker business failure",
			"worker", worker, "job_id", msg.JobID, "event_id", eventID, "error", err)
		c.JSON(http.StatusOK, gin.H{"code": 50010, "message": err.Error(), "data": nil})
		return
	}

	if mErr := h.Ledger.MarkCompleted(ctx, eventID); mErr != nil {
		h.Logger.Error("ledger mark completed failed", "event_id", eventID, "error", mErr)
	}
	if h.Cache != nil {
		_ = h.Cache.InvalidateJobStatus(ctx, msg.JobID)
	}
	observability.MessagesProcessed.WithLabelValues(worker, "processed").Inc()
	common.OK(c, result)
}
