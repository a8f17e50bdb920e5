package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"coursepay/internal/metrics"
	"coursepay/internal/service"
	"coursepay/pkg/response"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries "sha256=<hex hmac>" of a Fanbases webhook body.
const SignatureHeader = "X-Fanbases-Signature"

const maxWebhookBody = 1 << 20

// knownEvents bounds the event label of the webhook metrics; anything else
// is counted as "other".
var knownEvents = map[string]bool{
	service.ThriveCartOrderSuccess:          true,
	service.ThriveCartOrderRefund:           true,
	service.ThriveCartSubscriptionPayment:   true,
	service.ThriveCartSubscriptionCancelled: true,
	service.ThriveCartSubscriptionPaused:    true,
	"subscription.payment":                  true,
	"order.rebill":                          true,
	service.FanbasesPaymentSucceeded:        true,
	service.FanbasesChargeSucceeded:         true,
	service.FanbasesCheckoutCompleted:       true,
	service.FanbasesSubscriptionCanceled:    true,
	service.FanbasesSubscriptionPaused:      true,
}

func eventLabel(event string) string {
	event = strings.ToLower(strings.TrimSpace(event))
	if event == "" {
		return ""
	}
	if knownEvents[event] {
		return event
	}
	return "other"
}

// ThriveCartWebhook handles order events for every ThriveCart product.
// POST /webhooks/thrivecart
func (h *Handler) ThriveCartWebhook(c *gin.Context) {
	h.handleThriveCart(c, response.ProviderThriveCart, false)
}

// TopupWebhook accepts credit top-up products only.
// POST /webhooks/topup
func (h *Handler) TopupWebhook(c *gin.Context) {
	h.handleThriveCart(c, response.ProviderTopup, true)
}

func (h *Handler) handleThriveCart(c *gin.Context, p response.Provider, topupOnly bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveWebhookLatency(string(p), float64(time.Since(start).Milliseconds()))
	}()

	ev, err := parseThriveCart(c)
	if err != nil {
		metrics.IncWebhookEvent(string(p), "", "rejected")
		response.ParamError(c, "invalid payload")
		return
	}

	result, err := h.thrivecart.Handle(c.Request.Context(), ev, topupOnly)
	if err != nil {
		label := eventLabel(ev.Event)
		if kind := service.KindOf(err); kind == service.KindForbidden || kind == service.KindConfig {
			// the secret was not verified
			label = ""
		}
		metrics.IncWebhookEvent(string(p), label, failureOutcome(err))
		h.writeError(c, p, err)
		return
	}
	metrics.IncWebhookEvent(string(p), eventLabel(ev.Event), result.Outcome)
	c.JSON(http.StatusOK, result)
}

// parseThriveCart reads either a form encoded body with bracket keys or a
// JSON object.
func parseThriveCart(c *gin.Context) (*service.ThriveCartEvent, error) {
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var m map[string]interface{}
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		return service.ThriveCartEventFromMap(m), nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	return service.ParseThriveCartForm(c.Request.PostForm), nil
}

// ThriveCartHealth lets the provider probe the endpoint.
// GET /webhooks/thrivecart
func (h *Handler) ThriveCartHealth(c *gin.Context) {
	h.Health(c)
}

// HEAD /webhooks/thrivecart
func (h *Handler) ThriveCartHead(c *gin.Context) {
	c.Status(http.StatusOK)
}

// FanbasesWebhook verifies the body signature before decoding anything.
// POST /webhooks/fanbases
func (h *Handler) FanbasesWebhook(c *gin.Context) {
	const p = response.ProviderFanbases
	start := time.Now()
	defer func() {
		metrics.ObserveWebhookLatency(string(p), float64(time.Since(start).Milliseconds()))
	}()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ParamError(c, "invalid payload")
		return
	}
	if err := h.fanbases.VerifySignature(body, c.GetHeader(SignatureHeader)); err != nil {
		metrics.IncWebhookEvent(string(p), "", failureOutcome(err))
		h.writeError(c, p, err)
		return
	}

	var ev service.FanbasesWebhook
	if err := json.Unmarshal(body, &ev); err != nil || ev.Event == "" {
		metrics.IncWebhookEvent(string(p), "", "rejected")
		response.ParamError(c, "invalid payload")
		return
	}

	result, err := h.fanbases.HandleWebhook(c.Request.Context(), &ev)
	if err != nil {
		metrics.IncWebhookEvent(string(p), eventLabel(ev.Event), failureOutcome(err))
		h.writeError(c, p, err)
		return
	}
	metrics.IncWebhookEvent(string(p), eventLabel(ev.Event), result.Outcome)
	c.JSON(http.StatusOK, result)
}

func failureOutcome(err error) string {
	if service.KindOf(err).Rejects() {
		return "rejected"
	}
	return "error"
}
