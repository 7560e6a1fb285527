package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"portraitstudio/internal/domain"
	"portraitstudio/internal/fulfillment"
)

const maxWebhookBytes = 1 << 20

type checkoutRequest struct {
	ImageID  string   `json:"imageId"`
	ImageIDs []string `json:"imageIds"`
	Bundle   bool     `json:"bundle"`
}

func (a *App) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, string(domain.KindInvalidRequest), "invalid payload")
		return
	}
	ids := req.ImageIDs
	if strings.TrimSpace(req.ImageID) != "" {
		ids = append([]string{req.ImageID}, ids...)
	}
	res, err := a.Fulfillment.CreateCheckout(r.Context(), fulfillment.CheckoutRequest{ArtifactIDs: ids, Bundle: req.Bundle})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	delivery, err := a.Fulfillment.Download(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", delivery.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", delivery.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(delivery.Data)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(delivery.Data)
}

// Webhook receives payment notifications. The body must be passed on
// untouched for signature verification.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, string(domain.KindInvalidRequest), "could not read body")
		return
	}
	if err := a.Fulfillment.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if domain.KindOf(err) == domain.KindInvalidSignature {
			a.log(r).Warn().Err(err).Msg("webhook rejected")
		}
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"received": true})
}
