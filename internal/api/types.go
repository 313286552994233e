package api

import (
	"overlaycast/internal/donations"
	"overlaycast/internal/overlay"
	"overlaycast/internal/preflight"
	"overlaycast/internal/relay"
)

// dateTimeFormat is used for RFC3339 timestamps in status payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DonorRequest is the POST /donors body. Amount is a pointer so a missing
// value can be told apart from zero.
type DonorRequest struct {
	Identifier string   `json:"identifier"`
	Amount     *float64 `json:"amount"`
	Currency   string   `json:"currency,omitempty"`
}

// AlertRequest is the POST /alerts body. Times are RFC 3339.
type AlertRequest struct {
	Message string `json:"message"`
	ShowAt  string `json:"show_at"`
	HideAt  string `json:"hide_at"`
	DonorID *int64 `json:"donor_id,omitempty"`
}

// RankingRequest is the POST /ranking body.
type RankingRequest struct {
	Entries []donations.RankingEntry `json:"entries"`
}

// PaymentLinkRequest is the PUT /payment-link body; absent fields are unchanged.
type PaymentLinkRequest struct {
	URL    *string `json:"url"`
	Label  *string `json:"label"`
	Active *bool   `json:"active"`
}

// PaymentLinkResponse mirrors the stored row. URL and label are null until set.
type PaymentLinkResponse struct {
	URL    *string `json:"url"`
	Label  *string `json:"label"`
	Active bool    `json:"active"`
}

// IDResponse reports the id of a created row.
type IDResponse struct {
	ID int64 `json:"id"`
}

// OKResponse acknowledges a write with no other result.
type OKResponse struct {
	OK bool `json:"ok"`
}

// RestartResponse reports whether a restart was queued.
type RestartResponse struct {
	Queued bool `json:"queued"`
}

// DependencyStatus captures one startup check.
type DependencyStatus struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional"`
	Detail   string `json:"detail,omitempty"`
}

// OverlayStatus summarizes the in-memory overlay and its refresher.
type OverlayStatus struct {
	Ranking             int    `json:"ranking"`
	Alerts              int    `json:"alerts"`
	PaymentLink         bool   `json:"payment_link"`
	Version             uint64 `json:"version"`
	LastRefresh         string `json:"last_refresh,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// StatusResponse aggregates runtime information for `overlaycast status`.
type StatusResponse struct {
	PID          int                `json:"pid"`
	RunID        string             `json:"run_id,omitempty"`
	StoreDriver  string             `json:"store_driver"`
	Destinations string             `json:"destinations"`
	Relay        *relay.Stats       `json:"relay,omitempty"`
	Overlay      OverlayStatus      `json:"overlay"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func fromPaymentLink(link donations.PaymentLink) PaymentLinkResponse {
	resp := PaymentLinkResponse{Active: link.Active}
	if link.URL != "" {
		url := link.URL
		resp.URL = &url
	}
	if link.Label != "" {
		label := link.Label
		resp.Label = &label
	}
	return resp
}

func fromPreflight(results []preflight.Result) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(results))
	for _, r := range results {
		out = append(out, DependencyStatus{
			Name:     r.Name,
			Passed:   r.Passed,
			Optional: r.Optional,
			Detail:   r.Detail,
		})
	}
	return out
}

func fromOverlay(state *overlay.State, version uint64, refresh overlay.RefreshStats) OverlayStatus {
	status := OverlayStatus{
		Version:             version,
		LastError:           refresh.LastError,
		ConsecutiveFailures: refresh.ConsecutiveFailures,
	}
	if state != nil {
		status.Ranking = len(state.Ranking)
		status.Alerts = len(state.Alerts)
		status.PaymentLink = state.PaymentLink != nil
	}
	if !refresh.LastSuccess.IsZero() {
		status.LastRefresh = refresh.LastSuccess.Format(dateTimeFormat)
	}
	return status
}
