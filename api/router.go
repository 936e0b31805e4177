// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgeo-scada/canopen"
)

// HealthResponse is the JSON response of GET /health.
type HealthResponse struct {
	Session string `json:"session"`
	State   string `json:"state"`
	Online  bool   `json:"online"`
}

// ReadingResponse is one cached value.
type ReadingResponse struct {
	Address   string      `json:"address"`
	Name      string      `json:"name,omitempty"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Timestamp string      `json:"timestamp"`
}

// SubscriptionRequest is the body of POST /subscriptions.
type SubscriptionRequest struct {
	Address  string `json:"address"`
	Interval string `json:"interval"`
}

// SubscriptionResponse describes one subscription.
type SubscriptionResponse struct {
	Address  string `json:"address"`
	Interval string `json:"interval"`
	NextDue  string `json:"next_due,omitempty"`
}

type handlers struct {
	sess    Session
	dir     *canopen.Directory
	metrics *canopen.Metrics
}

// NewRouter builds the API routes.
func NewRouter(sess Session, dir *canopen.Directory, metrics *canopen.Metrics) chi.Router {
	h := &handlers{sess: sess, dir: dir, metrics: metrics}

	r := chi.NewRouter()
	r.Get("/health", h.handleHealth)
	r.Get("/readings", h.handleReadings)
	r.Get("/metrics", h.handleMetrics)
	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", h.handleListSubscriptions)
		r.Post("/", h.handleSubscribe)
		r.Delete("/{address}", h.handleUnsubscribe)
	})
	return r
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := h.sess.HealthState()
	writeJSON(w, http.StatusOK, HealthResponse{
		Session: h.sess.SessionID(),
		State:   state.String(),
		Online:  state == canopen.HealthConnected,
	})
}

func (h *handlers) handleReadings(w http.ResponseWriter, r *http.Request) {
	out := []ReadingResponse{}
	if h.dir == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}
	for _, e := range h.dir.Entries() {
		if !e.HasValue() {
			continue
		}
		v, err := canopen.DecodeValue(e.Type, e.Last)
		if err != nil {
			continue
		}
		out = append(out, ReadingResponse{
			Address:   e.Address.String(),
			Name:      e.Name,
			Type:      e.Type.String(),
			Value:     v.Interface(),
			Timestamp: e.Updated.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Collect())
}

func (h *handlers) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.sess.Subscriptions()
	out := make([]SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		resp := SubscriptionResponse{
			Address:  s.Address.String(),
			Interval: s.Interval.String(),
		}
		if !s.NextDue.IsZero() {
			resp.NextDue = s.NextDue.Format(time.RFC3339Nano)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	addr, err := canopen.ParseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval: "+err.Error())
		return
	}

	if err := h.sess.Subscribe(addr, interval); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SubscriptionResponse{
		Address:  addr.String(),
		Interval: interval.String(),
	})
}

func (h *handlers) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	addr, err := canopen.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.sess.Unsubscribe(addr); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// statusFor maps control errors to HTTP status codes. Unknown addresses
// are reported later as diagnostic events, so a queued request is 202.
func statusFor(err error) int {
	switch {
	case errors.Is(err, canopen.ErrInvalidInterval), errors.Is(err, canopen.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, canopen.ErrControlBusy), errors.Is(err, canopen.ErrSupervisorStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
