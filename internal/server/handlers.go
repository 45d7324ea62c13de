package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nicexiaonie/order-dispenser/internal/encoder"
	"github.com/nicexiaonie/order-dispenser/internal/order"
	"github.com/nicexiaonie/order-dispenser/internal/sequence"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

// handleCreateOrder handles POST /api/orders
// Body: {"customerName": "...", "pizzaType": "...", "orderMode": "...", "tableNo": "..."}
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req order.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := s.orders.Create(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			loggerFrom(r, s.log).WithError(err).Error("Order creation failed")
			writeError(w, status, "order could not be created, please retry")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// statusFor maps core error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrInvalidOrder), errors.Is(err, encoder.ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, sequence.ErrStorage), errors.Is(err, encoder.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleIndex serves the order page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, indexPath(s.opts.StaticDir))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
