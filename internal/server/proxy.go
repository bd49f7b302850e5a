package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/thub/thub/internal/domain"
	"github.com/thub/thub/internal/proxy"
)

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	username, err := s.gate.Authenticate(r)
	if err != nil {
		redirectToLogin(w, r, "")
		return
	}

	vars := mux.Vars(r)
	api := vars["api"]

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, domain.ErrorResponse{Error: "request_too_large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "invalid_request", Detail: "could not read request body"})
			return
		}
	}

	start := time.Now()
	res := s.forwarder.Forward(r.Context(), proxy.Request{
		API:      api,
		Path:     vars["path"],
		Method:   r.Method,
		Query:    r.URL.RawQuery,
		Body:     body,
		Username: username,
	})
	if s.timer != nil && res.Category != proxy.CategoryNotConfigured {
		s.timer.ObserveProxyDuration(api, time.Since(start))
	}
	res.Write(w)
}
