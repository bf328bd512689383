package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/boristopalov/envd/pkg/core"
	"github.com/boristopalov/envd/pkg/messaging"
)

const maxBodyBytes = 1 << 20

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind core.Kind) int {
	switch kind {
	case core.KindTypeMismatch, core.KindProtocol, core.KindInvalidAction:
		return http.StatusBadRequest
	case core.KindNotInitialized, core.KindEpisodeFinished:
		return http.StatusConflict
	case core.KindSessionClosed:
		return http.StatusGone
	case core.KindMalformedSchema:
		return http.StatusUnprocessableEntity
	case core.KindUpstreamSimulation:
		return http.StatusBadGateway
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	SessionID string            `json:"session_id"`
	Events    []messaging.Event `json:"events"`
}

// Handler exposes the session over HTTP.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /reset", s.handleOp(OpReset))
	mux.HandleFunc("POST /step", s.handleOp(OpStep))
	mux.HandleFunc("GET /state", s.handleOp(OpState))
	mux.HandleFunc("POST /close", s.handleOp(OpClose))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /history", s.handleHistory)
	return mux
}

func (s *Server) handleOp(op Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, core.Wrap(core.KindProtocol, err, "reading request body"))
			return
		}

		resp, err := s.Handle(r.Context(), op, body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, core.Errorf(core.KindTypeMismatch, "limit must be a non-negative integer, got %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: s.sessionID, Events: s.History(limit)})
}

func writeError(w http.ResponseWriter, err error) {
	resp := core.NewErrorResponse(err)
	writeJSON(w, StatusFor(resp.Error.Kind), resp)
}

// writeJSON encodes v before committing the status, so an unencodable body becomes an
// error response instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		status = StatusFor(core.KindUpstreamSimulation)
		data, _ = json.Marshal(core.NewErrorResponse(core.Wrap(core.KindUpstreamSimulation, err, "encoding response")))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// ListenAndServe serves the session on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Session %s listening on %s", s.sessionID, addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
