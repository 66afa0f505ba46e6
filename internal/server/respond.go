package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/leapstack-labs/leapmap/internal/session"
	"github.com/leapstack-labs/leapmap/internal/sqlruntime"
	"github.com/leapstack-labs/leapmap/internal/state"
)

// maxBody bounds request bodies; map documents with inline data can be large.
const maxBody = 32 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var dsErr *sqlruntime.DataSourceError
	switch {
	case errors.Is(err, session.ErrUnknownLayer), errors.Is(err, state.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnknownProperty):
		return http.StatusBadRequest
	case errors.Is(err, sqlruntime.ErrStaleResult):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoRuntime):
		return http.StatusNotImplemented
	case errors.As(err, &dsErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(data) > maxBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBody)
	}
	return data, nil
}

func decodeBody(r *http.Request, v any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
