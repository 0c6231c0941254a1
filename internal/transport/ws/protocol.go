package ws

import (
	"encoding/json"
	"errors"

	"relaycore/internal/domain"
)

// Envelope is the wire frame for every inbound event. Seq, when present, is
// echoed on the reply so clients can correlate callback-style acks.
type Envelope struct {
	Event string          `json:"event"`
	Seq   *int64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Reply is the wire frame for everything the server emits.
type Reply struct {
	Event string `json:"event"`
	Seq   *int64 `json:"seq,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return "auth_required"
	case errors.Is(err, domain.ErrValidation):
		return "validation_failed"
	case errors.Is(err, domain.ErrPermission):
		return "permission_denied"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStorage):
		return "storage_failed"
	default:
		return "internal_error"
	}
}

func errorData(err error) errorBody {
	return errorBody{Success: false, Error: errorCode(err), Message: err.Error()}
}

// errorEventFor maps a request to its negative-acknowledgment event. Errors
// never propagate to the transport as raw failures.
func errorEventFor(event string) string {
	if event == "sendGroupItem" {
		return "groupItemError"
	}
	return event + "Response"
}
