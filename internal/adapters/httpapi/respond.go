package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"labcore/pkg/domain"
)

// Actor headers. Mutating routes require X-Actor-Name.
const (
	HeaderActorID       = "X-Actor-Id"
	HeaderActorName     = "X-Actor-Name"
	HeaderActorPosition = "X-Actor-Position"
	HeaderActorVerified = "X-Actor-Verified"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Data     any                `json:"data"`
	Warnings []domain.Violation `json:"warnings,omitempty"`
}

type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any, res domain.Result) {
	writeJSON(w, status, envelope{Data: data, Warnings: res.Warnings()})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeDomainError maps a service failure to its HTTP status. Errors without a
// domain kind are internal and their text is not echoed.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	msg := domain.ReasonOf(err)
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation, domain.KindPreconditionUnmet:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidTransition, domain.KindConcurrencyConflict:
		return http.StatusConflict
	case domain.KindReferentialGap:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.Invalid("decode_request", "invalid request body: %v", err)
	}
	return nil
}

// actorFrom reads the acting user from request headers.
func actorFrom(r *http.Request) (domain.Actor, error) {
	a := domain.Actor{
		ID:       strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Name:     strings.TrimSpace(r.Header.Get(HeaderActorName)),
		Position: strings.TrimSpace(r.Header.Get(HeaderActorPosition)),
	}
	if a.Name == "" {
		return domain.Actor{}, domain.Invalid("actor", "%s header is required", HeaderActorName)
	}
	if raw := r.Header.Get(HeaderActorVerified); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.Actor{}, domain.Invalid("actor", "%s must be a boolean", HeaderActorVerified)
		}
		a.Verified = v
	}
	return a, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Invalid("query", "%s must be a non-negative integer", key)
	}
	return n, nil
}
