// Package http provides the HTTP handlers and routing for the vault API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/middleware"
	"github.com/ndanilin/vaultgraph/internal/service"
)

// validate checks request payload structs against their struct tags.
var validate = validator.New()

// decode parses and validates a JSON request body.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidRequest, "invalid body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidRequest, "invalid body", err)
	}
	return nil
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody is the uniform failure response: a generic message plus the
// opaque id correlating with the server logs. Internal detail never leaves
// the process.
type errorBody struct {
	Error   string `json:"error"`
	ErrorID string `json:"error_id,omitempty"`
	Kind    string `json:"kind"`
}

// statusFor maps the error taxonomy to HTTP statuses.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindCyclicGroup, apperr.KindDuplicateBinding,
		apperr.KindOrphanedSecret, apperr.KindMultiOrganization,
		apperr.KindRetryableConflict, apperr.KindTransactionBusy:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs the full error and responds with the sanitized body.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)

	body := errorBody{Error: "internal error", Kind: kind.String()}
	var e *apperr.Error
	if errors.As(err, &e) {
		body.Error = e.UserMessage()
		body.ErrorID = e.ID
	}

	log.Warn("request failed",
		zap.String("kind", kind.String()),
		zap.String("error_id", body.ErrorID),
		zap.Error(err),
	)
	writeJSON(w, statusFor(kind), body)
}

// metaFromRequest assembles the per-request operation metadata.
func metaFromRequest(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		Actor:    middleware.ActorFromContext(r.Context()),
		SourceIP: middleware.SourceIP(r),
		DeviceID: middleware.DeviceID(r),
		TxnToken: r.Header.Get("X-Txn-Token"),
	}
}
