package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/service"
)

// TxnService is the transaction surface the handler needs.
type TxnService interface {
	BeginTransaction(ctx context.Context, meta service.RequestMeta, operation string) (string, error)
	CommitTransaction(ctx context.Context, meta service.RequestMeta, token string) error
	RollbackTransaction(ctx context.Context, meta service.RequestMeta, token string) error
}

// TxnHandler serves the explicit-transaction endpoints. Requests belonging
// to an open transaction carry its token in the X-Txn-Token header.
type TxnHandler struct {
	Txn TxnService
	Log *zap.Logger
}

// BeginTxnRequest names the multi-request operation being started.
type BeginTxnRequest struct {
	Operation string `json:"operation" validate:"required"`
}

// Begin handles POST /api/txn: opens an explicit transaction.
func (h *TxnHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req BeginTxnRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	token, err := h.Txn.BeginTransaction(r.Context(), metaFromRequest(r), req.Operation)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (h *TxnHandler) token(r *http.Request) (string, error) {
	token := r.Header.Get("X-Txn-Token")
	if token == "" {
		return "", apperr.New(apperr.KindInvalidRequest, "missing X-Txn-Token header")
	}
	return token, nil
}

// Commit handles POST /api/txn/commit.
func (h *TxnHandler) Commit(w http.ResponseWriter, r *http.Request) {
	token, err := h.token(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Txn.CommitTransaction(r.Context(), metaFromRequest(r), token); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

// Rollback handles POST /api/txn/rollback.
func (h *TxnHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	token, err := h.token(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Txn.RollbackTransaction(r.Context(), metaFromRequest(r), token); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}
