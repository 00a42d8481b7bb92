package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/service"
)

// SecretService is the secret surface the handler needs.
type SecretService interface {
	CreateSecret(ctx context.Context, meta service.RequestMeta, groupID int64, clientPayload, criticalPayload []byte, viewable bool) (int64, error)
	ShareSecret(ctx context.Context, meta service.RequestMeta, secretID, groupID int64, clientPayload, criticalPayload []byte) error
	RemoveSecret(ctx context.Context, meta service.RequestMeta, secretID int64, groupID *int64) error
	ReadSecret(ctx context.Context, meta service.RequestMeta, secretID int64) ([]models.GroupSecret, error)
	EditSecret(ctx context.Context, meta service.RequestMeta, secretID int64, payloads []models.BindingPayload) error
	SyncGroup(ctx context.Context, meta service.RequestMeta, groupID int64) (*service.GroupSync, error)
}

// SecretsHandler serves the secret endpoints.
type SecretsHandler struct {
	Secrets SecretService
	Log     *zap.Logger
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Newf(apperr.KindInvalidRequest, "invalid %s", name)
	}
	return id, nil
}

// payloadPair is the encrypted payload pair carried by create/share
// requests.
type payloadPair struct {
	ClientPayload   []byte `json:"client_payload" validate:"required"`
	CriticalPayload []byte `json:"critical_payload" validate:"required"`
}

// CreateSecretRequest seeds a new secret into a group.
type CreateSecretRequest struct {
	GroupID int64 `json:"group_id" validate:"required,gt=0"`
	payloadPair
	Viewable bool `json:"viewable"`
}

// Create handles POST /api/secrets.
func (h *SecretsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSecretRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	id, err := h.Secrets.CreateSecret(r.Context(), metaFromRequest(r),
		req.GroupID, req.ClientPayload, req.CriticalPayload, req.Viewable)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"secret_id": id})
}

// ShareSecretRequest binds an existing secret into another group.
type ShareSecretRequest struct {
	GroupID int64 `json:"group_id" validate:"required,gt=0"`
	payloadPair
}

// Share handles POST /api/secrets/{secretID}/share.
func (h *SecretsHandler) Share(w http.ResponseWriter, r *http.Request) {
	secretID, err := pathID(r, "secretID")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req ShareSecretRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	if err := h.Secrets.ShareSecret(r.Context(), metaFromRequest(r),
		secretID, req.GroupID, req.ClientPayload, req.CriticalPayload); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Remove handles DELETE /api/secrets/{secretID}. The optional "group"
// query parameter limits removal to one group; without it the secret is
// removed from every non-organization group.
func (h *SecretsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	secretID, err := pathID(r, "secretID")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	var groupID *int64
	if raw := r.URL.Query().Get("group"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, h.Log, apperr.New(apperr.KindInvalidRequest, "invalid group"))
			return
		}
		groupID = &id
	}

	if err := h.Secrets.RemoveSecret(r.Context(), metaFromRequest(r), secretID, groupID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bindingResponse serializes one binding.
type bindingResponse struct {
	BindingID       int64  `json:"binding_id"`
	GroupID         int64  `json:"group_id"`
	ClientPayload   []byte `json:"client_payload"`
	CriticalPayload []byte `json:"critical_payload"`
	Version         int64  `json:"version"`
	Position        int    `json:"position"`
}

// Read handles GET /api/secrets/{secretID}.
func (h *SecretsHandler) Read(w http.ResponseWriter, r *http.Request) {
	secretID, err := pathID(r, "secretID")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	bindings, err := h.Secrets.ReadSecret(r.Context(), metaFromRequest(r), secretID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	out := make([]bindingResponse, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, bindingResponse{
			BindingID:       b.ID,
			GroupID:         b.GroupID,
			ClientPayload:   b.ClientPayload,
			CriticalPayload: b.CriticalPayload,
			Version:         b.Version,
			Position:        b.Position,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"secret_id": secretID, "bindings": out})
}

// bindingPayloadRequest is one re-encrypted payload pair keyed by binding.
type bindingPayloadRequest struct {
	BindingID       int64  `json:"binding_id" validate:"required,gt=0"`
	ClientPayload   []byte `json:"client_payload" validate:"required"`
	CriticalPayload []byte `json:"critical_payload" validate:"required"`
}

func toBindingPayloads(in []bindingPayloadRequest) []models.BindingPayload {
	out := make([]models.BindingPayload, 0, len(in))
	for _, p := range in {
		out = append(out, models.BindingPayload{
			BindingID:       p.BindingID,
			ClientPayload:   p.ClientPayload,
			CriticalPayload: p.CriticalPayload,
		})
	}
	return out
}

// EditSecretRequest rewrites every binding's payloads.
type EditSecretRequest struct {
	Payloads []bindingPayloadRequest `json:"payloads" validate:"required,min=1,dive"`
}

// Edit handles PUT /api/secrets/{secretID}.
func (h *SecretsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	secretID, err := pathID(r, "secretID")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req EditSecretRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	if err := h.Secrets.EditSecret(r.Context(), metaFromRequest(r),
		secretID, toBindingPayloads(req.Payloads)); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Sync handles GET /api/groups/{groupID}/sync: the trusted bulk snapshot.
func (h *SecretsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	sync, err := h.Secrets.SyncGroup(r.Context(), metaFromRequest(r), groupID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sync)
}
