package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
	"github.com/ndanilin/vaultgraph/internal/service"
)

// AuditService is the audit surface the handler needs.
type AuditService interface {
	AuditEvents(ctx context.Context, meta service.RequestMeta, filter repository.EventFilter) ([]models.AuditEvent, error)
}

// AuditHandler serves the audit query endpoint.
type AuditHandler struct {
	Audit AuditService
	Log   *zap.Logger
}

// parseIDList parses a comma-separated id list query parameter.
func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, apperr.Newf(apperr.KindInvalidRequest, "invalid id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Events handles GET /api/audit. Query parameters: users, secrets, groups
// (comma-separated ids, OR'ed together), from/to (RFC 3339), limit, offset.
func (h *AuditHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter repository.EventFilter
	var err error

	if filter.UserIDs, err = parseIDList(q.Get("users")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if filter.SecretIDs, err = parseIDList(q.Get("secrets")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if filter.GroupIDs, err = parseIDList(q.Get("groups")); err != nil {
		writeError(w, h.Log, err)
		return
	}

	if raw := q.Get("from"); raw != "" {
		if filter.From, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, h.Log, apperr.New(apperr.KindInvalidRequest, "invalid from timestamp"))
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filter.To, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, h.Log, apperr.New(apperr.KindInvalidRequest, "invalid to timestamp"))
			return
		}
	}
	if raw := q.Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("offset"); raw != "" {
		filter.Offset, _ = strconv.Atoi(raw)
	}

	events, err := h.Audit.AuditEvents(r.Context(), metaFromRequest(r), filter)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
