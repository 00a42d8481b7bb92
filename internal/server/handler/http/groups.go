package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/service"
)

// GroupService is the group surface the handler needs.
type GroupService interface {
	CreateGroup(ctx context.Context, meta service.RequestMeta, req service.CreateGroupRequest) (int64, error)
	EditMembership(ctx context.Context, meta service.RequestMeta, groupID int64, newEntries []models.ACLEntry, rekeys []models.BindingPayload) error
}

// GroupsHandler serves the group endpoints.
type GroupsHandler struct {
	Groups GroupService
	Log    *zap.Logger
}

// CreateGroupRequest creates a team, autodelete container, or organization.
type CreateGroupRequest struct {
	Name              string `json:"name"`
	Kind              string `json:"kind" validate:"required,oneof=autodelete named_team organization"`
	PublicKey         []byte `json:"public_key" validate:"required"`
	EncryptedGroupKey []byte `json:"encrypted_group_key" validate:"required"`
}

// Create handles POST /api/groups.
func (h *GroupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	id, err := h.Groups.CreateGroup(r.Context(), metaFromRequest(r), service.CreateGroupRequest{
		Name:              req.Name,
		Kind:              models.GroupKind(req.Kind),
		PublicKey:         req.PublicKey,
		EncryptedGroupKey: req.EncryptedGroupKey,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"group_id": id})
}

// aclEntryRequest is one desired ACL edge in a membership edit.
type aclEntryRequest struct {
	MemberKind        string `json:"member_kind" validate:"required,oneof=identity group"`
	MemberID          int64  `json:"member_id" validate:"required,gt=0"`
	Level             string `json:"level" validate:"required,oneof=readonly modify_secrets admin"`
	EncryptedGroupKey []byte `json:"encrypted_group_key" validate:"required"`
}

// EditMembershipRequest replaces the group's ACL set. Rekeys must cover
// every remaining binding of every affected secret when members are
// removed.
type EditMembershipRequest struct {
	Entries []aclEntryRequest       `json:"entries" validate:"dive"`
	Rekeys  []bindingPayloadRequest `json:"rekeys" validate:"dive"`
}

// EditMembership handles PUT /api/groups/{groupID}/members.
func (h *GroupsHandler) EditMembership(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req EditMembershipRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	entries := make([]models.ACLEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		member := models.IdentityMember(e.MemberID)
		if e.MemberKind == "group" {
			member = models.GroupMember(e.MemberID)
		}
		level := models.ParseAccessLevel(e.Level)
		if !level.Valid() {
			writeError(w, h.Log, apperr.Newf(apperr.KindInvalidRequest, "invalid level %q", e.Level))
			return
		}
		entries = append(entries, models.ACLEntry{
			GroupID:           groupID,
			Member:            member,
			Level:             level,
			EncryptedGroupKey: e.EncryptedGroupKey,
		})
	}

	if err := h.Groups.EditMembership(r.Context(), metaFromRequest(r),
		groupID, entries, toBindingPayloads(req.Rekeys)); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
