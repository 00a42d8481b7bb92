package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/middleware"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/service"
)

// AuthService is the identity surface the auth handler needs.
type AuthService interface {
	RegisterIdentity(ctx context.Context, req service.RegisterRequest) (*models.Identity, error)
	Login(ctx context.Context, name, password, sourceIP, deviceID string) (*models.Identity, error)
	VerifyIdentity(ctx context.Context, meta service.RequestMeta) error
}

// AuthHandler handles registration and login.
type AuthHandler struct {
	Auth      AuthService
	JWTSecret string
	TokenTTL  time.Duration
	Log       *zap.Logger
}

// RegisterRequest is the JSON payload for identity registration. Key blobs
// arrive already encrypted client-side.
type RegisterRequest struct {
	Name                string `json:"name" validate:"required,email"`
	Password            string `json:"password" validate:"required,min=8"`
	PublicKey           []byte `json:"public_key" validate:"required"`
	EncryptedPrivateKey []byte `json:"encrypted_private_key" validate:"required"`
	PrivateGroupKey     []byte `json:"private_group_key" validate:"required"`
	EncryptedGroupKey   []byte `json:"encrypted_group_key" validate:"required"`
	Referrer            string `json:"referrer"`
}

// Register handles POST /api/register: creates the identity and its private
// group, then issues a session token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	ident, err := h.Auth.RegisterIdentity(r.Context(), service.RegisterRequest{
		Name:                req.Name,
		Password:            req.Password,
		PublicKey:           req.PublicKey,
		EncryptedPrivateKey: req.EncryptedPrivateKey,
		PrivateGroupKey:     req.PrivateGroupKey,
		EncryptedGroupKey:   req.EncryptedGroupKey,
		Referrer:            req.Referrer,
		SourceIP:            middleware.SourceIP(r),
		DeviceID:            middleware.DeviceID(r),
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	token, err := middleware.IssueToken(h.JWTSecret, ident.Name, h.TokenTTL)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    ident.ID,
		"name":  ident.Name,
		"token": token,
	})
}

// LoginRequest is the JSON payload for login.
type LoginRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /api/login: verifies credentials and issues a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	ident, err := h.Auth.Login(r.Context(), req.Name, req.Password,
		middleware.SourceIP(r), middleware.DeviceID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	token, err := middleware.IssueToken(h.JWTSecret, ident.Name, h.TokenTTL)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     ident.Name,
		"verified": ident.Verified,
		"token":    token,
	})
}

// Verify handles POST /api/verify: marks the actor verified once the
// external email round-trip has completed.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.VerifyIdentity(r.Context(), metaFromRequest(r)); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
