package handler

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/urbanium/internal/crypto"
	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/service"
)

// routeIntentMaxSkew is how far a signed route timestamp may be from now.
const routeIntentMaxSkew = 5 * time.Minute

// VaultService defines the vault operations and queries the handler needs.
type VaultService interface {
	InitializeVault(ctx context.Context, p service.InitializeVaultParams) (domain.Vault, error)
	GetVault(ctx context.Context, vaultID domain.ID) (service.VaultView, error)
	ListVaults(ctx context.Context, opts domain.ListOpts) ([]domain.Vault, error)
	Deposit(ctx context.Context, vaultID, holder domain.ID, amount uint64) (uint64, error)
	Withdraw(ctx context.Context, vaultID, holder domain.ID, shares uint64) (uint64, error)
	RouteYield(ctx context.Context, vaultID, executor domain.ID, amount uint64) (service.RouteResult, error)
	GetPosition(ctx context.Context, vaultID, holder domain.ID) (service.PositionView, error)
	ListPositions(ctx context.Context, vaultID domain.ID, opts domain.ListOpts) ([]service.PositionView, error)
	Events(ctx context.Context, vaultID domain.ID, after string, count int) ([]service.EventRecord, error)
}

// VaultHandler serves /api/vaults.
type VaultHandler struct {
	vaults VaultService
	// signedRoutes requires route requests to carry an executor signature.
	signedRoutes bool
	now          func() time.Time
	logger       *slog.Logger
}

// NewVaultHandler creates a VaultHandler. When signedRoutes is set, route
// requests must be signed by the executor they name.
func NewVaultHandler(vaults VaultService, signedRoutes bool, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		vaults:       vaults,
		signedRoutes: signedRoutes,
		now:          time.Now,
		logger:       logger.With(slog.String("handler", "vault")),
	}
}

// CreateVault initializes a vault.
// POST /api/vaults
func (h *VaultHandler) CreateVault(w http.ResponseWriter, r *http.Request) {
	var req service.InitializeVaultParams
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.vaults.InitializeVault(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "initialize vault", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type listVaultsResponse struct {
	Vaults []domain.Vault `json:"vaults"`
}

// ListVaults returns vaults in creation order.
// GET /api/vaults?limit=&offset=
func (h *VaultHandler) ListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := h.vaults.ListVaults(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list vaults", err)
		return
	}
	if vaults == nil {
		vaults = []domain.Vault{}
	}
	writeJSON(w, http.StatusOK, listVaultsResponse{Vaults: vaults})
}

// GetVault returns one vault with its reserve balances.
// GET /api/vaults/{id}
func (h *VaultHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	id, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	view, err := h.vaults.GetVault(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get vault", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type depositRequest struct {
	Holder domain.ID `json:"holder"`
	Amount uint64    `json:"amount"`
}

type depositResponse struct {
	Minted uint64 `json:"minted"`
}

// Deposit moves assets from the holder wallet into the vault.
// POST /api/vaults/{id}/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minted, err := h.vaults.Deposit(r.Context(), id, req.Holder, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{Minted: minted})
}

type withdrawRequest struct {
	Holder domain.ID `json:"holder"`
	Shares uint64    `json:"shares"`
}

type withdrawResponse struct {
	Redeemed uint64 `json:"redeemed"`
}

// Withdraw burns shares and pays the holder from the reserves.
// POST /api/vaults/{id}/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	redeemed, err := h.vaults.Withdraw(r.Context(), id, req.Holder, req.Shares)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Redeemed: redeemed})
}

type routeRequest struct {
	Executor  domain.ID `json:"executor"`
	Amount    uint64    `json:"amount"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Signature string    `json:"signature,omitempty"`
}

// RouteYield moves primary-reserve funds to the yield reserve chosen by
// the oracle price.
// POST /api/vaults/{id}/route
func (h *VaultHandler) RouteYield(w http.ResponseWriter, r *http.Request) {
	id, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	var req routeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.signedRoutes || req.Signature != "" {
		if msg := h.checkRouteSignature(id, req); msg != "" {
			writeError(w, http.StatusForbidden, msg)
			return
		}
	}
	res, err := h.vaults.RouteYield(r.Context(), id, req.Executor, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "route yield", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// checkRouteSignature returns a rejection message, or "" when the request
// is signed by its executor within the allowed clock skew.
func (h *VaultHandler) checkRouteSignature(vaultID domain.ID, req routeRequest) string {
	if req.Signature == "" {
		return "route signature required"
	}
	skew := h.now().Sub(time.Unix(req.Timestamp, 0))
	if skew > routeIntentMaxSkew || skew < -routeIntentMaxSkew {
		return "route timestamp outside allowed window"
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		return "route signature is not hex"
	}
	signer, err := crypto.RecoverRouteSigner(vaultID, req.Amount, req.Timestamp, sig)
	if err != nil || signer != req.Executor {
		return "route signature does not match executor"
	}
	return ""
}

type listPositionsResponse struct {
	Positions []service.PositionView `json:"positions"`
}

// ListPositions returns the positions of a vault.
// GET /api/vaults/{id}/positions
func (h *VaultHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	positions, err := h.vaults.ListPositions(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []service.PositionView{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a holder's position.
// GET /api/vaults/{id}/positions/{holder}
func (h *VaultHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	holder, err := pathID(r, "holder")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid holder")
		return
	}
	pos, err := h.vaults.GetPosition(r.Context(), id, holder)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type eventsResponse struct {
	Events []service.EventRecord `json:"events"`
}

// Events returns a vault's event history after the given stream id.
// GET /api/vaults/{id}/events?after=&count=
func (h *VaultHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := h.vaultID(w, r)
	if !ok {
		return
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}
	evs, err := h.vaults.Events(r.Context(), id, r.URL.Query().Get("after"), count)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	if evs == nil {
		evs = []service.EventRecord{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: evs})
}

func (h *VaultHandler) vaultID(w http.ResponseWriter, r *http.Request) (domain.ID, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return domain.ZeroID, false
	}
	return id, true
}
