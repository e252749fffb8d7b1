package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// LedgerAdmin is the administrative side of the vault service.
type LedgerAdmin interface {
	RegisterAsset(ctx context.Context, a domain.Asset) error
	FundHolder(ctx context.Context, holder, asset domain.ID, amount uint64) (domain.Account, error)
	FundReserve(ctx context.Context, vaultID domain.ID, kind domain.ReserveKind, amount uint64) (domain.Account, error)
	Wallet(ctx context.Context, holder, asset domain.ID) (domain.Account, error)
}

// AdminHandler serves asset registration, funding and archival.
// archiver may be nil when object storage is not configured.
type AdminHandler struct {
	ledger   LedgerAdmin
	archiver domain.Archiver
	logger   *slog.Logger
}

func NewAdminHandler(ledger LedgerAdmin, archiver domain.Archiver, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		ledger:   ledger,
		archiver: archiver,
		logger:   logger.With(slog.String("handler", "admin")),
	}
}

// RegisterAsset adds an asset to the ledger.
// POST /api/admin/assets
func (h *AdminHandler) RegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req domain.Asset
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ledger.RegisterAsset(r.Context(), req); err != nil {
		writeServiceError(w, r, h.logger, "register asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

type fundRequest struct {
	Holder  domain.ID `json:"holder"`
	Asset   domain.ID `json:"asset"`
	Vault   domain.ID `json:"vault"`
	Reserve string    `json:"reserve"`
	Amount  uint64    `json:"amount"`
}

var reserveKinds = map[string]domain.ReserveKind{
	domain.ReservePrimary.String(): domain.ReservePrimary,
	domain.ReserveYieldA.String():  domain.ReserveYieldA,
	domain.ReserveYieldB.String():  domain.ReserveYieldB,
}

// Fund credits a holder wallet, or a vault reserve when vault is set.
// POST /api/admin/fund
func (h *AdminHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		acct domain.Account
		err  error
	)
	if !req.Vault.IsZero() {
		kind, ok := reserveKinds[req.Reserve]
		if !ok {
			writeError(w, http.StatusBadRequest, "reserve must be primary, yield_a or yield_b")
			return
		}
		acct, err = h.ledger.FundReserve(r.Context(), req.Vault, kind, req.Amount)
	} else {
		acct, err = h.ledger.FundHolder(r.Context(), req.Holder, req.Asset, req.Amount)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "fund", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Wallet returns a holder's ledger account for an asset.
// GET /api/wallets/{holder}/{asset}
func (h *AdminHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	holder, err := pathID(r, "holder")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid holder")
		return
	}
	asset, err := pathID(r, "asset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset")
		return
	}
	acct, err := h.ledger.Wallet(r.Context(), holder, asset)
	if err != nil {
		writeServiceError(w, r, h.logger, "wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type archiveRequest struct {
	Before time.Time `json:"before"`
}

// ArchiveAudit copies audit entries older than before to object storage.
// POST /api/admin/archive
func (h *AdminHandler) ArchiveAudit(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusNotImplemented, "archive storage not configured")
		return
	}
	var req archiveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Before.IsZero() {
		writeError(w, http.StatusBadRequest, "before is required")
		return
	}
	n, err := h.archiver.ArchiveAudit(r.Context(), req.Before)
	if err != nil {
		writeServiceError(w, r, h.logger, "archive audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": n})
}

// Snapshot writes a position snapshot of one vault to object storage.
// POST /api/vaults/{id}/snapshot
func (h *AdminHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusNotImplemented, "archive storage not configured")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault id")
		return
	}
	path, err := h.archiver.SnapshotPositions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}
