package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

// ClaimHandler serves claim endpoints.
type ClaimHandler struct {
	bonds  BondService
	logger *slog.Logger
}

// NewClaimHandler creates a ClaimHandler.
func NewClaimHandler(bonds BondService, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{bonds: bonds, logger: logger}
}

// GetClaim returns one claim.
// GET /api/claims/{id}
func (h *ClaimHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.bonds.GetClaim(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get claim", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Preview projects the redemption amount of a claim as of now.
// GET /api/claims/{id}/preview
func (h *ClaimHandler) Preview(w http.ResponseWriter, r *http.Request) {
	pv, err := h.bonds.PreviewRedemption(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "preview redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

// Redeem pays out a matured claim to its signing owner.
// POST /api/claims/{id}/redeem
func (h *ClaimHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	c, err := h.bonds.Redeem(r.Context(), pathParam(r, "id"), caller)
	if err != nil {
		writeServiceError(w, r, h.logger, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListByOwner returns every claim held by an address.
// GET /api/owners/{address}/claims
func (h *ClaimHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseAddress(pathParam(r, "address"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list owner claims", err)
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cs, err := h.bonds.ListClaimsByOwner(r.Context(), owner, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list owner claims", err)
		return
	}
	if cs == nil {
		cs = []domain.Claim{}
	}
	writeJSON(w, http.StatusOK, listClaimsResponse{Claims: cs})
}
