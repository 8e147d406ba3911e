package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/bondvault/internal/bond"
	"github.com/alanyoungcy/bondvault/internal/domain"
)

// BondService defines the methods that the project and claim handlers
// require from the service layer.
type BondService interface {
	CreateProject(ctx context.Context, issuer domain.Address, params bond.CreateParams) (domain.BondProject, error)
	Purchase(ctx context.Context, projectID string, buyer domain.Address, amount uint64) (domain.Claim, error)
	Deposit(ctx context.Context, projectID string, caller domain.Address, amount uint64) (domain.BondProject, error)
	Redeem(ctx context.Context, claimID string, caller domain.Address) (domain.Claim, error)
	Withdraw(ctx context.Context, projectID string, caller domain.Address, amount uint64) (domain.BondProject, error)
	Pause(ctx context.Context, projectID string, caller domain.Address) (domain.BondProject, error)
	Resume(ctx context.Context, projectID string, caller domain.Address) (domain.BondProject, error)

	GetProject(ctx context.Context, id string) (domain.BondProject, error)
	ListProjects(ctx context.Context, opts domain.ListOpts) ([]domain.BondProject, error)
	ProjectSummary(ctx context.Context, id string) (bond.Summary, error)
	GetClaim(ctx context.Context, id string) (domain.Claim, error)
	ListClaimsByOwner(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Claim, error)
	ListClaimsByProject(ctx context.Context, projectID string, opts domain.ListOpts) ([]domain.Claim, error)
	PreviewRedemption(ctx context.Context, claimID string) (bond.Preview, error)
	ListEvents(ctx context.Context, projectID string, opts domain.ListOpts) ([]domain.Event, error)
}

// ProjectHandler serves bond project endpoints.
type ProjectHandler struct {
	bonds  BondService
	logger *slog.Logger
}

// NewProjectHandler creates a ProjectHandler.
func NewProjectHandler(bonds BondService, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{bonds: bonds, logger: logger}
}

type createProjectRequest struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	MetadataURI   string    `json:"metadata_uri"`
	TotalAmount   string    `json:"total_amount"`
	AnnualRateBps uint32    `json:"annual_rate_bps"`
	MaturityDate  time.Time `json:"maturity_date"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type listProjectsResponse struct {
	Projects []domain.BondProject `json:"projects"`
}

type listClaimsResponse struct {
	Claims []domain.Claim `json:"claims"`
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
}

// CreateProject registers a new offering issued by the signing caller.
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.MaturityDate.IsZero() {
		writeError(w, http.StatusBadRequest, "maturity_date is required")
		return
	}
	total, err := parseAmount("total_amount", req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.bonds.CreateProject(r.Context(), caller, bond.CreateParams{
		Name:          req.Name,
		Description:   req.Description,
		MetadataURI:   req.MetadataURI,
		TotalAmount:   total,
		AnnualRateBps: req.AnnualRateBps,
		MaturityDate:  req.MaturityDate.UTC(),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListProjects returns projects, newest first.
// GET /api/projects?limit=50&offset=0
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ps, err := h.bonds.ListProjects(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list projects", err)
		return
	}
	if ps == nil {
		ps = []domain.BondProject{}
	}
	writeJSON(w, http.StatusOK, listProjectsResponse{Projects: ps})
}

// GetProject returns one project.
// GET /api/projects/{id}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.bonds.GetProject(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get project", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Summary returns capacity, progress, redeemability and pending claims.
// GET /api/projects/{id}/summary
func (h *ProjectHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.bonds.ProjectSummary(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "project summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ListClaims returns the claims minted on a project.
// GET /api/projects/{id}/claims
func (h *ProjectHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cs, err := h.bonds.ListClaimsByProject(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list project claims", err)
		return
	}
	if cs == nil {
		cs = []domain.Claim{}
	}
	writeJSON(w, http.StatusOK, listClaimsResponse{Claims: cs})
}

// ListEvents returns the event log of a project.
// GET /api/projects/{id}/events
func (h *ProjectHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	evts, err := h.bonds.ListEvents(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	if evts == nil {
		evts = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: evts})
}

// Purchase buys one claim for the signing caller.
// POST /api/projects/{id}/purchase {"amount":"30"}
func (h *ProjectHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := h.amountCall(w, r)
	if !ok {
		return
	}
	c, err := h.bonds.Purchase(r.Context(), pathParam(r, "id"), caller, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// Deposit funds the redemption pool.
// POST /api/projects/{id}/deposit {"amount":"..."}
func (h *ProjectHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.projectAmountOp(w, r, "deposit", h.bonds.Deposit)
}

// Withdraw releases raised funds to the issuer.
// POST /api/projects/{id}/withdraw {"amount":"..."}
func (h *ProjectHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.projectAmountOp(w, r, "withdraw", h.bonds.Withdraw)
}

// Pause stops purchases.
// POST /api/projects/{id}/pause
func (h *ProjectHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.projectToggle(w, r, "pause", h.bonds.Pause)
}

// Resume reopens purchases.
// POST /api/projects/{id}/resume
func (h *ProjectHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.projectToggle(w, r, "resume", h.bonds.Resume)
}

func (h *ProjectHandler) amountCall(w http.ResponseWriter, r *http.Request) (domain.Address, uint64, bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return domain.Address{}, 0, false
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.Address{}, 0, false
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.Address{}, 0, false
	}
	return caller, amount, true
}

func (h *ProjectHandler) projectAmountOp(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	call func(context.Context, string, domain.Address, uint64) (domain.BondProject, error),
) {
	caller, amount, ok := h.amountCall(w, r)
	if !ok {
		return
	}
	p, err := call(r.Context(), pathParam(r, "id"), caller, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProjectHandler) projectToggle(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	call func(context.Context, string, domain.Address) (domain.BondProject, error),
) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	p, err := call(r.Context(), pathParam(r, "id"), caller)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
