package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bondvault/internal/bond"
	"github.com/alanyoungcy/bondvault/internal/domain"
	"github.com/alanyoungcy/bondvault/internal/metrics"
)

// BondConfig tunes how the service serializes writers on one project.
type BondConfig struct {
	// LockTTL bounds how long a crashed holder can block a project.
	LockTTL time.Duration
	// LockWait is how long an operation keeps retrying a held lock before
	// giving up with domain.ErrLockHeld.
	LockWait time.Duration
	// LockRetry is the pause between attempts.
	LockRetry time.Duration
}

// DefaultBondConfig returns the settings used when none are configured.
func DefaultBondConfig() BondConfig {
	return BondConfig{
		LockTTL:   10 * time.Second,
		LockWait:  2 * time.Second,
		LockRetry: 25 * time.Millisecond,
	}
}

// BondServiceDeps bundles the collaborators of a BondService.
type BondServiceDeps struct {
	Projects   domain.ProjectStore
	Claims     domain.ClaimStore
	Events     domain.EventStore
	Ledger     domain.Ledger
	Locks      domain.LockManager
	Publisher  *Publisher
	Controller *bond.Controller
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Config BondConfig
}

// BondService hosts the lifecycle controller. Each write holds the project
// lock while it loads the aggregate, applies one controller step, and
// commits the result together with its events. Events are published after
// the commit; anything left undelivered is picked up by the EventRelay.
type BondService struct {
	projects  domain.ProjectStore
	claims    domain.ClaimStore
	events    domain.EventStore
	ledger    domain.Ledger
	locks     domain.LockManager
	publisher *Publisher
	ctrl      *bond.Controller
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	cfg       BondConfig
}

// NewBondService creates a BondService.
func NewBondService(deps BondServiceDeps) *BondService {
	ctrl := deps.Controller
	if ctrl == nil {
		ctrl = bond.NewController()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg := deps.Config
	def := DefaultBondConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockWait < 0 {
		cfg.LockWait = 0
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = def.LockRetry
	}
	return &BondService{
		projects:  deps.Projects,
		claims:    deps.Claims,
		events:    deps.Events,
		ledger:    deps.Ledger,
		locks:     deps.Locks,
		publisher: deps.Publisher,
		ctrl:      ctrl,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With(slog.String("component", "bond_service")),
		now:       clock,
		cfg:       cfg,
	}
}

// CreateProject registers a new offering for issuer.
func (s *BondService) CreateProject(ctx context.Context, issuer domain.Address, params bond.CreateParams) (domain.BondProject, error) {
	start := time.Now()
	now := s.now().UTC()

	p, evt, err := s.ctrl.Create(issuer, params, now)
	if err != nil {
		s.observe("create", start, err)
		return domain.BondProject{}, fmt.Errorf("bond_service: create project: %w", err)
	}
	if err := p.CheckInvariants(); err != nil {
		s.observe("create", start, err)
		return domain.BondProject{}, fmt.Errorf("bond_service: create project: %w", err)
	}
	if err := s.ledger.Commit(ctx, domain.Mutation{Project: p, Create: true, Events: []domain.Event{evt}}); err != nil {
		s.observe("create", start, err)
		return domain.BondProject{}, fmt.Errorf("bond_service: create project: %w", err)
	}
	p.Version = 1
	s.observe("create", start, nil)

	s.logger.InfoContext(ctx, "project created",
		slog.String("project_id", p.ID),
		slog.String("issuer", issuer.Hex()),
		slog.String("name", p.Name),
		slog.Uint64("total_amount", p.TotalAmount),
		slog.Uint64("rate_bps", uint64(p.AnnualRateBps)),
		slog.Time("maturity", p.MaturityDate),
	)
	s.publish(ctx, []domain.Event{evt})
	return p, nil
}

// Purchase buys a claim of amount on projectID for buyer.
func (s *BondService) Purchase(ctx context.Context, projectID string, buyer domain.Address, amount uint64) (domain.Claim, error) {
	m, err := s.mutate(ctx, "purchase", projectID, func(_ context.Context, p *domain.BondProject, now time.Time) (domain.Mutation, error) {
		claim, evt, err := s.ctrl.Purchase(p, buyer, amount, now)
		if err != nil {
			return domain.Mutation{}, err
		}
		return domain.Mutation{MintedClaim: &claim, Events: []domain.Event{evt}}, nil
	})
	if err != nil {
		return domain.Claim{}, err
	}
	s.metrics.AddAmount(metrics.FlowPurchased, amount)
	s.logger.InfoContext(ctx, "claim purchased",
		slog.String("project_id", projectID),
		slog.String("claim_id", m.MintedClaim.ID),
		slog.String("buyer", buyer.Hex()),
		slog.Uint64("amount", amount),
		slog.String("sale_state", string(m.Project.Sale)),
	)
	return *m.MintedClaim, nil
}

// Deposit funds the redemption pool of projectID.
func (s *BondService) Deposit(ctx context.Context, projectID string, caller domain.Address, amount uint64) (domain.BondProject, error) {
	m, err := s.mutate(ctx, "deposit", projectID, func(_ context.Context, p *domain.BondProject, now time.Time) (domain.Mutation, error) {
		evt, err := s.ctrl.Deposit(p, caller, amount, now)
		if err != nil {
			return domain.Mutation{}, err
		}
		return domain.Mutation{Events: []domain.Event{evt}}, nil
	})
	if err != nil {
		return domain.BondProject{}, err
	}
	s.metrics.AddAmount(metrics.FlowDeposited, amount)
	s.logger.InfoContext(ctx, "redemption funds deposited",
		slog.String("project_id", projectID),
		slog.String("issuer", caller.Hex()),
		slog.Uint64("amount", amount),
		slog.Bool("redeemable", m.Project.Redeemable),
	)
	return m.Project, nil
}

// Redeem pays out claimID to caller and returns the retired claim.
func (s *BondService) Redeem(ctx context.Context, claimID string, caller domain.Address) (domain.Claim, error) {
	ref, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("bond_service: redeem %s: %w", claimID, err)
	}

	m, err := s.mutate(ctx, "redeem", ref.ProjectID, func(ctx context.Context, p *domain.BondProject, now time.Time) (domain.Mutation, error) {
		// Reload under the lock so a concurrent redemption is observed.
		claim, err := s.claims.GetByID(ctx, claimID)
		if err != nil {
			return domain.Mutation{}, err
		}
		retired, evt, err := s.ctrl.Redeem(p, claim, caller, now)
		if err != nil {
			return domain.Mutation{}, err
		}
		return domain.Mutation{RetiredClaim: &retired, Events: []domain.Event{evt}}, nil
	})
	if err != nil {
		return domain.Claim{}, err
	}
	s.metrics.AddAmount(metrics.FlowRedeemed, m.RetiredClaim.Payout)
	s.logger.InfoContext(ctx, "claim redeemed",
		slog.String("project_id", ref.ProjectID),
		slog.String("claim_id", claimID),
		slog.String("redeemer", caller.Hex()),
		slog.Uint64("payout", m.RetiredClaim.Payout),
	)
	return *m.RetiredClaim, nil
}

// Withdraw releases raised funds of projectID to its issuer.
func (s *BondService) Withdraw(ctx context.Context, projectID string, caller domain.Address, amount uint64) (domain.BondProject, error) {
	m, err := s.mutate(ctx, "withdraw", projectID, func(_ context.Context, p *domain.BondProject, now time.Time) (domain.Mutation, error) {
		evt, err := s.ctrl.Withdraw(p, caller, amount, now)
		if err != nil {
			return domain.Mutation{}, err
		}
		return domain.Mutation{Events: []domain.Event{evt}}, nil
	})
	if err != nil {
		return domain.BondProject{}, err
	}
	s.metrics.AddAmount(metrics.FlowWithdrawn, amount)
	s.logger.InfoContext(ctx, "raised funds withdrawn",
		slog.String("project_id", projectID),
		slog.String("issuer", caller.Hex()),
		slog.Uint64("amount", amount),
	)
	return m.Project, nil
}

// Pause stops purchases on projectID.
func (s *BondService) Pause(ctx context.Context, projectID string, caller domain.Address) (domain.BondProject, error) {
	return s.toggle(ctx, "pause", projectID, caller, s.ctrl.Pause)
}

// Resume reopens purchases on projectID.
func (s *BondService) Resume(ctx context.Context, projectID string, caller domain.Address) (domain.BondProject, error) {
	return s.toggle(ctx, "resume", projectID, caller, s.ctrl.Resume)
}

func (s *BondService) toggle(
	ctx context.Context,
	op, projectID string,
	caller domain.Address,
	step func(*domain.BondProject, domain.Address, time.Time) (domain.Event, error),
) (domain.BondProject, error) {
	m, err := s.mutate(ctx, op, projectID, func(_ context.Context, p *domain.BondProject, now time.Time) (domain.Mutation, error) {
		evt, err := step(p, caller, now)
		if err != nil {
			return domain.Mutation{}, err
		}
		return domain.Mutation{Events: []domain.Event{evt}}, nil
	})
	if err != nil {
		return domain.BondProject{}, err
	}
	s.logger.InfoContext(ctx, "sale state changed",
		slog.String("project_id", projectID),
		slog.String("actor", caller.Hex()),
		slog.String("sale_state", string(m.Project.Sale)),
	)
	return m.Project, nil
}

// stepFunc applies one controller operation to p and returns the claim and
// event effects. It must not touch anything but p.
type stepFunc func(ctx context.Context, p *domain.BondProject, now time.Time) (domain.Mutation, error)

// mutate runs step against projectID under the project lock and commits
// the outcome. The returned mutation carries the committed project.
func (s *BondService) mutate(ctx context.Context, op, projectID string, step stepFunc) (domain.Mutation, error) {
	start := time.Now()
	m, err := s.mutateLocked(ctx, op, projectID, step)
	s.observe(op, start, err)
	if err != nil {
		return domain.Mutation{}, fmt.Errorf("bond_service: %s %s: %w", op, projectID, err)
	}
	s.publish(ctx, m.Events)
	return m, nil
}

func (s *BondService) mutateLocked(ctx context.Context, op, projectID string, step stepFunc) (domain.Mutation, error) {
	unlock, err := s.acquire(ctx, projectLockKey(projectID))
	if err != nil {
		return domain.Mutation{}, err
	}
	defer unlock()

	current, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return domain.Mutation{}, err
	}

	work := current
	m, err := step(ctx, &work, s.now().UTC())
	if err != nil {
		return domain.Mutation{}, err
	}
	if err := work.CheckInvariants(); err != nil {
		s.logger.ErrorContext(ctx, "operation would break project invariants",
			slog.String("op", op),
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		return domain.Mutation{}, err
	}

	m.Project = work
	m.ExpectedVersion = current.Version
	if err := s.ledger.Commit(ctx, m); err != nil {
		return domain.Mutation{}, err
	}
	m.Project.Version = current.Version + 1
	return m, nil
}

// acquire takes the lock for key, retrying until LockWait has elapsed.
func (s *BondService) acquire(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(s.cfg.LockWait)
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || !time.Now().Before(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.LockRetry):
		}
	}
}

func (s *BondService) publish(ctx context.Context, evts []domain.Event) {
	if s.publisher == nil || len(evts) == 0 {
		return
	}
	// Undelivered events stay in the outbox for the relay.
	_, _ = s.publisher.Publish(ctx, evts, "service")
}

func (s *BondService) observe(op string, start time.Time, err error) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		if _, ok := domain.Classify(err); ok {
			outcome = metrics.OutcomeRejected
		}
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
}

func projectLockKey(projectID string) string {
	return "project:" + projectID
}

// GetProject returns a project by id.
func (s *BondService) GetProject(ctx context.Context, id string) (domain.BondProject, error) {
	p, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return domain.BondProject{}, fmt.Errorf("bond_service: get project %s: %w", id, err)
	}
	return p, nil
}

// ListProjects returns projects, newest first.
func (s *BondService) ListProjects(ctx context.Context, opts domain.ListOpts) ([]domain.BondProject, error) {
	ps, err := s.projects.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("bond_service: list projects: %w", err)
	}
	return ps, nil
}

// ProjectSummary returns the read-only projections of a project as of now.
func (s *BondService) ProjectSummary(ctx context.Context, id string) (bond.Summary, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return bond.Summary{}, err
	}
	sum, err := bond.Summarize(p, s.now().UTC())
	if err != nil {
		return bond.Summary{}, fmt.Errorf("bond_service: summarize %s: %w", id, err)
	}
	return sum, nil
}

// GetClaim returns a claim by id.
func (s *BondService) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("bond_service: get claim %s: %w", id, err)
	}
	return c, nil
}

// ListClaimsByOwner returns every claim held by owner.
func (s *BondService) ListClaimsByOwner(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Claim, error) {
	cs, err := s.claims.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("bond_service: list claims of %s: %w", owner.Hex(), err)
	}
	return cs, nil
}

// ListClaimsByProject returns the claims minted on a project in sequence
// order.
func (s *BondService) ListClaimsByProject(ctx context.Context, projectID string, opts domain.ListOpts) ([]domain.Claim, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	cs, err := s.claims.ListByProject(ctx, projectID, opts)
	if err != nil {
		return nil, fmt.Errorf("bond_service: list claims of project %s: %w", projectID, err)
	}
	return cs, nil
}

// PreviewRedemption projects the payout of a claim as of now.
func (s *BondService) PreviewRedemption(ctx context.Context, claimID string) (bond.Preview, error) {
	c, err := s.GetClaim(ctx, claimID)
	if err != nil {
		return bond.Preview{}, err
	}
	pv, err := bond.PreviewRedemption(c, s.now().UTC())
	if err != nil {
		return bond.Preview{}, fmt.Errorf("bond_service: preview %s: %w", claimID, err)
	}
	return pv, nil
}

// ListEvents returns the event log of a project in commit order.
func (s *BondService) ListEvents(ctx context.Context, projectID string, opts domain.ListOpts) ([]domain.Event, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	evts, err := s.events.ListByProject(ctx, projectID, opts)
	if err != nil {
		return nil, fmt.Errorf("bond_service: list events of %s: %w", projectID, err)
	}
	return evts, nil
}
