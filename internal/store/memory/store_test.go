package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	t0    time.Time
	owner domain.Address
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = New()
	s.t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s.owner = common.HexToAddress("0xabc0000000000000000000000000000000000001")
}

func (s *StoreSuite) project(id string) domain.BondProject {
	return domain.BondProject{
		ID:           id,
		TotalAmount:  1_000,
		IssueDate:    s.t0,
		MaturityDate: s.t0.AddDate(1, 0, 0),
		Sale:         domain.SaleOpen,
	}
}

func (s *StoreSuite) createProject(id string) {
	s.Require().NoError(s.store.Commit(s.ctx, domain.Mutation{
		Project: s.project(id),
		Create:  true,
		Events:  []domain.Event{{ID: "evt-" + id, Type: domain.EventProjectCreated, ProjectID: id, OccurredAt: s.t0}},
	}))
}

func (s *StoreSuite) TestCreateAssignsVersion() {
	s.createProject("p1")

	got, err := s.store.Projects().GetByID(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(uint64(1), got.Version)

	err = s.store.Commit(s.ctx, domain.Mutation{Project: s.project("p1"), Create: true})
	s.ErrorIs(err, domain.ErrAlreadyExists)
}

func (s *StoreSuite) TestVersionGuard() {
	s.createProject("p1")
	p, err := s.store.Projects().GetByID(s.ctx, "p1")
	s.Require().NoError(err)

	p.AmountRaised = 10
	s.Require().NoError(s.store.Commit(s.ctx, domain.Mutation{Project: p, ExpectedVersion: 1}))

	p.AmountRaised = 20
	err = s.store.Commit(s.ctx, domain.Mutation{Project: p, ExpectedVersion: 1})
	s.ErrorIs(err, domain.ErrConflict)

	got, err := s.store.Projects().GetByID(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(uint64(10), got.AmountRaised)
	s.Equal(uint64(2), got.Version)
}

func (s *StoreSuite) TestFailedCommitAppliesNothing() {
	s.createProject("p1")
	p, err := s.store.Projects().GetByID(s.ctx, "p1")
	s.Require().NoError(err)

	p.TokensIssued = 1
	err = s.store.Commit(s.ctx, domain.Mutation{
		Project:         p,
		ExpectedVersion: 1,
		MintedClaim:     &domain.Claim{ID: "c1", ProjectID: "p1", Owner: s.owner},
		Events:          []domain.Event{{ID: "evt-p1", ProjectID: "p1"}},
	})
	s.ErrorIs(err, domain.ErrAlreadyExists)

	_, err = s.store.Claims().GetByID(s.ctx, "c1")
	s.ErrorIs(err, domain.ErrNotFound)
	got, err := s.store.Projects().GetByID(s.ctx, "p1")
	s.Require().NoError(err)
	s.Zero(got.TokensIssued)
}

func (s *StoreSuite) TestRetireClaimOnce() {
	s.createProject("p1")
	claim := domain.Claim{ID: "c1", ProjectID: "p1", Sequence: 1, Owner: s.owner, Principal: 50, State: domain.ClaimLive}
	p, _ := s.store.Projects().GetByID(s.ctx, "p1")
	s.Require().NoError(s.store.Commit(s.ctx, domain.Mutation{Project: p, ExpectedVersion: p.Version, MintedClaim: &claim}))

	retired := claim
	retired.State = domain.ClaimRedeemed
	at := s.t0.AddDate(1, 0, 0)
	retired.RedeemedAt = &at

	p, _ = s.store.Projects().GetByID(s.ctx, "p1")
	s.Require().NoError(s.store.Commit(s.ctx, domain.Mutation{Project: p, ExpectedVersion: p.Version, RetiredClaim: &retired}))

	p, _ = s.store.Projects().GetByID(s.ctx, "p1")
	err := s.store.Commit(s.ctx, domain.Mutation{Project: p, ExpectedVersion: p.Version, RetiredClaim: &retired})
	s.ErrorIs(err, domain.ErrConflict)

	got, err := s.store.Claims().GetByID(s.ctx, "c1")
	s.Require().NoError(err)
	s.True(got.Redeemed())

	want := at
	*retired.RedeemedAt = time.Time{}
	got, _ = s.store.Claims().GetByID(s.ctx, "c1")
	s.Equal(want, *got.RedeemedAt, "stored claim must not alias caller memory")
}

func (s *StoreSuite) TestClaimListings() {
	s.createProject("p1")
	other := common.HexToAddress("0xabc0000000000000000000000000000000000002")
	for i, owner := range []domain.Address{s.owner, other, s.owner} {
		p, _ := s.store.Projects().GetByID(s.ctx, "p1")
		c := domain.Claim{
			ID:           []string{"c1", "c2", "c3"}[i],
			ProjectID:    "p1",
			Sequence:     uint64(i + 1),
			Owner:        owner,
			PurchaseDate: s.t0.Add(time.Duration(i) * time.Hour),
		}
		s.Require().NoError(s.store.Commit(s.ctx, domain.Mutation{Project: p, ExpectedVersion: p.Version, MintedClaim: &c}))
	}

	mine, err := s.store.Claims().ListByOwner(s.ctx, s.owner, domain.ListOpts{})
	s.Require().NoError(err)
	s.Require().Len(mine, 2)
	s.Equal("c1", mine[0].ID)
	s.Equal("c3", mine[1].ID)

	all, err := s.store.Claims().ListByProject(s.ctx, "p1", domain.ListOpts{Offset: 1, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal("c2", all[0].ID)
}

func (s *StoreSuite) TestOutbox() {
	s.createProject("p1")
	s.createProject("p2")

	pending, err := s.store.Events().ListUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 2)

	s.Require().NoError(s.store.Events().MarkPublished(s.ctx, []string{"evt-p1"}, s.t0))
	pending, err = s.store.Events().ListUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("evt-p2", pending[0].ID)

	s.ErrorIs(s.store.Events().MarkPublished(s.ctx, []string{"missing"}, s.t0), domain.ErrNotFound)

	old, err := s.store.Events().ListBefore(s.ctx, s.t0.Add(time.Second))
	s.Require().NoError(err)
	s.Len(old, 2)
	none, err := s.store.Events().ListBefore(s.ctx, s.t0)
	s.Require().NoError(err)
	s.Empty(none)
}
