package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/gavelworks/gaveld/internal/auction"
	"github.com/gavelworks/gaveld/internal/domain"
	"github.com/gavelworks/gaveld/internal/notify"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memLock is a single in-process lock that records whether it is held, so
// tests can assert which writes happened under it.
type memLock struct {
	mu   sync.Mutex
	held bool
}

func (m *memLock) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return nil, domain.ErrLockHeld
	}
	m.held = true
	return func() {
		m.mu.Lock()
		m.held = false
		m.mu.Unlock()
	}, nil
}

func (m *memLock) isHeld() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

type statusUpdate struct {
	status    domain.ListingStatus
	leaderID  string
	underLock bool
}

// memListings holds a single listing and records status transitions together
// with the lock state at the moment of the write.
type memListings struct {
	lock    *memLock
	listing domain.Listing
	updates []statusUpdate
}

func (m *memListings) Create(_ context.Context, l domain.Listing) error {
	m.listing = l
	return nil
}

func (m *memListings) GetByID(_ context.Context, id string) (domain.Listing, error) {
	if id != m.listing.ID {
		return domain.Listing{}, domain.ErrNotFound
	}
	return m.listing, nil
}

func (m *memListings) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Listing, error) {
	return nil, nil
}

func (m *memListings) ListExpired(_ context.Context, _ time.Time, _ int) ([]domain.Listing, error) {
	return nil, nil
}

func (m *memListings) ListClosedUnarchived(_ context.Context, _ time.Time, _ int) ([]domain.Listing, error) {
	return nil, nil
}

func (m *memListings) ExtendClose(_ context.Context, id string, newClose, at time.Time) error {
	if id != m.listing.ID {
		return domain.ErrNotFound
	}
	m.listing.CloseTime = newClose
	m.listing.Extensions = append(m.listing.Extensions, at)
	return nil
}

func (m *memListings) UpdateStatus(_ context.Context, id string, status domain.ListingStatus, leaderID string) error {
	if id != m.listing.ID {
		return domain.ErrNotFound
	}
	m.updates = append(m.updates, statusUpdate{
		status:    status,
		leaderID:  leaderID,
		underLock: m.lock.isHeld(),
	})
	m.listing.Status = status
	if leaderID != "" {
		m.listing.LeaderID = leaderID
	}
	return nil
}

func (m *memListings) MarkArchived(_ context.Context, _ string, _ time.Time) error {
	return nil
}

type memBids struct{ rows []domain.Bid }

func (m *memBids) Append(_ context.Context, b domain.Bid) error {
	m.rows = append(m.rows, b)
	return nil
}

func (m *memBids) ListByListing(_ context.Context, _ string, _ domain.ListOpts) ([]domain.Bid, error) {
	return m.rows, nil
}

func (m *memBids) Top(_ context.Context, _ string) (domain.Bid, error) {
	if len(m.rows) == 0 {
		return domain.Bid{}, domain.ErrNotFound
	}
	return m.rows[len(m.rows)-1], nil
}

func (m *memBids) CountByListing(_ context.Context, _ string) (int64, error) {
	return int64(len(m.rows)), nil
}

type memAutoBids struct {
	active      []domain.AutoBid
	upserts     []domain.AutoBid
	deactivated []string
}

func (m *memAutoBids) Upsert(_ context.Context, ab domain.AutoBid) (domain.AutoBid, error) {
	m.upserts = append(m.upserts, ab)
	return ab, nil
}

func (m *memAutoBids) Update(_ context.Context, _ int64, _ domain.AutoBidUpdate) (domain.AutoBid, error) {
	return domain.AutoBid{}, domain.ErrNotFound
}

func (m *memAutoBids) Deactivate(_ context.Context, _ int64) error { return nil }

func (m *memAutoBids) DeactivateByListing(_ context.Context, listingID string) error {
	m.deactivated = append(m.deactivated, listingID)
	return nil
}

func (m *memAutoBids) GetByID(_ context.Context, _ int64) (domain.AutoBid, error) {
	return domain.AutoBid{}, domain.ErrNotFound
}

func (m *memAutoBids) GetByPair(_ context.Context, _, _ string) (domain.AutoBid, error) {
	return domain.AutoBid{}, domain.ErrNotFound
}

func (m *memAutoBids) ListActive(_ context.Context, _ string) ([]domain.AutoBid, error) {
	return m.active, nil
}

// memSettle applies commits to the backing listing with the same version CAS
// the real store enforces.
type memSettle struct {
	listings *memListings
	commits  []domain.SettlementCommit
}

func (m *memSettle) Commit(_ context.Context, sc domain.SettlementCommit) error {
	if sc.ExpectedVersion != m.listings.listing.Version {
		return domain.ErrVersionMismatch
	}
	m.commits = append(m.commits, sc)
	m.listings.listing.CurrentPrice = sc.NewPrice
	m.listings.listing.LeaderID = sc.LeaderID
	m.listings.listing.Version++
	return nil
}

type memUsers struct{ users map[string]domain.User }

func (m *memUsers) GetByID(_ context.Context, id string) (domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

type memRatings struct{}

func (memRatings) Summary(_ context.Context, _ string, _ domain.Role) (domain.RatingSummary, error) {
	return domain.RatingSummary{}, nil
}

type memOrders struct{ created []domain.Order }

func (m *memOrders) Create(_ context.Context, o domain.Order) error {
	m.created = append(m.created, o)
	return nil
}

func (m *memOrders) GetByID(_ context.Context, _ string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (m *memOrders) GetByListing(_ context.Context, _ string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (m *memOrders) UpdateStatus(_ context.Context, _ string, _ domain.OrderStatus) error {
	return nil
}

type memAudit struct{}

func (memAudit) Log(_ context.Context, _ string, _ map[string]any) error { return nil }

func (memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memCache struct{}

func (memCache) Get(_ context.Context, _ string) (domain.Listing, error) {
	return domain.Listing{}, domain.ErrNotFound
}

func (memCache) Set(_ context.Context, _ domain.Listing) error { return nil }
func (memCache) Invalidate(_ context.Context, _ string) error  { return nil }

type memLimiter struct {
	calls int
	allow bool
}

func (m *memLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	m.calls++
	return m.allow, nil
}

type memBus struct{}

func (memBus) Publish(_ context.Context, _ string, _ []byte) error { return nil }

func (memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

// captureSender records every delivered message so tests can inspect the
// recipient envelope.
type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, title+"|"+message)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type bidFixture struct {
	svc      *BidService
	listings *memListings
	autoBids *memAutoBids
	orders   *memOrders
	limiter  *memLimiter
	sender   *captureSender
}

func newBidFixture(t *testing.T, listing domain.Listing, cfg BidServiceConfig) *bidFixture {
	t.Helper()

	lock := &memLock{}
	listings := &memListings{lock: lock, listing: listing}
	autoBids := &memAutoBids{}
	orders := &memOrders{}
	limiter := &memLimiter{allow: true}
	sender := &captureSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := &memUsers{users: map[string]domain.User{
		"seller-1": {ID: "seller-1", Email: "seller@example.com", Role: domain.RoleSeller},
		"alice":    {ID: "alice", Email: "alice@example.com", Role: domain.RoleBidder},
		"bob":      {ID: "bob", Email: "bob@example.com", Role: domain.RoleBidder},
		"carol":    {ID: "carol", Email: "carol@example.com", Role: domain.RoleBidder},
		"dave":     {ID: "dave", Email: "dave@example.com", Role: domain.RoleBidder},
	}}

	svc := NewBidService(
		listings,
		&memBids{},
		autoBids,
		&memSettle{listings: listings},
		users,
		memRatings{},
		orders,
		memAudit{},
		memCache{},
		lock,
		limiter,
		memBus{},
		notify.NewNotifier([]notify.Sender{sender}, nil, logger),
		cfg,
		logger,
	)

	return &bidFixture{
		svc:      svc,
		listings: listings,
		autoBids: autoBids,
		orders:   orders,
		limiter:  limiter,
		sender:   sender,
	}
}

func openListing() domain.Listing {
	return domain.Listing{
		ID:            "lst-1",
		SellerID:      "seller-1",
		Title:         "brass sextant",
		StartingPrice: dec("50"),
		CurrentPrice:  dec("50"),
		StepIncrement: dec("10"),
		CloseTime:     time.Now().UTC().Add(time.Hour),
		Status:        domain.ListingStatusActive,
		AllowUnrated:  true,
		Version:       1,
	}
}

func defaultBidConfig() BidServiceConfig {
	return BidServiceConfig{
		Auction:       auction.Config{MinPositiveRatio: 0.8},
		SettleRetries: 3,
		LockTTL:       time.Second,
		RateLimit:     100,
		RateWindow:    time.Second,
	}
}

func TestPlaceBidBuyNowSellsWhileLockHeld(t *testing.T) {
	listing := openListing()
	buyNow := dec("100")
	listing.BuyNowPrice = &buyNow
	listing.LeaderID = "bob"
	fx := newBidFixture(t, listing, defaultBidConfig())

	res, err := fx.svc.PlaceBid(context.Background(), auction.BidRequest{
		ListingID: "lst-1",
		BidderID:  "carol",
		Amount:    dec("100"),
	})
	assert.Nil(t, err)

	check.Equal(t, domain.ListingStatusSold, res.Listing.Status)

	// The sold transition must land before the listing lock is released, so
	// no later bid can be admitted against a listing that already met its
	// threshold.
	assert.Equal(t, 1, len(fx.listings.updates))
	check.Equal(t, domain.ListingStatusSold, fx.listings.updates[0].status)
	check.Equal(t, "carol", fx.listings.updates[0].leaderID)
	check.True(t, fx.listings.updates[0].underLock)

	assert.Equal(t, 1, len(fx.orders.created))
	check.Equal(t, "carol", fx.orders.created[0].BuyerID)
	check.True(t, fx.orders.created[0].Amount.Equal(dec("100")))
	check.Equal(t, []string{"lst-1"}, fx.autoBids.deactivated)
}

func TestPlaceBidRejectedOnceBuyNowThresholdMet(t *testing.T) {
	listing := openListing()
	buyNow := dec("100")
	listing.BuyNowPrice = &buyNow
	fx := newBidFixture(t, listing, defaultBidConfig())

	_, err := fx.svc.PlaceBid(context.Background(), auction.BidRequest{
		ListingID: "lst-1",
		BidderID:  "carol",
		Amount:    dec("100"),
	})
	assert.Nil(t, err)

	_, err = fx.svc.PlaceBid(context.Background(), auction.BidRequest{
		ListingID: "lst-1",
		BidderID:  "dave",
		Amount:    dec("150"),
	})
	check.True(t, errors.Is(err, domain.ErrListingClosed))
}

func TestPlaceBidZeroRateLimitDisablesThrottle(t *testing.T) {
	cfg := defaultBidConfig()
	cfg.RateLimit = 0
	fx := newBidFixture(t, openListing(), cfg)
	fx.limiter.allow = false

	_, err := fx.svc.PlaceBid(context.Background(), auction.BidRequest{
		ListingID: "lst-1",
		BidderID:  "carol",
		Amount:    dec("60"),
	})
	check.Nil(t, err)
	check.Equal(t, 0, fx.limiter.calls)
}

func TestPlaceBidAddressesOutbidNoticeToDisplacedLeader(t *testing.T) {
	listing := openListing()
	listing.LeaderID = "bob"
	fx := newBidFixture(t, listing, defaultBidConfig())

	_, err := fx.svc.PlaceBid(context.Background(), auction.BidRequest{
		ListingID: "lst-1",
		BidderID:  "carol",
		Amount:    dec("60"),
	})
	assert.Nil(t, err)

	msgs := fx.sender.messages()
	assert.Equal(t, 1, len(msgs))
	check.True(t, strings.HasPrefix(msgs[0], "Outbid|to:bob@example.com\n"))
}

func TestPlaceBidProxyOutbidSetsNoteAndNotifiesBidder(t *testing.T) {
	listing := openListing()
	fx := newBidFixture(t, listing, defaultBidConfig())
	fx.autoBids.active = []domain.AutoBid{{
		ID:        1,
		ListingID: "lst-1",
		BidderID:  "alice",
		MaxAmount: dec("500"),
		Active:    true,
	}}

	res, err := fx.svc.PlaceBid(context.Background(), auction.BidRequest{
		ListingID: "lst-1",
		BidderID:  "carol",
		Amount:    dec("60"),
	})
	assert.Nil(t, err)

	check.Equal(t, "outbid by automatic bidding", res.Note)
	check.Equal(t, "alice", res.Listing.LeaderID)

	var proxyNotice string
	for _, m := range fx.sender.messages() {
		if strings.HasPrefix(m, "Outbid by proxy|") {
			proxyNotice = m
		}
	}
	check.True(t, strings.HasPrefix(proxyNotice, "Outbid by proxy|to:carol@example.com\n"))
}

func TestPlaceBidUpsertCarriesAcceptedAmount(t *testing.T) {
	fx := newBidFixture(t, openListing(), defaultBidConfig())
	ceiling := dec("300")

	_, err := fx.svc.PlaceBid(context.Background(), auction.BidRequest{
		ListingID: "lst-1",
		BidderID:  "carol",
		Amount:    dec("60"),
		MaxPrice:  &ceiling,
	})
	assert.Nil(t, err)

	assert.Equal(t, 1, len(fx.autoBids.upserts))
	check.True(t, fx.autoBids.upserts[0].CurrentAmount.Equal(dec("60")))
	check.True(t, fx.autoBids.upserts[0].MaxAmount.Equal(dec("300")))
}
