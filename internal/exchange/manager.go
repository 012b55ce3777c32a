package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/ledger"
	"github.com/atmx/lmsr-amm/internal/limits"
	"github.com/atmx/lmsr-amm/internal/lmsr"
	"github.com/atmx/lmsr-amm/internal/metrics"
	"github.com/atmx/lmsr-amm/internal/model"
	"github.com/atmx/lmsr-amm/internal/store"
)

// DefaultLiquidity is used when neither the request nor Options set b.
const DefaultLiquidity = 100.0

// Options configures a Manager.
type Options struct {
	// DefaultLiquidity is the b applied when an OpenRequest leaves it zero.
	DefaultLiquidity float64

	// Limiter, when set, vets every trade before the ledger sees it.
	Limiter *limits.PositionLimiter

	// Listener, when set, receives an Event after each persisted change.
	Listener Listener

	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

type market struct {
	record model.Market
	ledger *ledger.Ledger
}

// Manager owns the in-memory ledger of every market. Mutating calls are
// serialised with one mutex so the store sees changes in the order they
// were applied.
type Manager struct {
	store    store.Store
	limiter  *limits.PositionLimiter
	listener Listener
	defaultB float64
	now      func() time.Time

	mu      sync.RWMutex
	markets map[string]*market
}

// NewManager creates a manager persisting through st.
func NewManager(st store.Store, opts Options) *Manager {
	b := opts.DefaultLiquidity
	if b <= 0 {
		b = DefaultLiquidity
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:    st,
		limiter:  opts.Limiter,
		listener: opts.Listener,
		defaultB: b,
		now:      now,
		markets:  make(map[string]*market),
	}
}

// Load rebuilds every market's ledger from the store. It is meant to be
// called once at start-up, before any other method.
func (m *Manager) Load(ctx context.Context) error {
	records, err := m.store.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("exchange: list markets: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	open := 0
	for _, rec := range records {
		positions, err := m.store.GetPositions(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("exchange: load positions of %s: %w", rec.ID, err)
		}
		snap := ledger.Snapshot{
			Liquidity: rec.Liquidity,
			Shares:    rec.Shares,
			Positions: make(map[string]ledger.Position, len(positions)),
		}
		for _, p := range positions {
			snap.Positions[p.ParticipantID] = ledger.Position{Shares: p.Shares, Collateral: p.Collateral}
		}
		l, err := ledger.Restore(snap)
		if err != nil {
			return fmt.Errorf("exchange: restore %s: %w", rec.ID, err)
		}
		m.markets[rec.ID] = &market{record: rec, ledger: l}
		if rec.Status == model.StatusOpen {
			open++
		}
	}
	metrics.OpenMarkets.Set(float64(open))

	log.Info().Int("markets", len(records)).Int("open", open).Msg("markets-loaded")
	return nil
}

// OpenMarket validates req, creates the market and persists it.
func (m *Manager) OpenMarket(ctx context.Context, req OpenRequest) (MarketView, error) {
	outcomes, err := normaliseOutcomes(req.Outcomes)
	if err != nil {
		return MarketView{}, err
	}
	b := req.Liquidity
	if b == 0 {
		b = m.defaultB
	}
	l, err := ledger.New(b, len(outcomes))
	if err != nil {
		return MarketView{}, fmt.Errorf("%w: %w", ErrInvalidMarket, err)
	}

	now := m.now()
	rec := model.Market{
		ID:          shortuuid.New(),
		Description: strings.TrimSpace(req.Description),
		Outcomes:    outcomes,
		Liquidity:   b,
		Shares:      l.OutstandingShares(),
		Status:      model.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.CreateMarket(ctx, &rec); err != nil {
		return MarketView{}, fmt.Errorf("exchange: create market: %w", err)
	}
	mk := &market{record: rec, ledger: l}
	m.markets[rec.ID] = mk
	metrics.OpenMarkets.Inc()

	log.Info().
		Str("market", rec.ID).
		Strs("outcomes", outcomes).
		Float64("b", b).
		Float64("max-loss", l.MaxLoss()).
		Msg("market-opened")

	m.publish(mk, EventMarketOpened, nil, nil, "")
	return view(mk), nil
}

func normaliseOutcomes(labels []string) ([]string, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("%w: need at least two outcomes, got %d", ErrInvalidMarket, len(labels))
	}
	seen := make(map[string]bool, len(labels))
	out := make([]string, len(labels))
	for i, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("%w: outcome %d has an empty label", ErrInvalidMarket, i)
		}
		if seen[label] {
			return nil, fmt.Errorf("%w: duplicate outcome %q", ErrInvalidMarket, label)
		}
		seen[label] = true
		out[i] = label
	}
	return out, nil
}

// Market returns a live view of one market.
func (m *Manager) Market(_ context.Context, id string) (MarketView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mk, err := m.lookup(id)
	if err != nil {
		return MarketView{}, err
	}
	return view(mk), nil
}

// Markets returns every market, newest first.
func (m *Manager) Markets(ctx context.Context) ([]MarketView, error) {
	records, err := m.store.ListMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange: list markets: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]MarketView, 0, len(records))
	for _, rec := range records {
		if mk, ok := m.markets[rec.ID]; ok {
			views = append(views, view(mk))
		}
	}
	return views, nil
}

// Deposit credits collateral to a participant. Resolved markets refuse it.
func (m *Manager) Deposit(ctx context.Context, marketID, participantID string, amount decimal.Decimal) (PositionView, error) {
	if participantID == "" {
		return PositionView{}, ErrMissingParticipant
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mk, err := m.lookup(marketID)
	if err != nil {
		return PositionView{}, err
	}
	if mk.record.Status == model.StatusResolved {
		return PositionView{}, ErrMarketResolved
	}
	if err := mk.ledger.DepositCollateral(participantID, amount); err != nil {
		return PositionView{}, err
	}

	now := m.now()
	if err := m.persistPosition(ctx, mk, participantID, now); err != nil {
		return PositionView{}, err
	}
	entry := &model.LedgerEntry{
		MarketID:      marketID,
		ParticipantID: participantID,
		Kind:          model.KindDeposit,
		Outcome:       -1,
		Quantity:      decimal.Zero,
		Cost:          amount.Neg(),
		Timestamp:     now,
	}
	if err := m.record(ctx, entry); err != nil {
		return PositionView{}, err
	}
	metrics.CollateralDeposited.Add(amount.InexactFloat64())

	log.Info().
		Str("market", marketID).
		Str("participant", participantID).
		Str("amount", amount.String()).
		Msg("collateral-deposited")

	return positionView(mk, participantID)
}

// Trade issues delta shares of outcome to the participant. A declined trade
// returns its result together with a *DeclineError.
func (m *Manager) Trade(ctx context.Context, marketID, participantID string, outcome int, delta decimal.Decimal) (ledger.TradeResult, error) {
	return m.execute(ctx, marketID, participantID, outcome,
		func(*ledger.Ledger) (decimal.Decimal, error) { return delta, nil },
		func(l *ledger.Ledger) (ledger.TradeResult, error) { return l.Trade(participantID, outcome, delta) },
	)
}

// BuyWithMaxPrice buys up to shares of outcome without pushing its price past
// maxPrice. The position limiter vets the capped size.
func (m *Manager) BuyWithMaxPrice(ctx context.Context, marketID, participantID string, outcome int, shares decimal.Decimal, maxPrice float64) (ledger.TradeResult, error) {
	return m.execute(ctx, marketID, participantID, outcome,
		func(l *ledger.Ledger) (decimal.Decimal, error) {
			size, err := l.CappedBuySize(outcome, shares, maxPrice)
			if err != nil {
				return decimal.Zero, err
			}
			return decimal.Max(size, decimal.Zero), nil
		},
		func(l *ledger.Ledger) (ledger.TradeResult, error) {
			return l.BuyWithMaxPrice(participantID, outcome, shares, maxPrice)
		},
	)
}

// execute runs one ledger call under the write lock. size reports the shares
// the call will trade so the limiter can vet them; apply performs it.
func (m *Manager) execute(
	ctx context.Context,
	marketID, participantID string,
	outcome int,
	size func(*ledger.Ledger) (decimal.Decimal, error),
	apply func(*ledger.Ledger) (ledger.TradeResult, error),
) (ledger.TradeResult, error) {
	start := time.Now()
	defer func() { metrics.TradeLatency.Observe(time.Since(start).Seconds()) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	mk, err := m.lookup(marketID)
	if err != nil {
		return ledger.TradeResult{}, err
	}
	if mk.record.Status != model.StatusOpen {
		return ledger.TradeResult{}, ErrMarketNotOpen
	}
	if outcome < 0 || outcome >= len(mk.record.Outcomes) {
		return ledger.TradeResult{}, fmt.Errorf("%w: %d not in [0, %d)", lmsr.ErrInvalidOutcome, outcome, len(mk.record.Outcomes))
	}

	delta, err := size(mk.ledger)
	if err != nil {
		return ledger.TradeResult{}, err
	}
	if m.limiter != nil {
		var holdings []decimal.Decimal
		if p, ok := mk.ledger.Position(participantID); ok {
			holdings = p.Shares
		}
		if err := m.limiter.CheckTrade(holdings, outcome, delta); err != nil {
			metrics.LimitRejections.Inc()
			log.Info().
				Err(err).
				Str("market", marketID).
				Str("participant", participantID).
				Int("outcome", outcome).
				Str("shares", delta.String()).
				Msg("trade-rejected")
			return ledger.TradeResult{}, err
		}
	}

	res, err := apply(mk.ledger)
	if err != nil {
		return res, err
	}
	metrics.TradesTotal.WithLabelValues(res.Status.String()).Inc()

	if !res.Executed() {
		log.Info().
			Str("market", marketID).
			Str("participant", participantID).
			Int("outcome", outcome).
			Stringer("status", res.Status).
			Msg("trade-declined")
		return res, &DeclineError{Result: res}
	}

	now := m.now()
	if err := m.persistTrade(ctx, mk, participantID, res, now); err != nil {
		return res, err
	}
	metrics.MarketVolume.WithLabelValues(marketID, strconv.Itoa(outcome)).Add(res.Shares.Abs().InexactFloat64())

	log.Info().
		Str("market", marketID).
		Str("participant", participantID).
		Int("outcome", outcome).
		Str("shares", res.Shares.String()).
		Str("cost", res.Cost.String()).
		Float64("price", res.Price).
		Msg("trade-executed")

	shares := res.Shares
	m.publish(mk, EventTradeExecuted, &outcome, &shares, participantID)
	return res, nil
}

func (m *Manager) persistTrade(ctx context.Context, mk *market, participantID string, res ledger.TradeResult, now time.Time) error {
	if err := m.persistPosition(ctx, mk, participantID, now); err != nil {
		return err
	}
	if err := m.persistState(ctx, mk, now); err != nil {
		return err
	}
	return m.record(ctx, &model.LedgerEntry{
		MarketID:      mk.record.ID,
		ParticipantID: participantID,
		Kind:          model.KindTrade,
		Outcome:       res.Outcome,
		Quantity:      res.Shares,
		Cost:          res.Cost,
		PriceAfter:    res.Price,
		Timestamp:     now,
	})
}

func (m *Manager) persistPosition(ctx context.Context, mk *market, participantID string, now time.Time) error {
	p, ok := mk.ledger.Position(participantID)
	if !ok {
		return nil
	}
	return m.storePosition(ctx, mk, participantID, p, now)
}

func (m *Manager) storePosition(ctx context.Context, mk *market, participantID string, p ledger.Position, now time.Time) error {
	err := m.store.UpsertPosition(ctx, &model.Position{
		MarketID:      mk.record.ID,
		ParticipantID: participantID,
		Shares:        p.Shares,
		Collateral:    p.Collateral,
		UpdatedAt:     now,
	})
	if err != nil {
		log.Error().Err(err).Str("market", mk.record.ID).Str("participant", participantID).Msg("position-persist-failed")
		return fmt.Errorf("exchange: persist position: %w", err)
	}
	return nil
}

func (m *Manager) persistState(ctx context.Context, mk *market, now time.Time) error {
	shares := mk.ledger.OutstandingShares()
	err := m.store.UpdateMarketState(ctx, mk.record.ID, shares, mk.record.Status, mk.record.ResolvedOutcome)
	if err != nil {
		log.Error().Err(err).Str("market", mk.record.ID).Msg("market-persist-failed")
		return fmt.Errorf("exchange: persist market: %w", err)
	}
	mk.record.Shares = shares
	mk.record.UpdatedAt = now
	return nil
}

func (m *Manager) record(ctx context.Context, entry *model.LedgerEntry) error {
	entry.ID = uuid.New().String()
	if err := m.store.InsertLedgerEntry(ctx, entry); err != nil {
		log.Error().Err(err).Str("market", entry.MarketID).Str("kind", entry.Kind).Msg("ledger-entry-failed")
		return fmt.Errorf("exchange: record %s: %w", entry.Kind, err)
	}
	return nil
}

// Quote prices a trade without applying it.
func (m *Manager) Quote(_ context.Context, marketID string, outcome int, delta decimal.Decimal) (QuoteView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mk, err := m.lookup(marketID)
	if err != nil {
		return QuoteView{}, err
	}
	q, err := mk.ledger.Quote(outcome, delta)
	if err != nil {
		return QuoteView{}, err
	}
	return QuoteView{
		MarketID:     marketID,
		Outcome:      outcome,
		Shares:       q.Shares,
		Cost:         q.Cost,
		AveragePrice: q.AveragePrice(),
		PriceBefore:  q.PriceBefore,
		PriceAfter:   q.PriceAfter,
	}, nil
}

// TargetShares returns the signed shares of outcome that move its price to
// price.
func (m *Manager) TargetShares(_ context.Context, marketID string, outcome int, price float64) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mk, err := m.lookup(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	return mk.ledger.SharesToReachPrice(outcome, price)
}

// Position returns one participant's holdings in a market.
func (m *Manager) Position(_ context.Context, marketID, participantID string) (PositionView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mk, err := m.lookup(marketID)
	if err != nil {
		return PositionView{}, err
	}
	return positionView(mk, participantID)
}

// History returns the ledger entries of a market in the order they happened.
func (m *Manager) History(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	m.mu.RLock()
	_, err := m.lookup(marketID)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	entries, err := m.store.GetLedgerEntriesByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("exchange: market history: %w", err)
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}

// ParticipantHistory returns a participant's ledger entries across markets.
func (m *Manager) ParticipantHistory(ctx context.Context, participantID string) ([]model.LedgerEntry, error) {
	entries, err := m.store.GetLedgerEntriesByParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("exchange: participant history: %w", err)
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}

// CloseMarket stops trading. Deposits and resolution remain possible.
func (m *Manager) CloseMarket(ctx context.Context, marketID string) (MarketView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, err := m.lookup(marketID)
	if err != nil {
		return MarketView{}, err
	}
	switch mk.record.Status {
	case model.StatusResolved:
		return MarketView{}, ErrMarketResolved
	case model.StatusClosed:
		return view(mk), nil
	}

	if err := m.setStatus(ctx, mk, model.StatusClosed, nil); err != nil {
		return MarketView{}, err
	}
	metrics.OpenMarkets.Dec()

	log.Info().Str("market", marketID).Msg("market-closed")
	m.publish(mk, EventMarketClosed, nil, nil, "")
	return view(mk), nil
}

// ResolveMarket settles the market on the winning outcome. Each holding of
// the winner moves its owner's collateral one for one: longs are credited and
// shorts debited, a short's debit capped at its collateral. An open market is
// closed before any payout and marked resolved only once every participant
// is settled, so a failed call can be retried and pays only those it missed.
func (m *Manager) ResolveMarket(ctx context.Context, marketID string, outcome int) (Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, err := m.lookup(marketID)
	if err != nil {
		return Settlement{}, err
	}
	if mk.record.Status == model.StatusResolved {
		return Settlement{}, ErrMarketResolved
	}
	if outcome < 0 || outcome >= len(mk.record.Outcomes) {
		return Settlement{}, fmt.Errorf("%w: %d not in [0, %d)", lmsr.ErrInvalidOutcome, outcome, len(mk.record.Outcomes))
	}

	done, err := m.settled(ctx, marketID, outcome)
	if err != nil {
		return Settlement{}, err
	}

	if mk.record.Status == model.StatusOpen {
		if err := m.setStatus(ctx, mk, model.StatusClosed, nil); err != nil {
			return Settlement{}, err
		}
		metrics.OpenMarkets.Dec()
	}

	settlement := Settlement{
		MarketID:  marketID,
		Outcome:   outcome,
		Payouts:   make(map[string]decimal.Decimal),
		TotalPaid: decimal.Zero,
		Collected: decimal.Zero,
		Shortfall: decimal.Zero,
	}
	now := m.now()
	for _, id := range mk.ledger.Participants() {
		if pay, ok := done[id]; ok {
			settlement.add(id, pay)
			continue
		}
		pay, err := mk.ledger.PayoutFor(id, outcome)
		if err != nil {
			return Settlement{}, err
		}
		if pay.Holding.IsZero() {
			continue
		}
		if err := m.settle(ctx, mk, id, outcome, pay, now); err != nil {
			return Settlement{}, err
		}
		settlement.add(id, pay)
	}

	if err := m.setStatus(ctx, mk, model.StatusResolved, &outcome); err != nil {
		return Settlement{}, err
	}

	if settlement.Shortfall.IsPositive() {
		log.Warn().
			Str("market", marketID).
			Str("shortfall", settlement.Shortfall.String()).
			Msg("short-settlement-shortfall")
	}
	log.Info().
		Str("market", marketID).
		Str("winner", mk.record.Outcomes[outcome]).
		Int("payouts", len(settlement.Payouts)).
		Str("total-paid", settlement.TotalPaid.String()).
		Str("collected", settlement.Collected.String()).
		Msg("market-resolved")

	m.publish(mk, EventMarketResolved, &outcome, nil, "")
	return settlement, nil
}

// settled returns the payouts an earlier, interrupted resolution already
// recorded for the market.
func (m *Manager) settled(ctx context.Context, marketID string, outcome int) (map[string]ledger.Payout, error) {
	entries, err := m.store.GetLedgerEntriesByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("exchange: load settlements: %w", err)
	}
	done := make(map[string]ledger.Payout)
	for _, e := range entries {
		if e.Kind != model.KindSettle {
			continue
		}
		if e.Outcome != outcome {
			return nil, fmt.Errorf("%w: settlement on outcome %d already started", ErrMarketResolved, e.Outcome)
		}
		amount := e.Cost.Neg()
		done[e.ParticipantID] = ledger.Payout{
			Holding:   e.Quantity,
			Amount:    amount,
			Shortfall: amount.Sub(e.Quantity),
		}
	}
	return done, nil
}

// settle persists one participant's payout before applying it, so a store
// failure leaves the ledger untouched.
func (m *Manager) settle(ctx context.Context, mk *market, participantID string, outcome int, pay ledger.Payout, now time.Time) error {
	p, _ := mk.ledger.Position(participantID)
	p.Collateral = p.Collateral.Add(pay.Amount)
	if err := m.storePosition(ctx, mk, participantID, p, now); err != nil {
		return err
	}
	err := m.record(ctx, &model.LedgerEntry{
		MarketID:      mk.record.ID,
		ParticipantID: participantID,
		Kind:          model.KindSettle,
		Outcome:       outcome,
		Quantity:      pay.Holding,
		Cost:          pay.Amount.Neg(),
		PriceAfter:    1,
		Timestamp:     now,
	})
	if err != nil {
		return err
	}
	return mk.ledger.Settle(participantID, pay.Amount)
}

func (m *Manager) setStatus(ctx context.Context, mk *market, status string, resolved *int) error {
	prevStatus, prevResolved := mk.record.Status, mk.record.ResolvedOutcome
	mk.record.Status, mk.record.ResolvedOutcome = status, resolved
	if err := m.persistState(ctx, mk, m.now()); err != nil {
		mk.record.Status, mk.record.ResolvedOutcome = prevStatus, prevResolved
		return err
	}
	return nil
}

func (m *Manager) lookup(id string) (*market, error) {
	mk, ok := m.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return mk, nil
}

func (m *Manager) publish(mk *market, typ string, outcome *int, shares *decimal.Decimal, participantID string) {
	if m.listener == nil {
		return
	}
	m.listener.Publish(Event{
		Type:          typ,
		MarketID:      mk.record.ID,
		Status:        mk.record.Status,
		Prices:        mk.ledger.Prices(),
		Outcome:       outcome,
		Shares:        shares,
		ParticipantID: participantID,
	})
}

func view(mk *market) MarketView {
	outcomes := make([]string, len(mk.record.Outcomes))
	copy(outcomes, mk.record.Outcomes)
	var resolved *int
	if mk.record.ResolvedOutcome != nil {
		v := *mk.record.ResolvedOutcome
		resolved = &v
	}
	return MarketView{
		ID:              mk.record.ID,
		Description:     mk.record.Description,
		Outcomes:        outcomes,
		Liquidity:       mk.ledger.Liquidity(),
		Shares:          mk.ledger.OutstandingShares(),
		Prices:          mk.ledger.Prices(),
		MaxLoss:         mk.ledger.MaxLoss(),
		Status:          mk.record.Status,
		ResolvedOutcome: resolved,
		Participants:    len(mk.ledger.Participants()),
		CreatedAt:       mk.record.CreatedAt,
		UpdatedAt:       mk.record.UpdatedAt,
	}
}

func positionView(mk *market, participantID string) (PositionView, error) {
	p, ok := mk.ledger.Position(participantID)
	if !ok {
		return PositionView{}, fmt.Errorf("%w: %s", ErrParticipantNotFound, participantID)
	}
	prices := mk.ledger.Prices()
	value := decimal.Zero
	for i, q := range p.Shares {
		value = value.Add(q.Mul(decimal.NewFromFloat(prices[i])))
	}
	return PositionView{
		MarketID:      mk.record.ID,
		ParticipantID: participantID,
		Shares:        p.Shares,
		Collateral:    p.Collateral,
		Value:         value.Round(lmsr.PriceScale),
	}, nil
}

// IsNotFound reports whether err means an unknown market or participant.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMarketNotFound) || errors.Is(err, ErrParticipantNotFound)
}
