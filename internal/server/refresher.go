package server

import (
	"context"
	"sync"
	"time"

	"github.com/estable-labs/estable-backend/internal/accrual"
	"go.uber.org/zap"
)

const snapshotBufferSize = 4

// PortfolioSnapshot is one periodic re-evaluation of a wallet's portfolio.
type PortfolioSnapshot struct {
	WalletAddress string                  `json:"wallet_address"`
	Totals        accrual.PortfolioTotals `json:"totals"`
	EvaluatedAtS  int64                   `json:"evaluated_at_s"`
}

// RefresherConfig describes the dependencies of the portfolio refresher.
type RefresherConfig struct {
	Simulator *accrual.Simulator
	Clock     func() time.Time
	Interval  time.Duration
	Logger    *zap.Logger
}

// PortfolioRefresher re-evaluates subscribed portfolios on a fixed interval
// and publishes snapshots to their subscribers. It replaces the front-end's
// free-running timers with one cooperative loop whose lifetime is bound to a
// context, so shutdown is clean and tests can drive refreshes directly.
type PortfolioRefresher struct {
	simulator *accrual.Simulator
	clock     func() time.Time
	interval  time.Duration
	logger    *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]map[int64]*portfolioSubscriber
	nextID      int64
}

type portfolioSubscriber struct {
	id     int64
	vaults []accrual.VaultID
	stream chan PortfolioSnapshot
}

// NewPortfolioRefresher constructs the refresher.
func NewPortfolioRefresher(cfg RefresherConfig) *PortfolioRefresher {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortfolioRefresher{
		simulator:   cfg.Simulator,
		clock:       clock,
		interval:    interval,
		logger:      logger,
		subscribers: make(map[string]map[int64]*portfolioSubscriber),
	}
}

// Subscribe registers a wallet for periodic snapshots. The returned cancel
// function is idempotent; cancellation of ctx also unregisters.
func (r *PortfolioRefresher) Subscribe(ctx context.Context, wallet string, vaults []accrual.VaultID) (<-chan PortfolioSnapshot, func()) {
	if wallet == "" || len(vaults) == 0 {
		ch := make(chan PortfolioSnapshot)
		close(ch)
		return ch, func() {}
	}

	subscriber := &portfolioSubscriber{
		id:     r.nextSequence(),
		vaults: append([]accrual.VaultID(nil), vaults...),
		stream: make(chan PortfolioSnapshot, snapshotBufferSize),
	}
	r.registerSubscriber(wallet, subscriber)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			r.unregisterSubscriber(wallet, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Run drives the refresh loop until ctx is cancelled.
func (r *PortfolioRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshOnce(ctx, r.clock())
		}
	}
}

// RefreshOnce evaluates every subscribed portfolio at one instant and
// publishes the snapshots. Exposed so tests can refresh deterministically.
func (r *PortfolioRefresher) RefreshOnce(ctx context.Context, now time.Time) {
	r.mu.RLock()
	wallets := make(map[string][]*portfolioSubscriber, len(r.subscribers))
	for wallet, subscribers := range r.subscribers {
		copies := make([]*portfolioSubscriber, 0, len(subscribers))
		for _, subscriber := range subscribers {
			copies = append(copies, subscriber)
		}
		wallets[wallet] = copies
	}
	r.mu.RUnlock()

	for wallet, subscribers := range wallets {
		for _, subscriber := range subscribers {
			totals, err := r.simulator.PortfolioTotals(ctx, wallet, subscriber.vaults, now)
			if err != nil {
				r.logger.Warn("portfolio refresh degraded", zap.String("wallet", wallet), zap.Error(err))
				continue
			}
			snapshot := PortfolioSnapshot{
				WalletAddress: wallet,
				Totals:        totals,
				EvaluatedAtS:  now.UTC().Unix(),
			}
			select {
			case subscriber.stream <- snapshot:
			default:
				// Slow consumers skip a tick rather than block the loop.
			}
		}
	}
}

func (r *PortfolioRefresher) nextSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

func (r *PortfolioRefresher) registerSubscriber(wallet string, subscriber *portfolioSubscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[wallet]; !ok {
		r.subscribers[wallet] = make(map[int64]*portfolioSubscriber)
	}
	r.subscribers[wallet][subscriber.id] = subscriber
}

func (r *PortfolioRefresher) unregisterSubscriber(wallet string, subscriberID int64) {
	r.mu.Lock()
	subscribers := r.subscribers[wallet]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(r.subscribers, wallet)
		}
	}
	r.mu.Unlock()
}
