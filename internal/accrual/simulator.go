package accrual

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultAnnualRate is the nominal annual rate used when none is configured.
	DefaultAnnualRate = 0.15
	// negligibleAmount is the epsilon below which a scaled lot is dropped.
	negligibleAmount = 1e-4

	secondsPerYear = 365 * 24 * 60 * 60
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingWallet     = errors.New("wallet address is required")
	noOpLogger           = zap.NewNop()
)

// SimulatorError carries a stable machine-readable code alongside the cause.
type SimulatorError struct {
	code string
	err  error
}

func (e *SimulatorError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *SimulatorError) Unwrap() error {
	return e.err
}

func (e *SimulatorError) Code() string {
	return e.code
}

const (
	opSimulatorNew    = "accrual.simulator.new"
	opAddDeposit      = "accrual.add_deposit"
	opApplyWithdrawal = "accrual.apply_withdrawal"
	opEvaluate        = "accrual.evaluate"
	opPortfolio       = "accrual.portfolio_totals"
	opProgress        = "accrual.progress"
)

func newSimulatorError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &SimulatorError{code: code, err: cause}
}

// IDProvider issues identifiers for appended deposit lots.
type IDProvider interface {
	NewID() (string, error)
}

// SimulatorConfig describes the dependencies of the yield simulator.
type SimulatorConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	AnnualRate float64
}

// Simulator maintains per-(wallet, vault) deposit lots and presents a
// locally computed compounding view of their growth. It is presentation
// bookkeeping for a testnet whose contracts expose no live balances, not a
// ledger of record: the chain stays the source of truth for funds.
type Simulator struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	annualRate float64

	// writeLocks serializes mutations per (wallet, vault) key so a reader
	// never observes a half-applied withdrawal. Cross-key writes stay
	// independent.
	writeLocks sync.Map
}

// NewSimulator constructs the yield accrual simulator.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Database == nil {
		return nil, newSimulatorError(opSimulatorNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newSimulatorError(opSimulatorNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	rate := cfg.AnnualRate
	if rate <= 0 {
		rate = DefaultAnnualRate
	}

	return &Simulator{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		annualRate: rate,
	}, nil
}

// AnnualRate exposes the configured nominal annual rate.
func (s *Simulator) AnnualRate() float64 {
	return s.annualRate
}

func (s *Simulator) lockKey(wallet string, vault VaultID) *sync.Mutex {
	key := wallet + "|" + vault.String()
	actual, _ := s.writeLocks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func normalizeWallet(rawWallet string) (string, error) {
	trimmed := strings.TrimSpace(rawWallet)
	if trimmed == "" {
		return "", errMissingWallet
	}
	return strings.ToLower(trimmed), nil
}

// AddDeposit appends one funding lot for the (wallet, vault) key. A zero
// depositedAt falls back to the injected clock.
func (s *Simulator) AddDeposit(ctx context.Context, rawWallet string, vault VaultID, amount float64, depositedAt time.Time) error {
	wallet, err := normalizeWallet(rawWallet)
	if err != nil {
		return newSimulatorError(opAddDeposit, "missing_wallet", err)
	}
	if vault == "" {
		return newSimulatorError(opAddDeposit, "missing_vault", ErrInvalidVaultID)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return newSimulatorError(opAddDeposit, "invalid_amount", fmt.Errorf("%w: %v", ErrInvalidAmount, amount))
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		return newSimulatorError(opAddDeposit, "id_generation", err)
	}

	if depositedAt.IsZero() {
		depositedAt = s.clock()
	}

	record := DepositRecord{
		RecordID:           recordID,
		WalletAddress:      wallet,
		VaultID:            vault.String(),
		Amount:             amount,
		DepositedAtSeconds: depositedAt.UTC().Unix(),
	}

	lock := s.lockKey(wallet, vault)
	lock.Lock()
	defer lock.Unlock()

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Error("deposit lot rejected by store",
			zap.String("wallet", wallet),
			zap.String("vault", vault.String()),
			zap.Error(err))
		return newSimulatorError(opAddDeposit, "persistence", err)
	}
	return nil
}

// ApplyWithdrawal scales every lot of the key by (1 - fraction), modelling a
// proportional liquidation across all historical deposits, and drops lots
// whose amount falls below the epsilon. All new amounts are computed before
// any write, and the writes commit in one transaction, so a store fault
// leaves the previous sequence intact.
func (s *Simulator) ApplyWithdrawal(ctx context.Context, rawWallet string, vault VaultID, fraction float64) error {
	wallet, err := normalizeWallet(rawWallet)
	if err != nil {
		return newSimulatorError(opApplyWithdrawal, "missing_wallet", err)
	}
	if vault == "" {
		return newSimulatorError(opApplyWithdrawal, "missing_vault", ErrInvalidVaultID)
	}
	if fraction <= 0 || fraction > 1 || math.IsNaN(fraction) {
		return newSimulatorError(opApplyWithdrawal, "invalid_fraction", fmt.Errorf("%w: %v", ErrInvalidFraction, fraction))
	}

	lock := s.lockKey(wallet, vault)
	lock.Lock()
	defer lock.Unlock()

	records, err := s.loadRecords(ctx, wallet, vault)
	if err != nil {
		return newSimulatorError(opApplyWithdrawal, "persistence", err)
	}
	if len(records) == 0 {
		return nil
	}

	remaining := 1 - fraction
	survivors := make([]DepositRecord, 0, len(records))
	dropped := make([]string, 0)
	for _, record := range records {
		scaled := record.Amount * remaining
		if scaled < negligibleAmount {
			dropped = append(dropped, record.RecordID)
			continue
		}
		record.Amount = scaled
		survivors = append(survivors, record)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range survivors {
			if err := tx.Model(&DepositRecord{}).
				Where("record_id = ?", record.RecordID).
				Update("amount", record.Amount).Error; err != nil {
				return err
			}
		}
		if len(dropped) > 0 {
			if err := tx.Where("record_id IN ?", dropped).
				Delete(&DepositRecord{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logger.Error("withdrawal scaling rejected by store",
			zap.String("wallet", wallet),
			zap.String("vault", vault.String()),
			zap.Error(txErr))
		return newSimulatorError(opApplyWithdrawal, "persistence", txErr)
	}
	return nil
}

// Evaluate recomputes the position for the (wallet, vault) key at the given
// instant. Nothing is cached: the result is always exactly consistent with
// now. A zero now falls back to the injected clock.
func (s *Simulator) Evaluate(ctx context.Context, rawWallet string, vault VaultID, now time.Time) (VaultPosition, error) {
	wallet, err := normalizeWallet(rawWallet)
	if err != nil {
		return VaultPosition{}, newSimulatorError(opEvaluate, "missing_wallet", err)
	}
	if now.IsZero() {
		now = s.clock()
	}

	records, err := s.loadRecords(ctx, wallet, vault)
	if err != nil {
		s.logger.Warn("position evaluation degraded to empty",
			zap.String("wallet", wallet),
			zap.String("vault", vault.String()),
			zap.Error(err))
		return VaultPosition{}, newSimulatorError(opEvaluate, "persistence", err)
	}

	position := VaultPosition{}
	nowSeconds := now.UTC().Unix()
	for _, record := range records {
		value := compoundValue(record.Amount, record.DepositedAtSeconds, nowSeconds, s.annualRate)
		position.TotalDeposited += record.Amount
		position.TotalYield += value - record.Amount
	}
	position.CurrentValue = position.TotalDeposited + position.TotalYield
	return position, nil
}

// PortfolioTotals sums Evaluate across the given vaults at one instant.
func (s *Simulator) PortfolioTotals(ctx context.Context, rawWallet string, vaults []VaultID, now time.Time) (PortfolioTotals, error) {
	if now.IsZero() {
		now = s.clock()
	}

	totals := PortfolioTotals{}
	for _, vault := range vaults {
		position, err := s.Evaluate(ctx, rawWallet, vault, now)
		if err != nil {
			return PortfolioTotals{}, newSimulatorError(opPortfolio, "evaluate", err)
		}
		totals.TotalDeposited += position.TotalDeposited
		totals.TotalYield += position.TotalYield
	}
	totals.TotalValue = totals.TotalDeposited + totals.TotalYield
	return totals, nil
}

// ProgressTowardAnnualTarget reports how far the position has moved toward
// one full year of target yield, clamped to 100. A zero basis reports 0.
func (s *Simulator) ProgressTowardAnnualTarget(ctx context.Context, rawWallet string, vault VaultID, now time.Time) (float64, error) {
	position, err := s.Evaluate(ctx, rawWallet, vault, now)
	if err != nil {
		return 0, newSimulatorError(opProgress, "evaluate", err)
	}
	if position.TotalDeposited <= 0 {
		return 0, nil
	}
	progress := 100 * position.TotalYield / (position.TotalDeposited * s.annualRate)
	return math.Min(100, progress), nil
}

func (s *Simulator) loadRecords(ctx context.Context, wallet string, vault VaultID) ([]DepositRecord, error) {
	var records []DepositRecord
	err := s.db.WithContext(ctx).
		Where("wallet_address = ? AND vault_id = ?", wallet, vault.String()).
		Order("deposited_at_s ASC, record_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// compoundValue grows amount from t0 to t at the nominal annual rate using a
// real-exponent power, i.e. exact compounding with no discrete periods.
func compoundValue(amount float64, t0Seconds, tSeconds int64, annualRate float64) float64 {
	if tSeconds <= t0Seconds {
		return amount
	}
	elapsedYears := float64(tSeconds-t0Seconds) / secondsPerYear
	return amount * math.Pow(1+annualRate, elapsedYears)
}
