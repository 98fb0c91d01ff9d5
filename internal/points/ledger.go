package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// LedgerError carries a stable machine-readable code alongside the cause.
type LedgerError struct {
	code string
	err  error
}

func (e *LedgerError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *LedgerError) Unwrap() error {
	return e.err
}

func (e *LedgerError) Code() string {
	return e.code
}

const (
	opLedgerNew        = "points.ledger.new"
	opRecordAction     = "points.record_action"
	opHasCompleted     = "points.has_completed_action"
	opGetUserPoints    = "points.get_user_points"
	opGetActionHistory = "points.get_action_history"
	opGetLeaderboard   = "points.get_leaderboard"
	opVaultTransaction = "points.vault_transaction"
)

func newLedgerError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &LedgerError{code: code, err: cause}
}

// IDProvider issues identifiers for appended actions.
type IDProvider interface {
	NewID() (string, error)
}

// LedgerConfig describes the dependencies of the points ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Ledger awards points at most once per unique cause and answers
// history, balance and leaderboard queries.
type Ledger struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewLedger constructs the points ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newLedgerError(opLedgerNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newLedgerError(opLedgerNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Ledger{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RecordRequest describes one candidate point credit.
type RecordRequest struct {
	Wallet       WalletAddress
	Network      NetworkID
	Action       ActionType
	Label        string
	VaultName    string
	TxHash       string
	MetadataJSON string
}

// RecordResult reports whether the credit was applied and the cumulative
// balance after the call. Accepted is false when the transaction hash was
// already credited or a one-time action was already completed; neither case
// changes state.
type RecordResult struct {
	Accepted      bool
	PointsAwarded int64
	TotalPoints   int64
	Level         string
}

// RecordAction appends a PointAction and updates the matching UserPoints
// aggregate in a single transaction. Replay protection and one-time
// enforcement both run inside that transaction, so two racing calls cannot
// double-credit the same cause.
func (l *Ledger) RecordAction(ctx context.Context, request RecordRequest) (RecordResult, error) {
	if request.Wallet == "" {
		return RecordResult{}, newLedgerError(opRecordAction, "missing_wallet", ErrInvalidWalletAddress)
	}
	if request.Network <= 0 {
		return RecordResult{}, newLedgerError(opRecordAction, "missing_network", ErrInvalidNetworkID)
	}
	if _, known := pointValues[request.Action]; !known {
		return RecordResult{}, newLedgerError(opRecordAction, "unknown_action", ErrInvalidActionType)
	}
	if request.Action.VaultScoped() && request.VaultName == "" {
		return RecordResult{}, newLedgerError(opRecordAction, "missing_vault", ErrInvalidVaultName)
	}

	label := request.Label
	if label == "" {
		label = request.Action.DefaultLabel()
	}

	actionID, err := l.idProvider.NewID()
	if err != nil {
		return RecordResult{}, newLedgerError(opRecordAction, "id_generation", err)
	}

	var result RecordResult
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if request.TxHash != "" {
			var count int64
			if err := tx.Model(&PointAction{}).
				Where("tx_hash = ?", request.TxHash).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				current, err := loadAggregate(tx, request.Wallet, request.Network)
				if err != nil {
					return err
				}
				result = rejectedResult(current)
				return nil
			}
		}

		if request.Action.OneTime() {
			completed, err := actionExists(tx, request.Wallet, request.Network, request.Action, oneTimeScope(request))
			if err != nil {
				return err
			}
			if completed {
				current, err := loadAggregate(tx, request.Wallet, request.Network)
				if err != nil {
					return err
				}
				result = rejectedResult(current)
				return nil
			}
		}

		now := l.clock().UTC().Unix()
		action := PointAction{
			ActionID:         actionID,
			WalletAddress:    request.Wallet.String(),
			NetworkID:        request.Network.Int64(),
			ActionType:       request.Action.String(),
			Label:            label,
			Points:           request.Action.Value(),
			VaultName:        request.VaultName,
			MetadataJSON:     request.MetadataJSON,
			CreatedAtSeconds: now,
		}
		if request.TxHash != "" {
			hash := request.TxHash
			action.TxHash = &hash
		}
		if err := tx.Create(&action).Error; err != nil {
			return err
		}

		aggregate, err := loadAggregate(tx, request.Wallet, request.Network)
		if err != nil {
			return err
		}
		if aggregate == nil {
			aggregate = &UserPoints{
				WalletAddress:    request.Wallet.String(),
				NetworkID:        request.Network.Int64(),
				CreatedAtSeconds: now,
			}
		}
		aggregate.TotalPoints += action.Points
		aggregate.Level = LevelFromPoints(aggregate.TotalPoints)
		aggregate.UpdatedAtSeconds = now
		if err := tx.Save(aggregate).Error; err != nil {
			return err
		}

		result = RecordResult{
			Accepted:      true,
			PointsAwarded: action.Points,
			TotalPoints:   aggregate.TotalPoints,
			Level:         aggregate.Level,
		}
		return nil
	})
	if txErr != nil {
		l.logger.Error("point action rejected by store",
			zap.String("wallet", request.Wallet.String()),
			zap.Int64("network", request.Network.Int64()),
			zap.String("action", request.Action.String()),
			zap.Error(txErr))
		return RecordResult{}, newLedgerError(opRecordAction, "persistence", txErr)
	}

	return result, nil
}

func oneTimeScope(request RecordRequest) string {
	if request.Action.VaultScoped() {
		return request.VaultName
	}
	return ""
}

func rejectedResult(current *UserPoints) RecordResult {
	result := RecordResult{Accepted: false, Level: LevelFromPoints(0)}
	if current != nil {
		result.TotalPoints = current.TotalPoints
		result.Level = current.Level
	}
	return result
}

func loadAggregate(tx *gorm.DB, wallet WalletAddress, network NetworkID) (*UserPoints, error) {
	var aggregate UserPoints
	err := tx.Where("wallet_address = ? AND network_id = ?", wallet.String(), network.Int64()).
		First(&aggregate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &aggregate, nil
}

func actionExists(tx *gorm.DB, wallet WalletAddress, network NetworkID, action ActionType, vaultName string) (bool, error) {
	query := tx.Model(&PointAction{}).
		Where("wallet_address = ? AND network_id = ? AND action_type = ?",
			wallet.String(), network.Int64(), action.String())
	if vaultName != "" {
		query = query.Where("vault_name = ?", vaultName)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasCompletedAction reports whether the wallet already holds an action of the
// given type, optionally narrowed to a vault. Exposed for cheap UI pre-checks;
// RecordAction re-checks atomically regardless.
func (l *Ledger) HasCompletedAction(ctx context.Context, wallet WalletAddress, network NetworkID, action ActionType, vaultName string) (bool, error) {
	completed, err := actionExists(l.db.WithContext(ctx), wallet, network, action, vaultName)
	if err != nil {
		l.logger.Warn("completion check failed", zap.String("action", action.String()), zap.Error(err))
		return false, newLedgerError(opHasCompleted, "persistence", err)
	}
	return completed, nil
}

// GetUserPoints returns the aggregate for the wallet, or nil when the wallet
// has never earned points. Failures degrade to nil with a logged diagnostic
// signalled through the returned error.
func (l *Ledger) GetUserPoints(ctx context.Context, wallet WalletAddress, network NetworkID) (*UserPoints, error) {
	aggregate, err := loadAggregate(l.db.WithContext(ctx), wallet, network)
	if err != nil {
		l.logger.Warn("user points lookup failed", zap.String("wallet", wallet.String()), zap.Error(err))
		return nil, newLedgerError(opGetUserPoints, "persistence", err)
	}
	return aggregate, nil
}

// GetActionHistory returns the wallet's actions ordered newest first.
func (l *Ledger) GetActionHistory(ctx context.Context, wallet WalletAddress, network NetworkID) ([]PointAction, error) {
	var actions []PointAction
	err := l.db.WithContext(ctx).
		Where("wallet_address = ? AND network_id = ?", wallet.String(), network.Int64()).
		Order("created_at_s DESC, action_id DESC").
		Find(&actions).Error
	if err != nil {
		l.logger.Warn("action history lookup failed", zap.String("wallet", wallet.String()), zap.Error(err))
		return nil, newLedgerError(opGetActionHistory, "persistence", err)
	}
	return actions, nil
}

// GetLeaderboard returns up to limit aggregates for the network ordered by
// descending balance. Ties keep insertion order: the auto-incremented row id
// reflects the order in which wallets first earned points.
func (l *Ledger) GetLeaderboard(ctx context.Context, network NetworkID, limit int) ([]UserPoints, error) {
	if limit <= 0 {
		return nil, nil
	}
	var entries []UserPoints
	err := l.db.WithContext(ctx).
		Where("network_id = ?", network.Int64()).
		Order("total_points DESC, id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		l.logger.Warn("leaderboard lookup failed", zap.Int64("network", network.Int64()), zap.Error(err))
		return nil, newLedgerError(opGetLeaderboard, "persistence", err)
	}
	return entries, nil
}

// VaultTransactionResult reports the points awarded by one settled vault
// transaction, bonuses included.
type VaultTransactionResult struct {
	Accepted     bool
	PointsEarned int64
	TotalPoints  int64
	Level        string
}

// HandleVaultTransaction runs the composite crediting protocol for a settled
// deposit or withdrawal. Bonuses are evaluated before the base action so a
// replay rejection on the hash cannot mask a legitimate first-time bonus.
func (l *Ledger) HandleVaultTransaction(ctx context.Context, wallet WalletAddress, network NetworkID, vaultName string, kind ActionType, txHash string) (VaultTransactionResult, error) {
	if kind != ActionDeposit && kind != ActionWithdraw {
		return VaultTransactionResult{}, newLedgerError(opVaultTransaction, "unknown_kind", ErrInvalidActionType)
	}
	if vaultName == "" {
		return VaultTransactionResult{}, newLedgerError(opVaultTransaction, "missing_vault", ErrInvalidVaultName)
	}

	var earned int64

	firstTransaction, err := l.RecordAction(ctx, RecordRequest{
		Wallet:       wallet,
		Network:      network,
		Action:       ActionFirstTransaction,
		MetadataJSON: `{"milestone":"first_transaction"}`,
	})
	if err != nil {
		return VaultTransactionResult{}, err
	}
	if firstTransaction.Accepted {
		earned += firstTransaction.PointsAwarded
	}

	firstVault, err := l.RecordAction(ctx, RecordRequest{
		Wallet:       wallet,
		Network:      network,
		Action:       ActionFirstVault,
		VaultName:    vaultName,
		MetadataJSON: `{"milestone":"first_vault"}`,
	})
	if err != nil {
		return VaultTransactionResult{}, err
	}
	if firstVault.Accepted {
		earned += firstVault.PointsAwarded
	}

	base, err := l.RecordAction(ctx, RecordRequest{
		Wallet:    wallet,
		Network:   network,
		Action:    kind,
		VaultName: vaultName,
		TxHash:    txHash,
	})
	if err != nil {
		return VaultTransactionResult{}, err
	}
	if base.Accepted {
		earned += base.PointsAwarded
	}

	return VaultTransactionResult{
		Accepted:     base.Accepted,
		PointsEarned: earned,
		TotalPoints:  base.TotalPoints,
		Level:        base.Level,
	}, nil
}
