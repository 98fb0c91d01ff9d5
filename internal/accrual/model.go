package accrual

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidVaultID indicates that a vault identifier is empty or exceeds storage bounds.
	ErrInvalidVaultID = errors.New("accrual: invalid vault id")
	// ErrInvalidAmount indicates a deposit amount that is not strictly positive.
	ErrInvalidAmount = errors.New("accrual: invalid amount")
	// ErrInvalidFraction indicates a withdrawal fraction outside (0, 1].
	ErrInvalidFraction = errors.New("accrual: invalid withdrawal fraction")
)

// VaultID represents a validated vault identifier.
type VaultID string

// NewVaultID validates raw input and returns a VaultID.
func NewVaultID(rawInput string) (VaultID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVaultID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidVaultID, maxIdentifierLength)
	}
	return VaultID(trimmed), nil
}

// String returns the underlying vault identifier.
func (id VaultID) String() string {
	return string(id)
}

// DepositRecord is one funding lot for a (wallet, vault) key. Lots are
// appended on deposit and scaled in place by proportional withdrawal; a lot
// is removed once its amount decays below the negligible-amount epsilon.
type DepositRecord struct {
	RecordID           string  `gorm:"column:record_id;primaryKey;size:190;not null"`
	WalletAddress      string  `gorm:"column:wallet_address;size:190;not null;index:idx_deposits_wallet_vault,priority:1"`
	VaultID            string  `gorm:"column:vault_id;size:190;not null;index:idx_deposits_wallet_vault,priority:2"`
	Amount             float64 `gorm:"column:amount;not null"`
	DepositedAtSeconds int64   `gorm:"column:deposited_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DepositRecord) TableName() string {
	return "deposit_records"
}

// VaultPosition is the derived, on-demand view of one (wallet, vault) key.
type VaultPosition struct {
	TotalDeposited float64
	TotalYield     float64
	CurrentValue   float64
}

// PortfolioTotals aggregates VaultPosition values across vaults.
type PortfolioTotals struct {
	TotalDeposited float64
	TotalYield     float64
	TotalValue     float64
}
