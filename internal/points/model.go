package points

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidWalletAddress indicates that a wallet address is empty or exceeds storage bounds.
	ErrInvalidWalletAddress = errors.New("points: invalid wallet address")
	// ErrInvalidNetworkID indicates that a chain identifier is not positive.
	ErrInvalidNetworkID = errors.New("points: invalid network id")
	// ErrInvalidActionType indicates an action type outside the known set.
	ErrInvalidActionType = errors.New("points: invalid action type")
	// ErrInvalidVaultName indicates a vault name that exceeds storage bounds or is
	// missing for a vault-scoped action.
	ErrInvalidVaultName = errors.New("points: invalid vault name")
)

// WalletAddress represents a validated, canonically lowercased wallet address.
type WalletAddress string

// NewWalletAddress validates raw input and returns the lowercased address.
func NewWalletAddress(rawInput string) (WalletAddress, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWalletAddress)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidWalletAddress, maxIdentifierLength)
	}
	return WalletAddress(strings.ToLower(trimmed)), nil
}

// String returns the underlying lowercased address.
func (a WalletAddress) String() string {
	return string(a)
}

// NetworkID represents a validated chain identifier.
type NetworkID int64

// NewNetworkID validates the value and returns a NetworkID.
func NewNetworkID(value int64) (NetworkID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidNetworkID, value)
	}
	return NetworkID(value), nil
}

// Int64 exposes the raw chain identifier.
func (id NetworkID) Int64() int64 {
	return int64(id)
}

// ActionType enumerates the point-earning actions.
type ActionType string

const (
	ActionDeposit          ActionType = "deposit"
	ActionWithdraw         ActionType = "withdraw"
	ActionFirstVault       ActionType = "first_vault_bonus"
	ActionFirstTransaction ActionType = "first_transaction_bonus"
	ActionShareX           ActionType = "share_x"
	ActionLikeX            ActionType = "like_x"
	ActionRepostX          ActionType = "repost_x"
	ActionShareFacebook    ActionType = "share_facebook"
	ActionCopyLink         ActionType = "copy_link"
)

// ParseActionType validates raw input against the known action set.
func ParseActionType(rawInput string) (ActionType, error) {
	candidate := ActionType(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, known := pointValues[candidate]; !known {
		return "", fmt.Errorf("%w: %q", ErrInvalidActionType, rawInput)
	}
	return candidate, nil
}

// String returns the wire representation of the action type.
func (t ActionType) String() string {
	return string(t)
}

// OneTime reports whether the action may be credited at most once per key.
// Social shares and both bonus types are one-time; deposits and withdrawals
// repeat and rely on the transaction hash for replay protection instead.
func (t ActionType) OneTime() bool {
	switch t {
	case ActionDeposit, ActionWithdraw:
		return false
	default:
		return true
	}
}

// VaultScoped reports whether the one-time check is narrowed to a vault.
func (t ActionType) VaultScoped() bool {
	return t == ActionFirstVault
}

var pointValues = map[ActionType]int64{
	ActionDeposit:          100,
	ActionWithdraw:         50,
	ActionFirstVault:       200,
	ActionFirstTransaction: 300,
	ActionShareX:           150,
	ActionLikeX:            50,
	ActionRepostX:          100,
	ActionShareFacebook:    150,
	ActionCopyLink:         75,
}

// Value returns the points awarded for one credit of the action type.
func (t ActionType) Value() int64 {
	return pointValues[t]
}

var defaultLabels = map[ActionType]string{
	ActionDeposit:          "Vault deposit",
	ActionWithdraw:         "Vault withdrawal",
	ActionFirstVault:       "First deposit into vault",
	ActionFirstTransaction: "First testnet transaction",
	ActionShareX:           "Shared on X",
	ActionLikeX:            "Liked on X",
	ActionRepostX:          "Reposted on X",
	ActionShareFacebook:    "Shared on Facebook",
	ActionCopyLink:         "Copied referral link",
}

// DefaultLabel returns the display label used when the caller supplies none.
func (t ActionType) DefaultLabel() string {
	return defaultLabels[t]
}

// PointAction models one immutable point-earning event. Rows are append-only:
// they are never updated or deleted once written.
type PointAction struct {
	ActionID         string  `gorm:"column:action_id;primaryKey;size:190;not null"`
	WalletAddress    string  `gorm:"column:wallet_address;size:190;not null;index:idx_actions_wallet_network,priority:1"`
	NetworkID        int64   `gorm:"column:network_id;not null;index:idx_actions_wallet_network,priority:2"`
	ActionType       string  `gorm:"column:action_type;size:64;not null;index:idx_actions_wallet_network,priority:3"`
	Label            string  `gorm:"column:label;size:190;not null"`
	Points           int64   `gorm:"column:points;not null"`
	VaultName        string  `gorm:"column:vault_name;size:190;not null;default:''"`
	TxHash           *string `gorm:"column:tx_hash;size:190;uniqueIndex:idx_actions_tx_hash"`
	MetadataJSON     string  `gorm:"column:metadata_json;type:text;not null;default:''"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PointAction) TableName() string {
	return "point_actions"
}

// UserPoints is the derived per-wallet, per-network aggregate the UI reads.
// TotalPoints always equals the sum of points over the matching PointAction
// rows; the row is rewritten in the same transaction as every action insert.
type UserPoints struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement"`
	WalletAddress    string `gorm:"column:wallet_address;size:190;not null;uniqueIndex:idx_user_points_key,priority:1"`
	NetworkID        int64  `gorm:"column:network_id;not null;uniqueIndex:idx_user_points_key,priority:2"`
	TotalPoints      int64  `gorm:"column:total_points;not null;default:0"`
	Level            string `gorm:"column:level;size:32;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserPoints) TableName() string {
	return "user_points"
}
