package referrals

// Referral maps a wallet to its shareable referral code. One row per wallet
// per network; codes are unique across the table.
type Referral struct {
	ReferralID       string `gorm:"column:referral_id;primaryKey;size:190;not null"`
	WalletAddress    string `gorm:"column:wallet_address;size:190;not null;uniqueIndex:idx_referrals_wallet,priority:1"`
	NetworkID        int64  `gorm:"column:network_id;not null;uniqueIndex:idx_referrals_wallet,priority:2"`
	Code             string `gorm:"column:code;size:32;not null;uniqueIndex:idx_referrals_code"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Referral) TableName() string {
	return "referrals"
}
