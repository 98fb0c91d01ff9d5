package referrals

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 8
	maxCodeAttempts = 10
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingWallet   = errors.New("wallet address is required")
	errMissingNetwork  = errors.New("network id is required")
	// ErrCodeSpaceExhausted indicates repeated collisions while generating a code.
	ErrCodeSpaceExhausted = errors.New("referrals: failed to generate a unique code")
	noOpLogger            = zap.NewNop()
)

// ServiceConfig describes the dependencies of the referral service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service issues and looks up per-wallet referral codes.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the referral service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// EnsureCode returns the wallet's referral code, creating one on first call.
// Creation retries on code collision up to maxCodeAttempts before giving up.
func (s *Service) EnsureCode(ctx context.Context, rawWallet string, networkID int64) (*Referral, error) {
	wallet := strings.ToLower(strings.TrimSpace(rawWallet))
	if wallet == "" {
		return nil, errMissingWallet
	}
	if networkID <= 0 {
		return nil, errMissingNetwork
	}

	existing, err := s.lookup(ctx, wallet, networkID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}

		referralID, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}

		referral := Referral{
			ReferralID:       referralID.String(),
			WalletAddress:    wallet,
			NetworkID:        networkID,
			Code:             code,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		createErr := s.db.WithContext(ctx).Create(&referral).Error
		if createErr == nil {
			return &referral, nil
		}

		// A unique-index violation on the wallet key means a concurrent call
		// won the race; return its row. A violation on the code means a
		// collision; draw again.
		if raced, err := s.lookup(ctx, wallet, networkID); err == nil && raced != nil {
			return raced, nil
		}
		s.logger.Debug("referral code collision, retrying",
			zap.String("wallet", wallet),
			zap.Int("attempt", attempt+1),
			zap.Error(createErr))
	}

	return nil, ErrCodeSpaceExhausted
}

// Lookup returns the wallet's referral, or nil when none exists.
func (s *Service) Lookup(ctx context.Context, rawWallet string, networkID int64) (*Referral, error) {
	wallet := strings.ToLower(strings.TrimSpace(rawWallet))
	if wallet == "" {
		return nil, errMissingWallet
	}
	return s.lookup(ctx, wallet, networkID)
}

func (s *Service) lookup(ctx context.Context, wallet string, networkID int64) (*Referral, error) {
	var referral Referral
	err := s.db.WithContext(ctx).
		Where("wallet_address = ? AND network_id = ?", wallet, networkID).
		First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Warn("referral lookup failed", zap.String("wallet", wallet), zap.Error(err))
		return nil, err
	}
	return &referral, nil
}

func generateCode() (string, error) {
	buffer := make([]byte, codeLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("referrals: entropy source failed: %w", err)
	}
	code := make([]byte, codeLength)
	for i, value := range buffer {
		code[i] = codeAlphabet[int(value)%len(codeAlphabet)]
	}
	return string(code), nil
}
