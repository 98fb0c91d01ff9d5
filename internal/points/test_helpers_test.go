package points

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("action-%04d", g.next), nil
}

func mustWallet(t *testing.T, value string) WalletAddress {
	t.Helper()
	wallet, err := NewWalletAddress(value)
	if err != nil {
		t.Fatalf("unexpected wallet address error: %v", err)
	}
	return wallet
}

func mustNetwork(t *testing.T, value int64) NetworkID {
	t.Helper()
	network, err := NewNetworkID(value)
	if err != nil {
		t.Fatalf("unexpected network id error: %v", err)
	}
	return network
}

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:points_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&PointAction{}, &UserPoints{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	ledger, err := NewLedger(LedgerConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequentialIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	return ledger, db
}
