package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/estable-labs/estable-backend/internal/accrual"
	"github.com/estable-labs/estable-backend/internal/auth"
	"github.com/estable-labs/estable-backend/internal/points"
	"github.com/estable-labs/estable-backend/internal/referrals"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testSigningSecret = "server-test-secret"

var testClockInstant = time.Unix(1700000000, 0).UTC()

type testStack struct {
	handler   http.Handler
	simulator *accrual.Simulator
	refresher *PortfolioRefresher
	db        *gorm.DB
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&points.PointAction{},
		&points.UserPoints{},
		&accrual.DepositRecord{},
		&referrals.Referral{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return testClockInstant }

	ledger, err := points.NewLedger(points.LedgerConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: points.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}

	simulator, err := accrual.NewSimulator(accrual.SimulatorConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: accrual.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct simulator: %v", err)
	}

	referralService, err := referrals.NewService(referrals.ServiceConfig{
		Database: db,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to construct referral service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "estable-auth",
		Audience:      "estable-api",
		Clock:         clock,
	})

	refresher := NewPortfolioRefresher(RefresherConfig{
		Simulator: simulator,
		Clock:     clock,
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: issuer,
		Ledger:       ledger,
		Simulator:    simulator,
		Referrals:    referralService,
		Refresher:    refresher,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testStack{handler: handler, simulator: simulator, refresher: refresher, db: db}
}

func (s *testStack) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testStack) authenticate(t *testing.T, wallet string, network int64) string {
	t.Helper()

	recorder := s.request(t, http.MethodPost, "/auth/wallet", "", map[string]any{
		"wallet_address": wallet,
		"network_id":     network,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("auth failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode auth response: %v", err)
	}
	if response.AccessToken == "" {
		t.Fatalf("expected access token in response")
	}
	return response.AccessToken
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}
