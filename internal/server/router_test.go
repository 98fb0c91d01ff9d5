package server

import (
	"net/http"
	"testing"
)

func TestProtectedEndpointsRejectMissingToken(t *testing.T) {
	stack := newTestStack(t)

	paths := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: "/points"},
		{method: http.MethodGet, path: "/points/history"},
		{method: http.MethodPost, path: "/points/actions"},
		{method: http.MethodPost, path: "/vaults/usdc-vault/deposits"},
		{method: http.MethodGet, path: "/portfolio"},
		{method: http.MethodPost, path: "/referrals"},
	}
	for _, endpoint := range paths {
		recorder := stack.request(t, endpoint.method, endpoint.path, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", endpoint.method, endpoint.path, recorder.Code)
		}
	}
}

func TestWalletAuthRejectsBadPayload(t *testing.T) {
	stack := newTestStack(t)

	recorder := stack.request(t, http.MethodPost, "/auth/wallet", "", map[string]any{
		"wallet_address": "",
		"network_id":     0,
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestGetPointsDefaultsToZeroBalance(t *testing.T) {
	stack := newTestStack(t)
	token := stack.authenticate(t, "0xFresh", 84532)

	recorder := stack.request(t, http.MethodGet, "/points", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var response struct {
		WalletAddress string `json:"wallet_address"`
		TotalPoints   int64  `json:"total_points"`
		Level         string `json:"level"`
		NextLevel     string `json:"next_level"`
		PointsNeeded  int64  `json:"points_needed"`
	}
	decodeJSON(t, recorder, &response)
	if response.WalletAddress != "0xfresh" {
		t.Fatalf("expected lowercased wallet, got %q", response.WalletAddress)
	}
	if response.TotalPoints != 0 || response.Level != "Bronze" {
		t.Fatalf("expected zero bronze balance, got %+v", response)
	}
	if response.NextLevel != "Silver" || response.PointsNeeded != 500 {
		t.Fatalf("expected 500 points to Silver, got %+v", response)
	}
}

func TestRecordSocialActionOnce(t *testing.T) {
	stack := newTestStack(t)
	token := stack.authenticate(t, "0xwallet", 84532)

	first := stack.request(t, http.MethodPost, "/points/actions", token, map[string]any{
		"action_type": "share_x",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	var firstResponse struct {
		Accepted    bool  `json:"accepted"`
		TotalPoints int64 `json:"total_points"`
	}
	decodeJSON(t, first, &firstResponse)
	if !firstResponse.Accepted || firstResponse.TotalPoints != 150 {
		t.Fatalf("expected accepted credit of 150, got %+v", firstResponse)
	}

	second := stack.request(t, http.MethodPost, "/points/actions", token, map[string]any{
		"action_type": "share_x",
	})
	var secondResponse struct {
		Accepted    bool  `json:"accepted"`
		TotalPoints int64 `json:"total_points"`
	}
	decodeJSON(t, second, &secondResponse)
	if secondResponse.Accepted {
		t.Fatalf("expected repeated share to be rejected")
	}
	if secondResponse.TotalPoints != 150 {
		t.Fatalf("expected total unchanged at 150, got %d", secondResponse.TotalPoints)
	}
}

func TestRecordActionRejectsUnknownType(t *testing.T) {
	stack := newTestStack(t)
	token := stack.authenticate(t, "0xwallet", 84532)

	recorder := stack.request(t, http.MethodPost, "/points/actions", token, map[string]any{
		"action_type": "mystery",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestVaultTransactionCreditsBonuses(t *testing.T) {
	stack := newTestStack(t)
	token := stack.authenticate(t, "0xwallet", 84532)

	recorder := stack.request(t, http.MethodPost, "/points/vault-transactions", token, map[string]any{
		"vault_name": "usdc-vault",
		"kind":       "deposit",
		"tx_hash":    "0xtx-1",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Accepted     bool  `json:"accepted"`
		PointsEarned int64 `json:"points_earned"`
		TotalPoints  int64 `json:"total_points"`
	}
	decodeJSON(t, recorder, &response)
	if !response.Accepted {
		t.Fatalf("expected credit to be accepted")
	}
	if response.PointsEarned != 600 || response.TotalPoints != 600 {
		t.Fatalf("expected 600 points on first-ever deposit, got %+v", response)
	}

	replay := stack.request(t, http.MethodPost, "/points/vault-transactions", token, map[string]any{
		"vault_name": "usdc-vault",
		"kind":       "deposit",
		"tx_hash":    "0xtx-1",
	})
	var replayResponse struct {
		Accepted     bool  `json:"accepted"`
		PointsEarned int64 `json:"points_earned"`
		TotalPoints  int64 `json:"total_points"`
	}
	decodeJSON(t, replay, &replayResponse)
	if replayResponse.Accepted || replayResponse.PointsEarned != 0 {
		t.Fatalf("expected replay to credit nothing, got %+v", replayResponse)
	}
	if replayResponse.TotalPoints != 600 {
		t.Fatalf("expected total unchanged at 600, got %d", replayResponse.TotalPoints)
	}
}

func TestLeaderboardIsPublic(t *testing.T) {
	stack := newTestStack(t)
	token := stack.authenticate(t, "0xwallet", 84532)

	if recorder := stack.request(t, http.MethodPost, "/points/vault-transactions", token, map[string]any{
		"vault_name": "usdc-vault",
		"kind":       "deposit",
		"tx_hash":    "0xtx-1",
	}); recorder.Code != http.StatusOK {
		t.Fatalf("seeding credit failed: %d", recorder.Code)
	}

	recorder := stack.request(t, http.MethodGet, "/leaderboard?network_id=84532", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var response struct {
		Entries []struct {
			WalletAddress string `json:"wallet_address"`
			TotalPoints   int64  `json:"total_points"`
			Level         string `json:"level"`
		} `json:"entries"`
	}
	decodeJSON(t, recorder, &response)
	if len(response.Entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(response.Entries))
	}
	if response.Entries[0].TotalPoints != 600 || response.Entries[0].Level != "Silver" {
		t.Fatalf("unexpected entry: %+v", response.Entries[0])
	}
}

func TestLeaderboardRequiresNetwork(t *testing.T) {
	stack := newTestStack(t)
	recorder := stack.request(t, http.MethodGet, "/leaderboard", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestReferralEndpointsRoundTrip(t *testing.T) {
	stack := newTestStack(t)
	token := stack.authenticate(t, "0xwallet", 84532)

	created := stack.request(t, http.MethodPost, "/referrals", token, nil)
	if created.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", created.Code)
	}
	var createdResponse struct {
		Code string `json:"code"`
	}
	decodeJSON(t, created, &createdResponse)
	if len(createdResponse.Code) != 8 {
		t.Fatalf("expected 8 character code, got %q", createdResponse.Code)
	}

	fetched := stack.request(t, http.MethodGet, "/referrals", token, nil)
	var fetchedResponse struct {
		Referral *struct {
			Code string `json:"code"`
		} `json:"referral"`
	}
	decodeJSON(t, fetched, &fetchedResponse)
	if fetchedResponse.Referral == nil || fetchedResponse.Referral.Code != createdResponse.Code {
		t.Fatalf("expected stable referral code, got %+v", fetchedResponse.Referral)
	}
}
