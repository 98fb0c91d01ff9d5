package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/estable-labs/estable-backend/internal/accrual"
	"github.com/estable-labs/estable-backend/internal/auth"
	"github.com/estable-labs/estable-backend/internal/points"
	"github.com/estable-labs/estable-backend/internal/referrals"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	walletContextKey  = "estable_wallet"
	networkContextKey = "estable_network"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingLedger        = errors.New("points ledger dependency required")
	errMissingSimulator     = errors.New("accrual simulator dependency required")
	errMissingReferrals     = errors.New("referral service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// WalletTokenManager issues and validates wallet session tokens.
type WalletTokenManager interface {
	IssueWalletToken(ctx context.Context, session auth.WalletSession) (string, int64, error)
	ValidateToken(token string) (auth.WalletSession, error)
}

// Dependencies wires the HTTP layer onto the core services.
type Dependencies struct {
	TokenManager     WalletTokenManager
	Ledger           *points.Ledger
	Simulator        *accrual.Simulator
	Referrals        *referrals.Service
	Refresher        *PortfolioRefresher
	Logger           *zap.Logger
	LeaderboardLimit int
}

// NewHTTPHandler builds the gin router for the rewards API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Simulator == nil {
		return nil, errMissingSimulator
	}
	if deps.Referrals == nil {
		return nil, errMissingReferrals
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	leaderboardLimit := deps.LeaderboardLimit
	if leaderboardLimit <= 0 {
		leaderboardLimit = 20
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:           deps.TokenManager,
		ledger:           deps.Ledger,
		simulator:        deps.Simulator,
		referrals:        deps.Referrals,
		refresher:        deps.Refresher,
		logger:           logger,
		leaderboardLimit: leaderboardLimit,
	}

	router.POST("/auth/wallet", handler.handleWalletAuth)
	router.GET("/leaderboard", handler.handleLeaderboard)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/points", handler.handleGetPoints)
	protected.GET("/points/history", handler.handleGetHistory)
	protected.POST("/points/actions", handler.handleRecordAction)
	protected.POST("/points/vault-transactions", handler.handleVaultTransaction)
	protected.POST("/vaults/:vault/deposits", handler.handleVaultDeposit)
	protected.POST("/vaults/:vault/withdrawals", handler.handleVaultWithdrawal)
	protected.GET("/portfolio", handler.handlePortfolio)
	protected.GET("/portfolio/stream", handler.handlePortfolioStream)
	protected.POST("/referrals", handler.handleEnsureReferral)
	protected.GET("/referrals", handler.handleGetReferral)

	return router, nil
}

type httpHandler struct {
	tokens           WalletTokenManager
	ledger           *points.Ledger
	simulator        *accrual.Simulator
	referrals        *referrals.Service
	refresher        *PortfolioRefresher
	logger           *zap.Logger
	leaderboardLimit int
}

type walletAuthPayload struct {
	WalletAddress string `json:"wallet_address"`
	NetworkID     int64  `json:"network_id"`
}

type walletAuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleWalletAuth(c *gin.Context) {
	var request walletAuthPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.WalletAddress) == "" || request.NetworkID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueWalletToken(c.Request.Context(), auth.WalletSession{
		WalletAddress: request.WalletAddress,
		NetworkID:     request.NetworkID,
	})
	if err != nil {
		h.logger.Error("failed to issue wallet token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, walletAuthResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	session, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(walletContextKey, session.WalletAddress)
	c.Set(networkContextKey, session.NetworkID)
	c.Next()
}

func (h *httpHandler) session(c *gin.Context) (points.WalletAddress, points.NetworkID, bool) {
	wallet, err := points.NewWalletAddress(c.GetString(walletContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", 0, false
	}
	network, err := points.NewNetworkID(c.GetInt64(networkContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", 0, false
	}
	return wallet, network, true
}

type userPointsResponse struct {
	WalletAddress string `json:"wallet_address"`
	NetworkID     int64  `json:"network_id"`
	TotalPoints   int64  `json:"total_points"`
	Level         string `json:"level"`
	NextLevel     string `json:"next_level"`
	PointsNeeded  int64  `json:"points_needed"`
	UpdatedAtS    int64  `json:"updated_at_s"`
}

func (h *httpHandler) handleGetPoints(c *gin.Context) {
	wallet, network, ok := h.session(c)
	if !ok {
		return
	}

	response := userPointsResponse{
		WalletAddress: wallet.String(),
		NetworkID:     network.Int64(),
		Level:         points.LevelFromPoints(0),
	}

	// Lookup failures degrade to a zero balance so the widget stays usable.
	aggregate, err := h.ledger.GetUserPoints(c.Request.Context(), wallet, network)
	if err == nil && aggregate != nil {
		response.TotalPoints = aggregate.TotalPoints
		response.Level = aggregate.Level
		response.UpdatedAtS = aggregate.UpdatedAtSeconds
	}

	progress := points.NextLevelInfo(response.TotalPoints)
	response.NextLevel = progress.NextLevel
	response.PointsNeeded = progress.PointsNeeded

	c.JSON(http.StatusOK, response)
}

type actionPayload struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Label      string `json:"label"`
	Points     int64  `json:"points"`
	VaultName  string `json:"vault_name,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	CreatedAtS int64  `json:"created_at_s"`
}

func (h *httpHandler) handleGetHistory(c *gin.Context) {
	wallet, network, ok := h.session(c)
	if !ok {
		return
	}

	history, err := h.ledger.GetActionHistory(c.Request.Context(), wallet, network)
	if err != nil {
		history = nil
	}

	payload := make([]actionPayload, 0, len(history))
	for _, action := range history {
		entry := actionPayload{
			ActionID:   action.ActionID,
			ActionType: action.ActionType,
			Label:      action.Label,
			Points:     action.Points,
			VaultName:  action.VaultName,
			CreatedAtS: action.CreatedAtSeconds,
		}
		if action.TxHash != nil {
			entry.TxHash = *action.TxHash
		}
		payload = append(payload, entry)
	}
	c.JSON(http.StatusOK, gin.H{"actions": payload})
}

type recordActionPayload struct {
	ActionType string `json:"action_type"`
	Label      string `json:"label"`
	VaultName  string `json:"vault_name"`
	TxHash     string `json:"tx_hash"`
	Metadata   string `json:"metadata"`
}

type recordActionResponse struct {
	Accepted      bool   `json:"accepted"`
	PointsAwarded int64  `json:"points_awarded"`
	TotalPoints   int64  `json:"total_points"`
	Level         string `json:"level"`
}

func (h *httpHandler) handleRecordAction(c *gin.Context) {
	wallet, network, ok := h.session(c)
	if !ok {
		return
	}

	var request recordActionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	actionType, err := points.ParseActionType(request.ActionType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_action_type"})
		return
	}

	result, err := h.ledger.RecordAction(c.Request.Context(), points.RecordRequest{
		Wallet:       wallet,
		Network:      network,
		Action:       actionType,
		Label:        request.Label,
		VaultName:    request.VaultName,
		TxHash:       request.TxHash,
		MetadataJSON: request.Metadata,
	})
	if err != nil {
		h.logger.Error("failed to record action", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
		return
	}

	c.JSON(http.StatusOK, recordActionResponse{
		Accepted:      result.Accepted,
		PointsAwarded: result.PointsAwarded,
		TotalPoints:   result.TotalPoints,
		Level:         result.Level,
	})
}

type vaultTransactionPayload struct {
	VaultName string `json:"vault_name"`
	Kind      string `json:"kind"`
	TxHash    string `json:"tx_hash"`
}

type vaultTransactionResponse struct {
	Accepted     bool   `json:"accepted"`
	PointsEarned int64  `json:"points_earned"`
	TotalPoints  int64  `json:"total_points"`
	Level        string `json:"level"`
}

func parseVaultKind(value string) (points.ActionType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(points.ActionDeposit):
		return points.ActionDeposit, nil
	case string(points.ActionWithdraw):
		return points.ActionWithdraw, nil
	default:
		return "", errors.New("unknown vault transaction kind")
	}
}

func (h *httpHandler) handleVaultTransaction(c *gin.Context) {
	wallet, network, ok := h.session(c)
	if !ok {
		return
	}

	var request vaultTransactionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.VaultName == "" || request.TxHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	kind, err := parseVaultKind(request.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	result, err := h.ledger.HandleVaultTransaction(c.Request.Context(), wallet, network, request.VaultName, kind, request.TxHash)
	if err != nil {
		h.logger.Error("failed to credit vault transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit_failed"})
		return
	}

	c.JSON(http.StatusOK, vaultTransactionResponse{
		Accepted:     result.Accepted,
		PointsEarned: result.PointsEarned,
		TotalPoints:  result.TotalPoints,
		Level:        result.Level,
	})
}

type vaultDepositPayload struct {
	Amount float64 `json:"amount"`
	TxHash string  `json:"tx_hash"`
}

type vaultMutationResponse struct {
	Position     positionPayload `json:"position"`
	PointsEarned int64           `json:"points_earned"`
	TotalPoints  int64           `json:"total_points"`
	Accepted     bool            `json:"accepted"`
}

type positionPayload struct {
	VaultID        string  `json:"vault_id"`
	TotalDeposited float64 `json:"total_deposited"`
	TotalYield     float64 `json:"total_yield"`
	CurrentValue   float64 `json:"current_value"`
	Progress       float64 `json:"annual_target_progress"`
}

// handleVaultDeposit applies the two local effects of a settled on-chain
// deposit: the accrual lot and the point credits. Bookkeeping failures never
// surface as chain failures; the transaction already settled.
func (h *httpHandler) handleVaultDeposit(c *gin.Context) {
	wallet, network, ok := h.session(c)
	if !ok {
		return
	}
	vault, err := accrual.NewVaultID(c.Param("vault"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vault"})
		return
	}

	var request vaultDepositPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Amount <= 0 || request.TxHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	if err := h.simulator.AddDeposit(ctx, wallet.String(), vault, request.Amount, time.Time{}); err != nil {
		h.logger.Error("failed to record deposit lot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deposit_record_failed"})
		return
	}

	credit, err := h.ledger.HandleVaultTransaction(ctx, wallet, network, vault.String(), points.ActionDeposit, request.TxHash)
	if err != nil {
		// The lot is already stored; report the credit failure without
		// pretending the deposit vanished.
		h.logger.Error("deposit recorded but crediting failed", zap.Error(err))
		credit = points.VaultTransactionResult{}
	}

	h.respondWithPosition(c, wallet.String(), vault, credit)
}

type vaultWithdrawalPayload struct {
	ShareFraction float64 `json:"share_fraction"`
	TxHash        string  `json:"tx_hash"`
}

func (h *httpHandler) handleVaultWithdrawal(c *gin.Context) {
	wallet, network, ok := h.session(c)
	if !ok {
		return
	}
	vault, err := accrual.NewVaultID(c.Param("vault"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vault"})
		return
	}

	var request vaultWithdrawalPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.TxHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.ShareFraction <= 0 || request.ShareFraction > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_fraction"})
		return
	}

	ctx := c.Request.Context()
	if err := h.simulator.ApplyWithdrawal(ctx, wallet.String(), vault, request.ShareFraction); err != nil {
		h.logger.Error("failed to scale deposit lots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawal_record_failed"})
		return
	}

	credit, err := h.ledger.HandleVaultTransaction(ctx, wallet, network, vault.String(), points.ActionWithdraw, request.TxHash)
	if err != nil {
		h.logger.Error("withdrawal recorded but crediting failed", zap.Error(err))
		credit = points.VaultTransactionResult{}
	}

	h.respondWithPosition(c, wallet.String(), vault, credit)
}

func (h *httpHandler) respondWithPosition(c *gin.Context, wallet string, vault accrual.VaultID, credit points.VaultTransactionResult) {
	ctx := c.Request.Context()
	position, err := h.simulator.Evaluate(ctx, wallet, vault, time.Time{})
	if err != nil {
		position = accrual.VaultPosition{}
	}
	progress, err := h.simulator.ProgressTowardAnnualTarget(ctx, wallet, vault, time.Time{})
	if err != nil {
		progress = 0
	}

	c.JSON(http.StatusOK, vaultMutationResponse{
		Position: positionPayload{
			VaultID:        vault.String(),
			TotalDeposited: position.TotalDeposited,
			TotalYield:     position.TotalYield,
			CurrentValue:   position.CurrentValue,
			Progress:       progress,
		},
		PointsEarned: credit.PointsEarned,
		TotalPoints:  credit.TotalPoints,
		Accepted:     credit.Accepted,
	})
}

type portfolioResponse struct {
	Positions      []positionPayload `json:"positions"`
	TotalDeposited float64           `json:"total_deposited"`
	TotalYield     float64           `json:"total_yield"`
	TotalValue     float64           `json:"total_value"`
}

func parseVaultList(raw string) ([]accrual.VaultID, error) {
	parts := strings.Split(raw, ",")
	vaults := make([]accrual.VaultID, 0, len(parts))
	for _, part := range parts {
		vault, err := accrual.NewVaultID(part)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, vault)
	}
	return vaults, nil
}

func (h *httpHandler) handlePortfolio(c *gin.Context) {
	wallet, _, ok := h.session(c)
	if !ok {
		return
	}
	vaults, err := parseVaultList(c.Query("vaults"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vaults"})
		return
	}

	ctx := c.Request.Context()
	response := portfolioResponse{Positions: make([]positionPayload, 0, len(vaults))}
	for _, vault := range vaults {
		position, err := h.simulator.Evaluate(ctx, wallet.String(), vault, time.Time{})
		if err != nil {
			// Degrade this vault to zeros; the chain remains the source of
			// truth and the rest of the portfolio still renders.
			position = accrual.VaultPosition{}
		}
		progress, err := h.simulator.ProgressTowardAnnualTarget(ctx, wallet.String(), vault, time.Time{})
		if err != nil {
			progress = 0
		}
		response.Positions = append(response.Positions, positionPayload{
			VaultID:        vault.String(),
			TotalDeposited: position.TotalDeposited,
			TotalYield:     position.TotalYield,
			CurrentValue:   position.CurrentValue,
			Progress:       progress,
		})
		response.TotalDeposited += position.TotalDeposited
		response.TotalYield += position.TotalYield
	}
	response.TotalValue = response.TotalDeposited + response.TotalYield

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handlePortfolioStream(c *gin.Context) {
	if h.refresher == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream_unavailable"})
		return
	}
	wallet, _, ok := h.session(c)
	if !ok {
		return
	}
	vaults, err := parseVaultList(c.Query("vaults"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vaults"})
		return
	}

	snapshots, cancel := h.refresher.Subscribe(c.Request.Context(), wallet.String(), vaults)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case snapshot, open := <-snapshots:
			if !open {
				return false
			}
			c.SSEvent("portfolio", snapshot)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type referralResponse struct {
	Code       string `json:"code"`
	CreatedAtS int64  `json:"created_at_s"`
}

func (h *httpHandler) handleEnsureReferral(c *gin.Context) {
	wallet, network, ok := h.session(c)
	if !ok {
		return
	}

	referral, err := h.referrals.EnsureCode(c.Request.Context(), wallet.String(), network.Int64())
	if err != nil {
		h.logger.Error("failed to ensure referral code", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "referral_failed"})
		return
	}
	c.JSON(http.StatusOK, referralResponse{Code: referral.Code, CreatedAtS: referral.CreatedAtSeconds})
}

func (h *httpHandler) handleGetReferral(c *gin.Context) {
	wallet, network, ok := h.session(c)
	if !ok {
		return
	}

	referral, err := h.referrals.Lookup(c.Request.Context(), wallet.String(), network.Int64())
	if err != nil || referral == nil {
		c.JSON(http.StatusOK, gin.H{"referral": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"referral": referralResponse{Code: referral.Code, CreatedAtS: referral.CreatedAtSeconds}})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	networkValue, err := strconv.ParseInt(c.Query("network_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_network"})
		return
	}
	network, err := points.NewNetworkID(networkValue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_network"})
		return
	}

	limit := h.leaderboardLimit
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	entries, err := h.ledger.GetLeaderboard(c.Request.Context(), network, limit)
	if err != nil {
		entries = nil
	}

	payload := make([]userPointsResponse, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, userPointsResponse{
			WalletAddress: entry.WalletAddress,
			NetworkID:     entry.NetworkID,
			TotalPoints:   entry.TotalPoints,
			Level:         entry.Level,
			UpdatedAtS:    entry.UpdatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": payload})
}
