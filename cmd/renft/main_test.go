package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renft/pkg/config"
	"renft/pkg/database"
	"renft/pkg/ledger"
	"renft/pkg/logger"
	"renft/pkg/metrics"
	"renft/pkg/types"
)

var (
	controller = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	lender     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	renter     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stranger   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	bnb        = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	e721       = common.HexToAddress("0x00000000000000000000000000000000000000e7")
)

func testConfig() *config.Config {
	return &config.Config{
		Controller:  controller.Hex(),
		Beneficiary: controller.Hex(),
		MaxBatch:    10,
		DevMode:     true,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	log := logger.Discard()
	m := metrics.New()
	l, err := newLedger(context.Background(), cfg, db, log, ledger.WithObserver(m))
	require.NoError(t, err)
	l.Subscribe(m.OnEvent)
	return newServer(cfg, db, l, m, log)
}

func setupRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	return newTestServer(t, cfg).router()
}

func do(r *gin.Engine, method, path string, caller *common.Address, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(callerHeader, caller.Hex())
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// fund deploys BNB as payment token 1, awards token 1 of e721 to the lender
// and gives the renter a funded allowance for the escrow.
func fund(t *testing.T, r *gin.Engine) {
	t.Helper()
	w := do(r, http.MethodPost, "/api/v1/dev/tokens", &controller, gin.H{"address": bnb, "symbol": "BNB", "decimals": 18})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(r, http.MethodPut, "/api/v1/admin/payment-tokens/1", &controller, gin.H{"address": bnb})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/dev/assets/"+e721.Hex()+"/award", &lender, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "1", decode(t, w)["tokenId"])
	w = do(r, http.MethodPost, "/api/v1/dev/assets/"+e721.Hex()+"/approval", &lender, gin.H{"operator": defaultEscrow, "approved": true})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/dev/tokens/"+bnb.Hex()+"/faucet", &renter, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/api/v1/dev/tokens/"+bnb.Hex()+"/approve", &renter,
		gin.H{"spender": defaultEscrow, "amount": decode(t, w)["minted"]})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
}

func lendBody() gin.H {
	return gin.H{
		"assetContracts":   []common.Address{e721},
		"tokenIds":         []string{"1"},
		"maxRentDurations": []int{7},
		"dailyRentPrices":  []string{"0.5"},
		"collateralPrices": []string{"3.5"},
		"paymentTokenIds":  []int{1},
	}
}

func refBody(id uint64) gin.H {
	return gin.H{"assetContracts": []common.Address{e721}, "tokenIds": []string{"1"}, "lendingIds": []uint64{id}}
}

func TestRentalLifecycle(t *testing.T) {
	r := setupRouter(t, testConfig())
	fund(t, r)

	w := do(r, http.MethodPost, "/api/v1/lendings", &lender, lendBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []interface{}{float64(1)}, decode(t, w)["lendingIds"])

	w = do(r, http.MethodGet, "/api/v1/lendings/1/quote?days=3", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "5000000000000000000", decode(t, w)["total"])

	w = do(r, http.MethodPost, "/api/v1/rentings", &renter, gin.H{
		"assetContracts": []common.Address{e721},
		"tokenIds":       []string{"1"},
		"lendingIds":     []uint64{1},
		"rentDurations":  []int{3},
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/assets/"+e721.Hex()+"/1/user", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, renter.Hex(), decode(t, w)["user"])

	w = do(r, http.MethodGet, "/api/v1/lendings?state=RENTED&renter="+renter.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["totalElements"])

	w = do(r, http.MethodPost, "/api/v1/rentings/return", &renter, refBody(1))
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/dev/tokens/"+bnb.Hex()+"/balances/"+lender.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1500000000000000000", decode(t, w)["balance"])

	w = do(r, http.MethodGet, "/api/v1/dev/assets/"+e721.Hex()+"/1/owner", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, lender.Hex(), decode(t, w)["owner"])

	w = do(r, http.MethodGet, "/api/v1/events?lendingId=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)
	assert.Equal(t, float64(3), events["totalElements"])
	items := events["items"].([]interface{})
	assert.Equal(t, "Returned", items[2].(map[string]interface{})["kind"])
}

func TestErrorMapping(t *testing.T) {
	r := setupRouter(t, testConfig())
	fund(t, r)

	w := do(r, http.MethodGet, "/api/v1/lendings/42", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(10), body["code"])
	assert.Equal(t, types.ModuleName, body["codespace"])

	w = do(r, http.MethodPost, "/api/v1/lendings", nil, lendBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPut, "/api/v1/admin/fee", &stranger, gin.H{"feeRate": 100})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["code"])

	mismatched := refBody(1)
	mismatched["lendingIds"] = []uint64{1, 2}
	w = do(r, http.MethodPost, "/api/v1/rentings/claim", &lender, mismatched)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["code"])

	w = do(r, http.MethodPost, "/api/v1/lendings", &lender, lendBody())
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(r, http.MethodPost, "/api/v1/lendings", &lender, lendBody())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/v1/lendings/1/quote?days=8", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(7), decode(t, w)["code"])

	tooLong := lendBody()
	tooLong["maxRentDurations"] = []int{300}
	w = do(r, http.MethodPost, "/api/v1/lendings", &lender, tooLong)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{errors.Wrap(types.ErrInvalidInput, "x"), http.StatusBadRequest},
		{errors.Wrap(types.ErrDurationExceeded, "x"), http.StatusBadRequest},
		{errors.Wrap(types.ErrNotAuthorized, "x"), http.StatusForbidden},
		{errors.Wrap(types.ErrNotFound, "x"), http.StatusNotFound},
		{errors.Wrap(types.ErrInvalidState, "x"), http.StatusConflict},
		{errors.Wrap(types.ErrNotYetDue, "x"), http.StatusConflict},
		{errors.Wrap(types.ErrReentrantCall, "x"), http.StatusConflict},
		{errors.Wrap(types.ErrUnresolvedPaymentToken, "x"), http.StatusUnprocessableEntity},
		{errors.Wrapf(errors.Wrap(types.ErrInsufficientFunds, "x"), "item %d", 0), http.StatusPaymentRequired},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.expected, statusFor(tt.err))
		})
	}
}

func TestDevRoutesNeedDevMode(t *testing.T) {
	cfg := testConfig()
	cfg.DevMode = false
	r := setupRouter(t, cfg)

	w := do(r, http.MethodPost, "/api/v1/dev/assets/"+e721.Hex()+"/award", &lender, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBearerTokenIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "s3cret"
	r := setupRouter(t, cfg)

	sign := func(secret string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": lender.Hex()})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return signed
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dev/assets/"+e721.Hex()+"/award", nil)
	req.Header.Set("Authorization", "Bearer "+sign("s3cret"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/dev/assets/"+e721.Hex()+"/1/owner", nil, nil)
	assert.Equal(t, lender.Hex(), decode(t, w)["owner"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/dev/assets/"+e721.Hex()+"/award", nil)
	req.Header.Set("Authorization", "Bearer "+sign("wrong"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The account header is ignored once tokens are required.
	w = do(r, http.MethodPost, "/api/v1/dev/assets/"+e721.Hex()+"/award", &lender, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 1
	r := setupRouter(t, cfg)

	get := func(caller *common.Address, ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/params", nil)
		req.RemoteAddr = ip + ":1234"
		if caller != nil {
			req.Header.Set(callerHeader, caller.Hex())
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get(&stranger, "192.0.2.10"))
	assert.Equal(t, http.StatusTooManyRequests, get(&stranger, "192.0.2.10"))
	// A different account header from the same client shares the bucket.
	assert.Equal(t, http.StatusTooManyRequests, get(&renter, "192.0.2.10"))
	assert.Equal(t, http.StatusOK, get(&renter, "192.0.2.11"))
}

func TestIdleLimitersAreEvicted(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 1
	s := newTestServer(t, cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		s.limiter(fmt.Sprintf("ip:192.0.2.%d", i))
	}
	assert.Len(t, s.limiters, 100)

	now = now.Add(limiterIdle / 2)
	s.limiter("ip:192.0.2.1")
	now = now.Add(limiterIdle / 2)
	s.limiter("ip:198.51.100.1")
	assert.Len(t, s.limiters, 2)
	assert.Contains(t, s.limiters, "ip:192.0.2.1")
}

func TestPriceInputRejected(t *testing.T) {
	r := setupRouter(t, testConfig())
	fund(t, r)

	for _, daily := range []interface{}{"1e-1000000", 3, "-1"} {
		body := lendBody()
		body["dailyRentPrices"] = []interface{}{daily}
		w := do(r, http.MethodPost, "/api/v1/lendings", &lender, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		assert.Less(t, w.Body.Len(), 512)
	}
}

func TestFeeRateFlag(t *testing.T) {
	rate, err := feeRateFrom(500)
	require.NoError(t, err)
	assert.Equal(t, uint16(500), rate)

	rate, err = feeRateFrom(types.FeeDenominator)
	require.NoError(t, err)
	assert.Equal(t, uint16(types.FeeDenominator), rate)

	// 66036 would wrap to 500 as a uint16.
	_, err = feeRateFrom(66036)
	assert.Error(t, err)
	_, err = feeRateFrom(10_001)
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(t, testConfig())

	w := do(r, http.MethodGet, "/manage/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "UP", body["status"])
	assert.Equal(t, defaultEscrow.Hex(), body["escrow"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}
