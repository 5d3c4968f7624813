package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"renft/pkg/chain"
	"renft/pkg/config"
	"renft/pkg/ledger"
	"renft/pkg/logger"
	"renft/pkg/metrics"
	"renft/pkg/types"
)

const (
	callerHeader    = "X-Account-Address"
	requestIDHeader = "X-Request-ID"
	callerKey       = "caller"
	// verifiedKey marks callers proven by a bearer token.
	verifiedKey = "verified"

	// limiterIdle is how long an unused bucket is kept.
	limiterIdle = 10 * time.Minute
)

type server struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	cfg     *config.Config

	tokens *chain.ERC20
	assets *chain.ERC721

	limitMu   sync.Mutex
	limiters  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

func newServer(cfg *config.Config, db *gorm.DB, l *ledger.Ledger, m *metrics.Metrics, log logrus.FieldLogger) *server {
	return &server{
		db:       db,
		ledger:   l,
		metrics:  m,
		log:      log,
		cfg:      cfg,
		tokens:   chain.NewERC20(db),
		assets:   chain.NewERC721(db),
		limiters: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), logger.Gin(s.log), s.metrics.Gin())

	r.GET("/manage/health", s.healthCheck)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api/v1", s.identify, s.rateLimit)
	api.GET("/lendings", s.listLendings)
	api.GET("/lendings/:lendingId", s.getLending)
	api.GET("/lendings/:lendingId/quote", s.quote)
	api.GET("/rentings/:lendingId", s.getRenting)
	api.GET("/assets/:assetContract/:tokenId/user", s.currentUser)
	api.GET("/events", s.events)
	api.GET("/admin/params", s.params)

	write := api.Group("", requireCaller)
	write.POST("/lendings", s.lend)
	write.POST("/lendings/stop", s.stopLending)
	write.POST("/rentings", s.rent)
	write.POST("/rentings/return", s.returnIt)
	write.POST("/rentings/claim", s.claimCollateral)
	write.PUT("/admin/payment-tokens/:id", s.setPaymentToken)
	write.PUT("/admin/fee", s.setFeeRate)
	write.PUT("/admin/beneficiary", s.setBeneficiary)
	write.PUT("/admin/paused", s.setPaused)
	write.PUT("/admin/controller", s.transferControl)

	if s.cfg.DevMode {
		s.devRoutes(api)
	}
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// identify resolves the caller from a bearer token when a JWT secret is
// configured, and from the account header otherwise.
func (s *server) identify(c *gin.Context) {
	var raw string
	if s.cfg.JWTSecret != "" {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization must be a bearer token"})
			return
		}
		sub, err := s.subject(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
			return
		}
		raw = sub
	} else {
		raw = c.GetHeader(callerHeader)
	}
	if raw == "" {
		c.Next()
		return
	}
	if !common.IsHexAddress(raw) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "caller is not a hex address"})
		return
	}
	c.Set(callerKey, common.HexToAddress(raw).Hex())
	c.Set(verifiedKey, s.cfg.JWTSecret != "")
	c.Next()
}

func (s *server) subject(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return parsed.Claims.GetSubject()
}

func requireCaller(c *gin.Context) {
	if c.GetString(callerKey) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": callerHeader + " header or bearer token is required"})
		return
	}
	c.Next()
}

func callerOf(c *gin.Context) common.Address {
	return common.HexToAddress(c.GetString(callerKey))
}

// rateLimit keeps one token bucket per client IP. Callers proven by a
// bearer token get their own bucket; a bare account header does not, since
// anyone can send any value in it.
func (s *server) rateLimit(c *gin.Context) {
	if s.cfg.RateLimit <= 0 {
		c.Next()
		return
	}
	key := "ip:" + c.ClientIP()
	if c.GetBool(verifiedKey) {
		key = "caller:" + c.GetString(callerKey)
	}
	if !s.limiter(key).Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}
	c.Next()
}

func (s *server) limiter(key string) *rate.Limiter {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= limiterIdle {
		for k, v := range s.limiters {
			if now.Sub(v.seen) >= limiterIdle {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}
	v, ok := s.limiters[key]
	if !ok {
		burst := s.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		v = &visitor{lim: rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)}
		s.limiters[key] = v
	}
	v.seen = now
	return v.lim
}

// statusFor maps a ledger error code to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.IsOf(err, types.ErrInvalidInput, types.ErrDurationExceeded):
		return http.StatusBadRequest
	case errors.IsOf(err, types.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.IsOf(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.IsOf(err, types.ErrInvalidState, types.ErrNotYetDue, types.ErrReentrantCall):
		return http.StatusConflict
	case errors.IsOf(err, types.ErrUnresolvedPaymentToken):
		return http.StatusUnprocessableEntity
	case errors.IsOf(err, types.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "code": types.Code(err), "codespace": types.ModuleName}
	if status == http.StatusInternalServerError {
		body = gin.H{"error": "internal error", "code": 0, "codespace": types.ModuleName}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
}

func (s *server) healthCheck(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "escrow": s.ledger.EscrowAddress().Hex()})
}
