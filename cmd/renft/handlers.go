package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"renft/pkg/ledger"
	"renft/pkg/price"
)

// Batch bodies carry parallel arrays, one entry per item. Small integers
// are decoded as uint16 and range-checked so a 256 is rejected rather than
// wrapped. Prices are JSON strings, either decimal ("3.5") or packed hex
// ("0x00031388"); bare numbers are rejected.
type lendRequest struct {
	AssetContracts   []common.Address `json:"assetContracts" binding:"required"`
	TokenIDs         []string         `json:"tokenIds" binding:"required"`
	MaxRentDurations []uint16         `json:"maxRentDurations" binding:"required"`
	DailyRentPrices  []price.Packed   `json:"dailyRentPrices" binding:"required"`
	CollateralPrices []price.Packed   `json:"collateralPrices" binding:"required"`
	PaymentTokenIDs  []uint16         `json:"paymentTokenIds" binding:"required"`
}

type rentRequest struct {
	AssetContracts []common.Address `json:"assetContracts" binding:"required"`
	TokenIDs       []string         `json:"tokenIds" binding:"required"`
	LendingIDs     []uint64         `json:"lendingIds" binding:"required"`
	RentDurations  []uint16         `json:"rentDurations" binding:"required"`
}

type refRequest struct {
	AssetContracts []common.Address `json:"assetContracts" binding:"required"`
	TokenIDs       []string         `json:"tokenIds" binding:"required"`
	LendingIDs     []uint64         `json:"lendingIds" binding:"required"`
}

func (r refRequest) items() ([]ledger.RefItem, error) {
	return ledger.NewRefItems(r.AssetContracts, r.TokenIDs, r.LendingIDs)
}

func toUint8s(field string, in []uint16) ([]uint8, error) {
	out := make([]uint8, len(in))
	for i, v := range in {
		if v > 255 {
			return nil, fmt.Errorf("%s[%d] = %d does not fit in a byte", field, i, v)
		}
		out[i] = uint8(v)
	}
	return out, nil
}

func (s *server) lend(c *gin.Context) {
	var req lendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	durations, err := toUint8s("maxRentDurations", req.MaxRentDurations)
	if err != nil {
		badRequest(c, err)
		return
	}
	tokenIDs, err := toUint8s("paymentTokenIds", req.PaymentTokenIDs)
	if err != nil {
		badRequest(c, err)
		return
	}
	items, err := ledger.NewLendItems(req.AssetContracts, req.TokenIDs, durations,
		req.DailyRentPrices, req.CollateralPrices, tokenIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	ids, err := s.ledger.Lend(c.Request.Context(), callerOf(c), items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"lendingIds": ids})
}

func (s *server) stopLending(c *gin.Context) {
	s.refCall(c, s.ledger.StopLending)
}

func (s *server) rent(c *gin.Context) {
	var req rentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	durations, err := toUint8s("rentDurations", req.RentDurations)
	if err != nil {
		badRequest(c, err)
		return
	}
	items, err := ledger.NewRentItems(req.AssetContracts, req.TokenIDs, req.LendingIDs, durations)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.ledger.Rent(c.Request.Context(), callerOf(c), items); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) returnIt(c *gin.Context) {
	s.refCall(c, s.ledger.ReturnIt)
}

func (s *server) claimCollateral(c *gin.Context) {
	s.refCall(c, s.ledger.ClaimCollateral)
}

type refOp func(ctx context.Context, caller common.Address, items []ledger.RefItem) error

func (s *server) refCall(c *gin.Context, op refOp) {
	var req refRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	items, err := req.items()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := op(c.Request.Context(), callerOf(c), items); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func lendingIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("lendingId"), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lendingId must be a positive integer"})
		return 0, false
	}
	return id, true
}

func addressParam(c *gin.Context, raw, name string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": name + " is not a hex address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": name + " must be a non-negative integer"})
		return 0, false
	}
	return v, true
}

func (s *server) listLendings(c *gin.Context) {
	var f ledger.Filter
	for name, dst := range map[string]*common.Address{
		"lender":        &f.Lender,
		"renter":        &f.Renter,
		"assetContract": &f.AssetContract,
	} {
		if raw := c.Query(name); raw != "" {
			addr, ok := addressParam(c, raw, name)
			if !ok {
				return
			}
			*dst = addr
		}
	}
	f.State = c.Query("state")
	var ok bool
	if f.Page, ok = intQuery(c, "page"); !ok {
		return
	}
	if f.Size, ok = intQuery(c, "size"); !ok {
		return
	}

	items, page, err := s.ledger.ListLendings(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          page.Page,
		"pageSize":      page.Size,
		"totalElements": page.Total,
		"items":         items,
	})
}

func (s *server) getLending(c *gin.Context) {
	id, ok := lendingIDParam(c)
	if !ok {
		return
	}
	l, err := s.ledger.GetLending(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *server) getRenting(c *gin.Context) {
	id, ok := lendingIDParam(c)
	if !ok {
		return
	}
	r, err := s.ledger.GetRenting(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *server) quote(c *gin.Context) {
	id, ok := lendingIDParam(c)
	if !ok {
		return
	}
	days, err := strconv.ParseUint(c.Query("days"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer between 0 and 255"})
		return
	}
	q, err := s.ledger.Quote(c.Request.Context(), id, uint8(days))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *server) currentUser(c *gin.Context) {
	contract, ok := addressParam(c, c.Param("assetContract"), "assetContract")
	if !ok {
		return
	}
	user, err := s.ledger.CurrentUser(c.Request.Context(), contract, c.Param("tokenId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "rented": user != (common.Address{})})
}

func (s *server) events(c *gin.Context) {
	var lendingID uint64
	if raw := c.Query("lendingId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lendingId must be an integer"})
			return
		}
		lendingID = id
	}
	pageNum, ok := intQuery(c, "page")
	if !ok {
		return
	}
	size, ok := intQuery(c, "size")
	if !ok {
		return
	}
	events, page, err := s.ledger.Events(c.Request.Context(), lendingID, pageNum, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          page.Page,
		"pageSize":      page.Size,
		"totalElements": page.Total,
		"items":         events,
	})
}

func (s *server) params(c *gin.Context) {
	p, err := s.ledger.Params(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *server) setPaymentToken(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment token id must be between 0 and 255"})
		return
	}
	var req struct {
		Address common.Address `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.ledger.SetPaymentToken(c.Request.Context(), callerOf(c), uint8(id), req.Address); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) setFeeRate(c *gin.Context) {
	var req struct {
		FeeRate *uint16 `json:"feeRate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.ledger.SetFeeRate(c.Request.Context(), callerOf(c), *req.FeeRate); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) setBeneficiary(c *gin.Context) {
	var req struct {
		Beneficiary common.Address `json:"beneficiary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.ledger.SetBeneficiary(c.Request.Context(), callerOf(c), req.Beneficiary); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) setPaused(c *gin.Context) {
	var req struct {
		Paused *bool `json:"paused" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.ledger.SetPaused(c.Request.Context(), callerOf(c), *req.Paused); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) transferControl(c *gin.Context) {
	var req struct {
		Controller common.Address `json:"controller"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.ledger.TransferControl(c.Request.Context(), callerOf(c), req.Controller); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
