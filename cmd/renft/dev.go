package main

import (
	"net/http"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// devRoutes exposes the token and asset simulator so wallets can be funded
// and approvals granted without a chain.
func (s *server) devRoutes(api *gin.RouterGroup) {
	dev := api.Group("/dev")
	dev.GET("/tokens/:token/balances/:holder", s.devBalance)
	dev.GET("/assets/:contract/:tokenId/owner", s.devOwner)

	write := dev.Group("", requireCaller)
	write.POST("/tokens", s.devDeployToken)
	write.POST("/tokens/:token/faucet", s.devFaucet)
	write.POST("/tokens/:token/approve", s.devApproveToken)
	write.POST("/assets/:contract/award", s.devAward)
	write.POST("/assets/:contract/approval", s.devApproveAll)
}

func (s *server) devDeployToken(c *gin.Context) {
	var req struct {
		Address  common.Address `json:"address"`
		Symbol   string         `json:"symbol" binding:"required"`
		Decimals uint8          `json:"decimals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.tokens.Deploy(c.Request.Context(), req.Address, req.Symbol, req.Decimals); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": req.Address, "symbol": req.Symbol, "decimals": req.Decimals})
}

func (s *server) devFaucet(c *gin.Context) {
	token, ok := addressParam(c, c.Param("token"), "token")
	if !ok {
		return
	}
	minted, err := s.tokens.Faucet(c.Request.Context(), token, callerOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minted": minted})
}

func (s *server) devApproveToken(c *gin.Context) {
	token, ok := addressParam(c, c.Param("token"), "token")
	if !ok {
		return
	}
	var req struct {
		Spender common.Address `json:"spender"`
		Amount  math.Int       `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Amount.IsNil() {
		req.Amount = math.ZeroInt()
	}
	if err := s.tokens.Approve(c.Request.Context(), token, callerOf(c), req.Spender, req.Amount); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) devBalance(c *gin.Context) {
	token, ok := addressParam(c, c.Param("token"), "token")
	if !ok {
		return
	}
	holder, ok := addressParam(c, c.Param("holder"), "holder")
	if !ok {
		return
	}
	bal, err := s.tokens.BalanceOf(c.Request.Context(), token, holder)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "holder": holder, "balance": bal})
}

func (s *server) devAward(c *gin.Context) {
	contract, ok := addressParam(c, c.Param("contract"), "contract")
	if !ok {
		return
	}
	tokenID, err := s.assets.Award(c.Request.Context(), contract, callerOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assetContract": contract, "tokenId": tokenID})
}

func (s *server) devApproveAll(c *gin.Context) {
	contract, ok := addressParam(c, c.Param("contract"), "contract")
	if !ok {
		return
	}
	var req struct {
		Operator common.Address `json:"operator"`
		Approved bool           `json:"approved"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.assets.SetApprovalForAll(c.Request.Context(), contract, callerOf(c), req.Operator, req.Approved); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) devOwner(c *gin.Context) {
	contract, ok := addressParam(c, c.Param("contract"), "contract")
	if !ok {
		return
	}
	owner, err := s.assets.OwnerOf(c.Request.Context(), contract, c.Param("tokenId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner})
}
