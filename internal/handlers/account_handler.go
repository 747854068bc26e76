package handlers

import (
	"context"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type AccountLookup interface {
	AccountsOf(ctx context.Context, owner string) ([]common.Address, error)
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
}

type AccountHandler struct {
	accounts AccountLookup
}

// NewAccountHandler takes nil when no factory is configured; every lookup then
// answers 500.
func NewAccountHandler(accounts AccountLookup) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) lookup(c *gin.Context) ([]common.Address, bool) {
	owner := c.Param("ownerAddress")
	if !common.IsHexAddress(owner) || len(owner) != 42 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ownerAddress must be a 0x-prefixed 20 byte address"})
		return nil, false
	}
	if h.accounts == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Factory address not configured"})
		return nil, false
	}

	accounts, err := h.accounts.AccountsOf(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return accounts, true
}

func (h *AccountHandler) GetSmartAccount(c *gin.Context) {
	accounts, ok := h.lookup(c)
	if !ok {
		return
	}

	var first interface{}
	hexes := make([]string, 0, len(accounts))
	for _, a := range accounts {
		hexes = append(hexes, a.Hex())
	}
	if len(hexes) > 0 {
		first = hexes[0]
	}

	c.JSON(http.StatusOK, gin.H{
		"hasAccount":    len(hexes) > 0,
		"smartAccount":  first,
		"totalAccounts": len(hexes),
		"accounts":      hexes,
	})
}

func (h *AccountHandler) GetBalance(c *gin.Context) {
	accounts, ok := h.lookup(c)
	if !ok {
		return
	}
	if len(accounts) == 0 {
		c.JSON(http.StatusOK, gin.H{"balance": "0", "hasAccount": false})
		return
	}

	smartAccount := accounts[0].Hex()
	balance, err := h.accounts.BalanceOf(c.Request.Context(), smartAccount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hasAccount":       true,
		"smartAccount":     smartAccount,
		"balance":          balance.String(),
		"balanceFormatted": formatEther(balance),
	})
}

// formatEther renders wei as ether, keeping at least one fractional digit.
func formatEther(wei *big.Int) string {
	s := decimal.NewFromBigInt(wei, -18).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
