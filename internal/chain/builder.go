package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"tradegpt-backend/internal/models"
)

const (
	DefaultChainID = 50312

	priceDecimals      = 2
	defaultDecimals    = 18
	collateralDecimals = 6 // USDC
)

var assetDecimals = map[string]int32{
	"STT":  18,
	"ETH":  18,
	"BTC":  8,
	"SOL":  9,
	"USDC": 6,
}

// TradeConfig mirrors the account contract's trade configuration tuple.
type TradeConfig struct {
	Asset       common.Address
	Collateral  *big.Int
	LeverageBps *big.Int
	IsLong      bool
	StopLoss    *big.Int
	TakeProfit  *big.Int
}

// Execution mirrors the account contract's execution tuple.
type Execution struct {
	Router  common.Address
	Value   *big.Int
	Payload []byte
}

type tradeMetadata struct {
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
	EntryPrice float64 `json:"entryPrice"`
}

// TxBuilder encodes unsigned contract calls for a trade.
type TxBuilder struct {
	router  string
	assets  map[string]common.Address
	chainID int64
}

// NewTxBuilder takes the asset symbol to token address table; unknown symbols
// encode as the zero address. An empty router is accepted here and reported
// when a router call is built.
func NewTxBuilder(router string, assets map[string]string, chainID int64) *TxBuilder {
	if chainID <= 0 {
		chainID = DefaultChainID
	}
	table := make(map[string]common.Address, len(assets))
	for symbol, addr := range assets {
		table[strings.ToUpper(symbol)] = common.HexToAddress(addr)
	}
	return &TxBuilder{router: router, assets: table, chainID: chainID}
}

// BuildDirect encodes router.executeTrade for a plain wallet.
func (b *TxBuilder) BuildDirect(account string, trade models.Trade) (models.PreparedTx, error) {
	router, err := b.routerAddress()
	if err != nil {
		return models.PreparedTx{}, err
	}
	owner, err := parseAccount(account)
	if err != nil {
		return models.PreparedTx{}, err
	}

	data, err := b.routerCall(owner, trade)
	if err != nil {
		return models.PreparedTx{}, err
	}
	return b.prepared(router, data), nil
}

// BuildPrepare encodes account.prepareTrade wrapping the router call, so the
// smart account executes it later.
func (b *TxBuilder) BuildPrepare(account string, trade models.Trade) (models.PreparedTx, error) {
	router, err := b.routerAddress()
	if err != nil {
		return models.PreparedTx{}, err
	}
	smartAccount, err := parseAccount(account)
	if err != nil {
		return models.PreparedTx{}, err
	}

	cfg, err := b.tradeConfig(trade)
	if err != nil {
		return models.PreparedTx{}, err
	}
	payload, err := b.routerCall(smartAccount, trade)
	if err != nil {
		return models.PreparedTx{}, err
	}

	data, err := accountABI.Pack("prepareTrade", cfg, Execution{
		Router:  router,
		Value:   big.NewInt(0),
		Payload: payload,
	})
	if err != nil {
		return models.PreparedTx{}, fmt.Errorf("encode prepareTrade: %w: %w", models.ErrTransactionBuild, err)
	}
	return b.prepared(smartAccount, data), nil
}

// BuildConfirm encodes account.executeTrade for an already prepared trade.
func (b *TxBuilder) BuildConfirm(account string) (models.PreparedTx, error) {
	return b.accountCall(account, "executeTrade")
}

func (b *TxBuilder) BuildCancel(account string) (models.PreparedTx, error) {
	return b.accountCall(account, "cancelTrade")
}

func (b *TxBuilder) accountCall(account, method string) (models.PreparedTx, error) {
	smartAccount, err := parseAccount(account)
	if err != nil {
		return models.PreparedTx{}, err
	}
	data, err := accountABI.Pack(method)
	if err != nil {
		return models.PreparedTx{}, fmt.Errorf("encode %s: %w: %w", method, models.ErrTransactionBuild, err)
	}
	return b.prepared(smartAccount, data), nil
}

func (b *TxBuilder) routerCall(account common.Address, trade models.Trade) ([]byte, error) {
	cfg, err := b.tradeConfig(trade)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeMetadata(trade)
	if err != nil {
		return nil, err
	}

	data, err := routerABI.Pack("executeTrade",
		account,
		cfg.Asset,
		cfg.IsLong,
		cfg.Collateral,
		cfg.LeverageBps,
		cfg.StopLoss,
		cfg.TakeProfit,
		metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("encode executeTrade: %w: %w", models.ErrTransactionBuild, err)
	}
	return data, nil
}

func (b *TxBuilder) tradeConfig(trade models.Trade) (TradeConfig, error) {
	symbol := strings.ToUpper(trade.Symbol)
	isLong := trade.Side == models.SideLong

	decimals := int32(collateralDecimals)
	if !isLong {
		decimals = defaultDecimals
		if d, ok := assetDecimals[symbol]; ok {
			decimals = d
		}
	}

	collateral, err := parseUnits("collateral", trade.Collateral, decimals)
	if err != nil {
		return TradeConfig{}, err
	}
	if trade.Leverage < 0 || math.IsNaN(trade.Leverage) || math.IsInf(trade.Leverage, 0) {
		return TradeConfig{}, fmt.Errorf("leverage %v: %w", trade.Leverage, models.ErrTransactionBuild)
	}
	stopLoss, err := optionalUnits("stopLoss", trade.StopLoss)
	if err != nil {
		return TradeConfig{}, err
	}
	takeProfit, err := optionalUnits("takeProfit", trade.TakeProfit)
	if err != nil {
		return TradeConfig{}, err
	}

	return TradeConfig{
		Asset:       b.assets[symbol],
		Collateral:  collateral,
		LeverageBps: big.NewInt(int64(math.Round(trade.Leverage * 100))),
		IsLong:      isLong,
		StopLoss:    stopLoss,
		TakeProfit:  takeProfit,
	}, nil
}

func (b *TxBuilder) routerAddress() (common.Address, error) {
	if b.router == "" {
		return common.Address{}, fmt.Errorf("SOMNIA_ROUTER_ADDRESS not configured: %w", models.ErrConfiguration)
	}
	if !common.IsHexAddress(b.router) {
		return common.Address{}, fmt.Errorf("router address %q: %w", b.router, models.ErrConfiguration)
	}
	return common.HexToAddress(b.router), nil
}

func (b *TxBuilder) prepared(to common.Address, data []byte) models.PreparedTx {
	return models.PreparedTx{
		To:      to.Hex(),
		Data:    hexutil.Encode(data),
		Value:   "0",
		ChainID: b.chainID,
	}
}

func parseAccount(account string) (common.Address, error) {
	if !common.IsHexAddress(account) {
		return common.Address{}, fmt.Errorf("account %q is not an address: %w", account, models.ErrTransactionBuild)
	}
	return common.HexToAddress(account), nil
}

// parseUnits scales v to an integer amount with the given decimals, rounding
// away any precision the token cannot hold.
func parseUnits(field string, v float64, decimals int32) (*big.Int, error) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s %v: %w", field, v, models.ErrTransactionBuild)
	}
	return decimal.NewFromFloat(v).Round(decimals).Shift(decimals).BigInt(), nil
}

func optionalUnits(field string, v *float64) (*big.Int, error) {
	if v == nil {
		return big.NewInt(0), nil
	}
	return parseUnits(field, *v, priceDecimals)
}

// encodeMetadata is abi.encode(string) of the trade rationale JSON.
func encodeMetadata(trade models.Trade) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tradeMetadata{
		Rationale:  trade.Rationale,
		Confidence: trade.Confidence,
		EntryPrice: trade.EntryPrice,
	}); err != nil {
		return nil, fmt.Errorf("encode metadata: %w: %w", models.ErrTransactionBuild, err)
	}

	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, fmt.Errorf("metadata type: %w: %w", models.ErrTransactionBuild, err)
	}
	packed, err := abi.Arguments{{Type: stringType}}.Pack(strings.TrimSuffix(buf.String(), "\n"))
	if err != nil {
		return nil, fmt.Errorf("pack metadata: %w: %w", models.ErrTransactionBuild, err)
	}
	return packed, nil
}
