package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
)

// Backend is the subset of ethclient.Client the service needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client reads the account factory and, when an agent key is configured,
// submits transactions signed by the agent.
type Client struct {
	backend   Backend
	factory   string
	chainID   *big.Int
	agent     *ecdsa.PrivateKey
	agentAddr common.Address
	logger    *zap.Logger
}

// Dial connects to the RPC node at url.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return client, nil
}

// NewClient builds a client. agentKey is optional hex, with or without 0x.
func NewClient(backend Backend, factory string, chainID int64, agentKey string, logger *zap.Logger) (*Client, error) {
	if chainID <= 0 {
		chainID = DefaultChainID
	}
	c := &Client{
		backend: backend,
		factory: factory,
		chainID: big.NewInt(chainID),
		logger:  logger,
	}

	if agentKey == "" {
		return c, nil
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(agentKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid agent key hex: %w", models.ErrConfiguration)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid agent key: %w", models.ErrConfiguration)
	}
	c.agent = key
	c.agentAddr = crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("agent signer loaded", zap.String("address", c.agentAddr.Hex()))
	return c, nil
}

// HasAgent reports whether the client can submit transactions.
func (c *Client) HasAgent() bool { return c.agent != nil }

// HasFactory reports whether smart-account lookups are possible.
func (c *Client) HasFactory() bool { return c.factory != "" }

// AccountsOf lists the smart accounts the factory created for owner.
func (c *Client) AccountsOf(ctx context.Context, owner string) ([]common.Address, error) {
	if !c.HasFactory() {
		return nil, fmt.Errorf("factory address not configured: %w", models.ErrConfiguration)
	}
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("owner %q is not an address: %w", owner, models.ErrInvalidRequest)
	}

	data, err := factoryABI.Pack("getAccountsByOwner", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	factory := common.HexToAddress(c.factory)
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getAccountsByOwner: %w", err)
	}

	values, err := factoryABI.Unpack("getAccountsByOwner", out)
	if err != nil {
		return nil, fmt.Errorf("decode getAccountsByOwner: %w", err)
	}
	accounts, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("decode getAccountsByOwner: unexpected %T", values[0])
	}
	return accounts, nil
}

// SmartAccountOf returns the owner's first smart account, or "" when none.
func (c *Client) SmartAccountOf(ctx context.Context, owner string) (string, error) {
	accounts, err := c.AccountsOf(ctx, owner)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", nil
	}
	return accounts[0].Hex(), nil
}

func (c *Client) HasPendingTrade(ctx context.Context, account string) (bool, error) {
	data, err := accountABI.Pack("hasPendingTrade")
	if err != nil {
		return false, err
	}
	to := common.HexToAddress(account)
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("hasPendingTrade: %w", err)
	}
	values, err := accountABI.Unpack("hasPendingTrade", out)
	if err != nil {
		return false, fmt.Errorf("decode hasPendingTrade: %w", err)
	}
	pending, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("decode hasPendingTrade: unexpected %T", values[0])
	}
	return pending, nil
}

// SendTransaction signs tx with the agent key and broadcasts it.
func (c *Client) SendTransaction(ctx context.Context, tx models.PreparedTx) (string, error) {
	if c.agent == nil {
		return "", fmt.Errorf("agent key not configured: %w", models.ErrConfiguration)
	}

	to := common.HexToAddress(tx.To)
	data, err := hexutil.Decode(tx.Data)
	if err != nil {
		return "", fmt.Errorf("calldata: %w", err)
	}
	value, ok := new(big.Int).SetString(orZero(tx.Value), 10)
	if !ok {
		return "", fmt.Errorf("value %q is not a base-10 integer", tx.Value)
	}
	chainID := c.chainID
	if tx.ChainID > 0 {
		chainID = big.NewInt(tx.ChainID)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.agentAddr)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.agentAddr, To: &to, Value: value, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	signed, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	}), types.LatestSignerForChainID(chainID), c.agent)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}

	hash := signed.Hash().Hex()
	c.logger.Info("agent transaction sent", zap.String("to", tx.To), zap.String("hash", hash), zap.Uint64("nonce", nonce))
	return hash, nil
}

// WaitForReceipt blocks until the transaction is mined or ctx ends. Lookup
// errors are retried. A reverted transaction is an error.
func (c *Client) WaitForReceipt(ctx context.Context, hash string) error {
	receipt, err := bind.WaitMinedHash(ctx, c.backend, common.HexToHash(hash))
	if err != nil {
		return fmt.Errorf("receipt %s: %w", hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", hash)
	}
	c.logger.Debug("transaction mined", zap.String("hash", hash), zap.Uint64("gas_used", receipt.GasUsed))
	return nil
}

func (c *Client) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return nil, fmt.Errorf("balance %s: %w", account, err)
	}
	return balance, nil
}

func orZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}
