package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHAIN CLIENT - JSON-RPC reads, transaction submission, receipts
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// ERC-20 function selectors
	selectorBalanceOf = "70a08231" // balanceOf(address)
	selectorApprove   = "095ea7b3" // approve(address,uint256)
	selectorDecimals  = "313ce567" // decimals()
	selectorSymbol    = "95d89b41" // symbol()

	receiptPollInterval = 2 * time.Second
)

// Event topics matched by the settlement recovery helpers.
var (
	TopicERC20Transfer  = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef") // Transfer(address,address,uint256)
	TopicWethWithdrawal = common.HexToHash("0x7fcf532c15f0a6db0bd6d0e038bea71d30d808c7d98cb3bf7268a95bf5081b65") // Withdrawal(address,uint256)
)

// Log is one event emitted by a mined transaction.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt is the settled outcome of a submitted transaction.
type Receipt struct {
	TxHash            common.Hash
	Success           bool
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	BlockNumber       uint64
	Logs              []Log

	// Value is the native amount the transaction carried. Only
	// LookupReceipt fills it; the tick path reads amounts from the quote
	// instead.
	Value *big.Int
}

// GasCost is gasUsed x effective gas price.
func (r *Receipt) GasCost() *big.Int {
	if r.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
}

// ERC20Received sums token Transfer amounts credited to owner in this
// transaction.
func (r *Receipt) ERC20Received(token, owner common.Address) *big.Int {
	return r.sumTransfers(token, owner, 2)
}

// ERC20Sent sums token Transfer amounts debited from owner.
func (r *Receipt) ERC20Sent(token, owner common.Address) *big.Int {
	return r.sumTransfers(token, owner, 1)
}

func (r *Receipt) sumTransfers(token, owner common.Address, topicIdx int) *big.Int {
	total := new(big.Int)
	for _, lg := range r.Logs {
		if lg.Address != token || len(lg.Topics) != 3 || lg.Topics[0] != TopicERC20Transfer {
			continue
		}
		if common.BytesToAddress(lg.Topics[topicIdx].Bytes()) != owner {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	return total
}

// WethUnwrapped sums WETH Withdrawal amounts in this transaction. A swap
// paying out native ETH unwraps exactly what the taker receives.
func (r *Receipt) WethUnwrapped(weth common.Address) *big.Int {
	total := new(big.Int)
	for _, lg := range r.Logs {
		if lg.Address != weth || len(lg.Topics) == 0 || lg.Topics[0] != TopicWethWithdrawal {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	return total
}

// Client wraps an ethclient with the chain's address table and signing
// helpers. Safe for concurrent use.
type Client struct {
	eth            *ethclient.Client
	addrs          Addresses
	chainID        *big.Int
	receiptTimeout time.Duration
}

// Dial connects to the RPC endpoint and verifies the chain id matches the
// configured chain name.
func Dial(ctx context.Context, rpcURL, chainName string, receiptTimeout time.Duration) (*Client, error) {
	addrs, err := ForChain(chainName)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if chainID.Int64() != addrs.ChainID {
		eth.Close()
		return nil, fmt.Errorf("RPC is chain %d, expected %d (%s)", chainID.Int64(), addrs.ChainID, chainName)
	}

	log.Info().
		Str("chain", chainName).
		Int64("chain_id", addrs.ChainID).
		Msg("⛓️ Chain client connected")

	return &Client{
		eth:            eth,
		addrs:          addrs,
		chainID:        chainID,
		receiptTimeout: receiptTimeout,
	}, nil
}

func (c *Client) Close() { c.eth.Close() }

// Addresses returns the static address table for the active chain.
func (c *Client) Addresses() Addresses { return c.addrs }

// Balance returns the native balance of an address in wei.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, addr, nil)
}

// TokenBalance reads an ERC-20 balanceOf.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data := common.Hex2Bytes(selectorBalanceOf)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	out, err := c.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// TokenDecimals reads an ERC-20 decimals().
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.Call(ctx, token, common.Hex2Bytes(selectorDecimals))
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("short decimals response for %s", token.Hex())
	}
	return uint8(out[31]), nil
}

// GasPrice suggests a gas price for submission.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// Call performs a read-only eth_call against a contract.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// SignAndSend builds, signs and submits a transaction, returning its hash.
// Gas limit 0 means estimate.
func (c *Client) SignAndSend(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	if gasLimit == 0 {
		gasLimit, err = c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}

	log.Debug().
		Str("tx", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("gas_limit", gasLimit).
		Msg("Transaction submitted")

	return signed.Hash(), nil
}

// WaitReceipt polls for a transaction receipt until it settles or the
// receipt timeout elapses. The context passed in caps the wait further;
// callers that must not abandon an in-flight trade pass context.Background.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return fromGethReceipt(rcpt), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// LookupReceipt is a one-shot receipt query used by the startup reconciler.
// Returns (nil, nil) when the transaction is still pending or unknown. The
// transaction body is fetched too so the receipt carries the native value,
// which settlement recovery needs for the cost basis.
func (c *Client) LookupReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	rcpt, err := c.eth.TransactionReceipt(ctx, hash)
	if err == ethereum.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := fromGethReceipt(rcpt)

	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), err)
	}
	out.Value = tx.Value()
	return out, nil
}

func fromGethReceipt(r *types.Receipt) *Receipt {
	logs := make([]Log, 0, len(r.Logs))
	for _, lg := range r.Logs {
		logs = append(logs, Log{Address: lg.Address, Topics: lg.Topics, Data: lg.Data})
	}
	return &Receipt{
		TxHash:            r.TxHash,
		Success:           r.Status == types.ReceiptStatusSuccessful,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
		BlockNumber:       r.BlockNumber.Uint64(),
		Logs:              logs,
	}
}

// ApproveCallData encodes an exact-amount ERC-20 approve.
func ApproveCallData(spender common.Address, amount *big.Int) []byte {
	data := common.Hex2Bytes(selectorApprove)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
