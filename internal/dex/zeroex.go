package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// 0x AGGREGATOR CLIENT - Swap quotes and transaction envelopes
// ═══════════════════════════════════════════════════════════════════════════════
//
// The aggregator is an external collaborator: we send (buyToken, sellToken,
// amount, taker, slippage) and get back a ready-to-sign transaction envelope
// or a failure. Nothing here inspects the route.
//
// ═══════════════════════════════════════════════════════════════════════════════

// NativeToken is the 0x sentinel for the chain's native asset.
const NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// QuoteRequest describes one side of a swap.
type QuoteRequest struct {
	BuyToken    string
	SellToken   string
	SellAmount  *big.Int // base units of sellToken
	Taker       string
	SlippageBps int
}

// Quote is the aggregator's transaction envelope.
type Quote struct {
	BuyToken        string
	SellToken       string
	BuyAmount       *big.Int
	SellAmount      *big.Int
	Price           float64
	Gas             uint64
	GasPrice        *big.Int
	To              common.Address
	Data            []byte
	Value           *big.Int
	AllowanceTarget common.Address
}

// Client talks to the 0x swap API.
type Client struct {
	baseURL    string
	apiKey     string
	chainID    int64
	httpClient *http.Client
}

// NewClient builds a 0x client for one chain.
func NewClient(baseURL, apiKey string, chainID int64, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		chainID:    chainID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type wireQuote struct {
	BuyToken        string `json:"buyToken"`
	SellToken       string `json:"sellToken"`
	BuyAmount       string `json:"buyAmount"`
	SellAmount      string `json:"sellAmount"`
	Price           string `json:"price"`
	Gas             string `json:"gas"`
	GasPrice        string `json:"gasPrice"`
	To              string `json:"to"`
	Data            string `json:"data"`
	Value           string `json:"value"`
	AllowanceTarget string `json:"allowanceTarget"`
	Reason          string `json:"reason"`
}

// GetQuote requests a swap quote. A nil quote with an error means the
// aggregator could not price the trade.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	q := url.Values{}
	q.Set("buyToken", req.BuyToken)
	q.Set("sellToken", req.SellToken)
	q.Set("sellAmount", req.SellAmount.String())
	q.Set("taker", req.Taker)
	q.Set("chainId", strconv.FormatInt(c.chainID, 10))
	if req.SlippageBps > 0 {
		q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	}

	endpoint := c.baseURL + "/swap/allowance-holder/quote?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("0x-api-key", c.apiKey)
	httpReq.Header.Set("0x-version", "v2")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("quote body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("quote HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var wire wireQuote
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("quote parse: %w", err)
	}
	if wire.To == "" || wire.Data == "" {
		return nil, fmt.Errorf("quote missing transaction envelope: %s", truncate(body, 200))
	}

	quote, err := wire.decode()
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("sell_token", req.SellToken).
		Str("buy_token", req.BuyToken).
		Str("sell_amount", quote.SellAmount.String()).
		Str("buy_amount", quote.BuyAmount.String()).
		Msg("0x quote")

	return quote, nil
}

func (w *wireQuote) decode() (*Quote, error) {
	buyAmount, err := parseBig(w.BuyAmount, "buyAmount")
	if err != nil {
		return nil, err
	}
	sellAmount, err := parseBig(w.SellAmount, "sellAmount")
	if err != nil {
		return nil, err
	}
	value, err := parseBig(w.Value, "value")
	if err != nil {
		return nil, err
	}
	gasPrice, err := parseBig(w.GasPrice, "gasPrice")
	if err != nil {
		return nil, err
	}

	var gas uint64
	if w.Gas != "" {
		gas, err = strconv.ParseUint(w.Gas, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid gas %q", w.Gas)
		}
	}

	var price float64
	if w.Price != "" {
		price, err = strconv.ParseFloat(w.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q", w.Price)
		}
	}

	return &Quote{
		BuyToken:        w.BuyToken,
		SellToken:       w.SellToken,
		BuyAmount:       buyAmount,
		SellAmount:      sellAmount,
		Price:           price,
		Gas:             gas,
		GasPrice:        gasPrice,
		To:              common.HexToAddress(w.To),
		Data:            common.FromHex(w.Data),
		Value:           value,
		AllowanceTarget: common.HexToAddress(w.AllowanceTarget),
	}, nil
}

func parseBig(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
