package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Wei is an arbitrary-precision base-unit amount. It marshals as a decimal
// string so accounting never round-trips through floats.
type Wei struct {
	i *big.Int
}

var weiPerEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// NewWei wraps a big.Int. The value is copied; nil becomes zero.
func NewWei(v *big.Int) Wei {
	if v == nil {
		return Wei{i: new(big.Int)}
	}
	return Wei{i: new(big.Int).Set(v)}
}

// WeiFromInt64 builds a Wei from an int64 value.
func WeiFromInt64(v int64) Wei {
	return Wei{i: big.NewInt(v)}
}

// WeiFromString parses a decimal string.
func WeiFromString(s string) (Wei, error) {
	if s == "" {
		return Wei{i: new(big.Int)}, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Wei{}, fmt.Errorf("invalid wei amount %q", s)
	}
	return Wei{i: v}, nil
}

// BigInt returns a copy of the underlying integer.
func (w Wei) BigInt() *big.Int {
	if w.i == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(w.i)
}

func (w Wei) IsZero() bool { return w.i == nil || w.i.Sign() == 0 }
func (w Wei) Sign() int {
	if w.i == nil {
		return 0
	}
	return w.i.Sign()
}

func (w Wei) Cmp(o Wei) int { return w.BigInt().Cmp(o.BigInt()) }

func (w Wei) Add(o Wei) Wei { return Wei{i: new(big.Int).Add(w.BigInt(), o.BigInt())} }
func (w Wei) Sub(o Wei) Wei { return Wei{i: new(big.Int).Sub(w.BigInt(), o.BigInt())} }
func (w Wei) Neg() Wei      { return Wei{i: new(big.Int).Neg(w.BigInt())} }

func (w Wei) String() string {
	if w.i == nil {
		return "0"
	}
	return w.i.String()
}

// Eth converts to a whole-ETH decimal for display and P&L math.
func (w Wei) Eth() decimal.Decimal {
	return decimal.NewFromBigInt(w.BigInt(), -18)
}

// EthFromDecimal converts a whole-ETH decimal back to wei.
func EthFromDecimal(d decimal.Decimal) Wei {
	scaled := d.Mul(decimal.NewFromBigInt(weiPerEth, 0))
	return Wei{i: scaled.BigInt()}
}

func (w Wei) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.String() + `"`), nil
}

func (w *Wei) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		w.i = new(big.Int)
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid wei amount %q", s)
	}
	w.i = v
	return nil
}
