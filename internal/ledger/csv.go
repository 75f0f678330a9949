package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gridbase/gridbase/internal/model"
)

var csvHeader = []string{
	"Date", "Time", "Bot Id", "Bot Name", "Token Symbol", "Token Address",
	"Action", "Amount", "Price", "ETH Value", "Gas Cost", "Profit",
	"Profit %", "Position Id", "Tx Hash",
}

// ExportCSV writes the trade history as CSV. Timestamps are rendered in UTC
// and wei amounts as fixed-point ETH so spreadsheets never see raw wei.
func ExportCSV(w io.Writer, trades []model.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, t := range trades {
		utc := t.Timestamp.UTC()
		row := []string{
			utc.Format("2006-01-02"),
			utc.Format("15:04:05"),
			t.BotID,
			t.BotName,
			t.TokenSymbol,
			t.TokenAddress,
			strings.ToUpper(string(t.Action)),
			t.Amount.Eth().String(),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			t.EthValue.Eth().String(),
			t.GasCost.Eth().String(),
			t.Profit.Eth().String(),
			strconv.FormatFloat(t.ProfitPercent, 'f', 2, 64),
			strconv.Itoa(t.PositionID),
			t.TxHash,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportBotCSV writes one bot's history.
func (l *Ledger) ExportBotCSV(w io.Writer, botID string) error {
	return ExportCSV(w, l.ByBot(botID, time.Time{}, time.Time{}))
}

// ExportAllCSV writes the full history.
func (l *Ledger) ExportAllCSV(w io.Writer) error {
	return ExportCSV(w, l.All())
}
