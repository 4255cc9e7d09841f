package ledger

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// CSVHeader is the column layout of the trade export.
var CSVHeader = []string{"id", "buy_order_id", "sell_order_id", "symbol", "price", "quantity", "traded_at"}

// WriteCSV writes trades in the given order. Missing order ids are empty
// cells; traded_at is unix milliseconds.
func WriteCSV(w io.Writer, trades []*core.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			strconv.FormatInt(t.ID, 10),
			optionalID(t.BuyOrderID),
			optionalID(t.SellOrderID),
			string(t.Symbol),
			t.Price.String(),
			t.Quantity.String(),
			strconv.FormatInt(t.TradedAt.UnixMilli(), 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
