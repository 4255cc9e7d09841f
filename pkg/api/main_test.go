package api

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
)

// Match the encoding cmd/broker ships with.
func TestMain(m *testing.M) {
	decimal.MarshalJSONWithoutQuotes = true
	os.Exit(m.Run())
}
