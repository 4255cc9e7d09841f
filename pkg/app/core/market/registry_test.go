package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

func TestDefaultRegistryOrder(t *testing.T) {
	r := Default()
	assert.Equal(t, []core.Symbol{"GOOG", "TSLA", "AMZN", "META", "NVDA"}, r.Symbols())

	nvda, ok := r.Get("NVDA")
	require.True(t, ok)
	assert.True(t, nvda.Amplitude.Equal(decimal.NewFromInt(20)))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		Market{Symbol: "AAA", SeedPrice: decimal.NewFromInt(1)},
		Market{Symbol: "AAA", SeedPrice: decimal.NewFromInt(2)},
	)
	require.Error(t, err)
}

func TestRegistryRejectsNonPositiveSeed(t *testing.T) {
	_, err := NewRegistry(Market{Symbol: "AAA", SeedPrice: decimal.Zero})
	require.Error(t, err)
}

func TestValidateUnknownSymbol(t *testing.T) {
	r := Default()
	require.NoError(t, r.Validate("GOOG"))

	err := r.Validate("MSFT")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}
