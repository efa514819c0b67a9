package domain_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/domain"
)

func TestFormatUSDC(t *testing.T) {
	cases := map[int64]string{
		0:          "0.00",
		1:          "0.00",
		4_500_000:  "4.50",
		10_000_000: "10.00",
		-2_250_000: "-2.25",
	}
	for in, want := range cases {
		assert.Equal(t, want, domain.FormatUSDC(big.NewInt(in)), "amount %d", in)
	}
	assert.Equal(t, "0.00", domain.FormatUSDC(nil))
	assert.Equal(t, "$1.23", domain.FormatUSD(big.NewInt(1_230_000)))
}

func TestParseUSDC(t *testing.T) {
	v, err := domain.ParseUSDC("12.5")
	require.NoError(t, err)
	assert.Equal(t, int64(12_500_000), v.Int64())

	_, err = domain.ParseUSDC("twelve")
	assert.Error(t, err)
}
