package change

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChangeKnownBreakdowns(t *testing.T) {
	require.Equal(t, []int{20, 10, 5}, Change(35))
	require.Equal(t, []int{50, 20, 20, 5}, Change(95))
	require.Equal(t, []int{100}, Change(100))
	require.Equal(t, []int{}, Change(0))
}

func TestChangeSumsAndOrdering(t *testing.T) {
	for amount := 0; amount <= 10000; amount += 5 {
		breakdown := Change(amount)

		sum := 0
		for i, coin := range breakdown {
			require.True(t, ValidCoin(coin), "amount %d produced coin %d", amount, coin)
			if i > 0 {
				require.LessOrEqual(t, coin, breakdown[i-1], "amount %d not largest-first", amount)
			}
			sum += coin
		}
		require.Equal(t, amount, sum)
	}
}

func TestValidCoin(t *testing.T) {
	for _, coin := range []int{5, 10, 20, 50, 100} {
		require.True(t, ValidCoin(coin))
	}
	for _, coin := range []int{0, 1, 2, 25, 200, -5} {
		require.False(t, ValidCoin(coin))
	}
}
