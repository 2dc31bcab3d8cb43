// Package change breaks an amount of cents into machine coins.
package change

// Denominations accepted by the machine, largest first.
var Denominations = []int{100, 50, 20, 10, 5}

// ValidCoin reports whether coin is one of the accepted denominations.
func ValidCoin(coin int) bool {
	for _, d := range Denominations {
		if coin == d {
			return true
		}
	}
	return false
}

// Change returns the greedy largest-first breakdown of amount.
// The caller guarantees amount is a non-negative multiple of 5, so the
// loop always ends with a remainder of exactly 0.
func Change(amount int) []int {
	breakdown := []int{}
	for _, coin := range Denominations {
		for amount >= coin {
			breakdown = append(breakdown, coin)
			amount -= coin
		}
	}
	return breakdown
}
