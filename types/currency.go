package types

// Currency represents a cryptocurrency a payment order can be denominated in.
type Currency string

const (
	CurrencyUSDT Currency = "USDT"
	CurrencyUSDC Currency = "USDC"
	CurrencyDAI  Currency = "DAI"
	CurrencyETH  Currency = "ETH"
)

func (c Currency) String() string {
	return string(c)
}

// Valid reports whether the currency is one of the supported enumerations.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSDT, CurrencyUSDC, CurrencyDAI, CurrencyETH:
		return true
	default:
		return false
	}
}

// Pegged reports whether the currency is treated as pegged 1:1 to USD.
// Pegged currencies are quoted at face value; the others divide by the
// current market rate.
func (c Currency) Pegged() bool {
	switch c {
	case CurrencyUSDT, CurrencyUSDC:
		return true
	default:
		return false
	}
}

// SupportedCurrencies returns the closed set of currencies orders may use.
func SupportedCurrencies() []Currency {
	return []Currency{CurrencyUSDT, CurrencyUSDC, CurrencyDAI, CurrencyETH}
}
