package symbol

import (
	"strings"
)

type Symbol struct {
	Base  string
	Quote string
}

// BitMEX spells a few assets differently from other venues.
var bitmexAliases = map[string]string{
	"XBT": "BTC",
}

// Parse accepts "BTC/USDT", "BTCUSDT", "XBTUSD" or "BTC/USDT:USDT".
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	quoteCurrencies := []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

func (s Symbol) Valid() bool { return s.Base != "" && s.Quote != "" }

// Binance renders the USD-M futures ticker; BitMEX-style inverse USD
// pairs map onto their USDT contract.
func (s Symbol) Binance() string {
	if !s.Valid() {
		return ""
	}
	base := s.Base
	if alias, ok := bitmexAliases[base]; ok {
		base = alias
	}
	quote := s.Quote
	if quote == "USD" {
		quote = "USDT"
	}
	return base + quote
}

// ToBinance converts any accepted spelling to a Binance futures symbol,
// falling back to the upper-cased input.
func ToBinance(raw string) string {
	if sym := Parse(raw).Binance(); sym != "" {
		return sym
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "/", ""))
}
