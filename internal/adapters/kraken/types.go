package kraken

import "strings"

// Kraken antepone X a los activos cripto "legacy" y Z a los fiat en las
// claves de /Balance y /Ticker (XXBT, ZUSD, XXBTZUSD). Los activos
// listados después usan el código tal cual (SOL, SOLUSD).
var (
	legacyFiat   = map[string]bool{"USD": true, "EUR": true, "GBP": true, "CAD": true, "JPY": true}
	legacyCrypto = map[string]bool{"XBT": true, "ETH": true, "LTC": true, "XRP": true, "XLM": true, "ETC": true, "XMR": true, "ZEC": true, "MLN": true, "REP": true, "XDG": true}
)

// FiatKey returns the /Balance key for a fiat currency: ZUSD, ZEUR...
func FiatKey(currency string) string {
	cur := strings.ToUpper(currency)
	if legacyFiat[cur] {
		return "Z" + cur
	}
	return cur
}

// BalanceKey returns the /Balance key for an asset code: XXBT, XETH, SOL.
func BalanceKey(symbol string) string {
	sym := strings.ToUpper(symbol)
	if legacyCrypto[sym] {
		return "X" + sym
	}
	return sym
}

// OrderPair returns the pair name accepted by AddOrder: XBTUSD, SOLEUR.
func OrderPair(symbol, currency string) string {
	return strings.ToUpper(symbol) + strings.ToUpper(currency)
}

// PricePair returns the pair key used in /Ticker responses. Legacy crypto
// quoted in USD, EUR or GBP uses the long form (XXBTZUSD); everything else
// the short one (SOLUSD).
func PricePair(symbol, currency string) string {
	sym, cur := strings.ToUpper(symbol), strings.ToUpper(currency)
	if legacyCrypto[sym] && (cur == "USD" || cur == "EUR" || cur == "GBP") {
		return "X" + sym + "Z" + cur
	}
	return sym + cur
}

type tickerInfo struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"`
	VWAP []string `json:"p"` // [hoy, últimas 24h]
}

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type withdrawResult struct {
	RefID string `json:"refid"`
}
