package market

import "strings"

// exchangeAliases maps broker and vendor exchange names onto MIC-style
// codes so the snapshot and the policy tables agree on keys.
var exchangeAliases = map[string]string{
	"NASDAQ":    "XNAS",
	"NASDAQCM":  "XNAS",
	"NASDAQGS":  "XNAS",
	"NYSE":      "XNYS",
	"NEW YORK":  "XNYS",
	"XETRA":     "XETR",
	"FRANKFURT": "XETR",
	"LSE":       "XLON",
	"LONDON":    "XLON",
	"AMSTERDAM": "XAMS",
	"PARIS":     "XPAR",
	"MILAN":     "XMIL",
	"HKSE":      "XHKG",
	"HONG KONG": "XHKG",
	"SHANGHAI":  "XSHG",
	"SHENZHEN":  "XSHG",
	"TOKYO":     "XTSE",
	"TSE":       "XTSE",
	"SYDNEY":    "XASX",
	"ASX":       "XASX",
}

// strictExchanges require an open market even for BUY orders. Everything
// else is flexible: buys may queue outside trading hours.
var strictExchanges = map[string]bool{
	"XHKG": true,
	"XSHG": true,
	"XTSE": true,
	"XASX": true,
}

// normalizeExchange maps an exchange name or code to its canonical code.
func normalizeExchange(exchange string) string {
	upper := strings.ToUpper(strings.TrimSpace(exchange))
	if code, ok := exchangeAliases[upper]; ok {
		return code
	}
	return upper
}
