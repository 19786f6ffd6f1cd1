package broker

import (
	"strconv"
	"strings"

	"github.com/aristath/helmsman/internal/domain"
)

type rawBalance struct {
	Currency string  `json:"curr"`
	Amount   float64 `json:"s"`
}

type rawPosition struct {
	Symbol       string  `json:"i"`
	Quantity     int     `json:"q"`
	AvgPrice     float64 `json:"bal_price_a"`
	CurrentPrice float64 `json:"mkt_price"`
	Currency     string  `json:"curr"`
	MarketValue  float64 `json:"market_value"`
}

func (p rawPosition) toDomain() domain.Position {
	return domain.Position{
		Symbol:       strings.ToUpper(p.Symbol),
		Quantity:     p.Quantity,
		AvgPrice:     p.AvgPrice,
		CurrentPrice: p.CurrentPrice,
		Currency:     strings.ToUpper(p.Currency),
	}
}

type rawQuote struct {
	Symbol   string  `json:"c"`
	Price    float64 `json:"ltp"`
	Bid      float64 `json:"bbp"`
	Ask      float64 `json:"bap"`
	Currency string  `json:"curr"`
}

func (q rawQuote) toDomain() domain.Quote {
	return domain.Quote{
		Symbol:   q.Symbol,
		Price:    q.Price,
		Bid:      q.Bid,
		Ask:      q.Ask,
		Currency: strings.ToUpper(q.Currency),
	}
}

// rawCandles is the columnar HLOC payload: hloc[i] = [high, low, open,
// close], xSeries[i] = date.
type rawCandles struct {
	HLOC    [][4]float64 `json:"hloc"`
	Volumes []int64      `json:"vl"`
	Dates   []string     `json:"xSeries"`
}

func (c rawCandles) toDomain(symbol string) []domain.PriceBar {
	bars := make([]domain.PriceBar, 0, len(c.HLOC))
	for i, hloc := range c.HLOC {
		if i >= len(c.Dates) {
			break
		}
		bar := domain.PriceBar{
			Symbol: strings.ToUpper(symbol),
			Date:   c.Dates[i],
			High:   hloc[0],
			Low:    hloc[1],
			Open:   hloc[2],
			Close:  hloc[3],
		}
		if i < len(c.Volumes) {
			bar.Volume = c.Volumes[i]
		}
		bars = append(bars, bar)
	}
	return bars
}

type rawSecurityInfo struct {
	Symbol   string `json:"ticker"`
	Name     string `json:"name"`
	ISIN     string `json:"isin"`
	Lot      int    `json:"lot"`
	Currency string `json:"curr"`
	Market   struct {
		ID int64 `json:"mkt_id"`
	} `json:"mrkt"`
}

func (s rawSecurityInfo) toDomain() domain.SecurityInfo {
	lot := s.Lot
	if lot < 1 {
		lot = 1
	}
	return domain.SecurityInfo{
		Symbol:   strings.ToUpper(s.Symbol),
		Name:     s.Name,
		ISIN:     strings.ToUpper(s.ISIN),
		Lot:      lot,
		Currency: strings.ToUpper(s.Currency),
		MarketID: marketIDString(s.Market.ID),
	}
}

func marketIDString(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

type rawMarket struct {
	ID     int64  `json:"i"`
	Name   string `json:"n2"`
	Status string `json:"s"`
}

type rawTrade struct {
	ID                 int64   `json:"id"`
	Symbol             string  `json:"symbol"`
	InstrumentName     string  `json:"instr_nm"`
	Side               string  `json:"side"`
	Quantity           float64 `json:"q"`
	Price              float64 `json:"p"`
	Date               string  `json:"date"`
	Commission         float64 `json:"commission"`
	CommissionCurrency string  `json:"commission_currency"`
}

func (t rawTrade) toDomain() domain.Trade {
	symbol := t.Symbol
	if symbol == "" {
		symbol = t.InstrumentName
	}
	side := domain.SideBuy
	if strings.EqualFold(t.Side, "sell") || t.Side == "S" {
		side = domain.SideSell
	}
	currency := t.CommissionCurrency
	if currency == "" {
		currency = "EUR"
	}
	return domain.Trade{
		BrokerTradeID:      strconv.FormatInt(t.ID, 10),
		Symbol:             strings.ToUpper(symbol),
		Side:               side,
		Quantity:           t.Quantity,
		Price:              t.Price,
		ExecutedAt:         t.Date,
		Commission:         t.Commission,
		CommissionCurrency: strings.ToUpper(currency),
	}
}

type rawCashFlow struct {
	ID       int64   `json:"id"`
	TypeID   string  `json:"type_id"`
	Date     string  `json:"date"`
	Amount   float64 `json:"amount"`
	Sum      float64 `json:"sm"`
	Currency string  `json:"currency"`
	Curr     string  `json:"curr"`
	Comment  string  `json:"comment"`
}

func (f rawCashFlow) toDomain() domain.CashFlow {
	amount := f.Amount
	if amount == 0 {
		amount = f.Sum
	}
	currency := f.Currency
	if currency == "" {
		currency = f.Curr
	}
	if currency == "" {
		currency = "EUR"
	}
	return domain.CashFlow{
		Date:     f.Date,
		TypeID:   f.TypeID,
		Amount:   amount,
		Currency: strings.ToUpper(currency),
		Comment:  f.Comment,
	}
}
