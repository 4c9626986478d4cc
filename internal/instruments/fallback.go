package instruments

import (
	"strings"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// Normalize canonicalizes ticker variations. Index aliases collapse to the
// caret form; bare equity symbols get the NSE suffix.
func Normalize(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))

	switch t {
	case "NIFTY", "NIFTY50", "NIFTY 50", "^NSEI":
		return "^NSEI"
	case "BANKNIFTY", "NIFTYBANK", "NIFTY BANK", "^NSEBANK":
		return "^NSEBANK"
	case "SENSEX", "^BSESN":
		return "^BSESN"
	}

	if strings.HasPrefix(t, "^") {
		return t
	}
	if strings.HasSuffix(t, ".NS") || strings.HasSuffix(t, ".BO") {
		return t
	}
	return t + ".NS"
}

// fallbackInstruments covers major symbols when the master download is
// denied. Keys are normalized tickers.
var fallbackInstruments = map[string]Instrument{
	"^NSEI": {
		TradingSymbol: "NIFTY 50",
		InstrumentKey: domain.InstrumentKey("NSE_INDEX|Nifty 50"),
		Name:          "Nifty 50 Index",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"^NSEBANK": {
		TradingSymbol: "NIFTY BANK",
		InstrumentKey: domain.InstrumentKey("NSE_INDEX|Nifty Bank"),
		Name:          "Nifty Bank Index",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"^BSESN": {
		TradingSymbol: "SENSEX",
		InstrumentKey: domain.InstrumentKey("BSE_INDEX|SENSEX"),
		Name:          "S&P BSE Sensex",
		Exchange:      "BSE",
		LotSize:       1,
	},
	"RELIANCE.NS": {
		TradingSymbol: "RELIANCE",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE002A01018"),
		ISIN:          "INE002A01018",
		Name:          "Reliance Industries Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"TCS.NS": {
		TradingSymbol: "TCS",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE467B01029"),
		ISIN:          "INE467B01029",
		Name:          "Tata Consultancy Services Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"INFY.NS": {
		TradingSymbol: "INFY",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE009A01021"),
		ISIN:          "INE009A01021",
		Name:          "Infosys Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"HDFCBANK.NS": {
		TradingSymbol: "HDFCBANK",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE040A01034"),
		ISIN:          "INE040A01034",
		Name:          "HDFC Bank Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"ICICIBANK.NS": {
		TradingSymbol: "ICICIBANK",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE090A01021"),
		ISIN:          "INE090A01021",
		Name:          "ICICI Bank Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"SBIN.NS": {
		TradingSymbol: "SBIN",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE062A01020"),
		ISIN:          "INE062A01020",
		Name:          "State Bank of India",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"ITC.NS": {
		TradingSymbol: "ITC",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE154A01025"),
		ISIN:          "INE154A01025",
		Name:          "ITC Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"BHARTIARTL.NS": {
		TradingSymbol: "BHARTIARTL",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE397D01024"),
		ISIN:          "INE397D01024",
		Name:          "Bharti Airtel Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"LT.NS": {
		TradingSymbol: "LT",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE018A01030"),
		ISIN:          "INE018A01030",
		Name:          "Larsen & Toubro Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
	"WIPRO.NS": {
		TradingSymbol: "WIPRO",
		InstrumentKey: domain.InstrumentKey("NSE_EQ|INE075A01022"),
		ISIN:          "INE075A01022",
		Name:          "Wipro Ltd",
		Exchange:      "NSE",
		LotSize:       1,
	},
}
