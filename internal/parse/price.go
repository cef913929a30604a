package parse

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is a decimal amount with an optional ISO-4217 currency code extracted
// from one raw price cell.
type Price struct {
	Amount       decimal.Decimal
	CurrencyCode string
	Raw          string
}

// PriceColumnKind classifies a price column from its header text.
type PriceColumnKind string

const (
	PriceColumnRetail    PriceColumnKind = "retail"
	PriceColumnWholesale PriceColumnKind = "wholesale"
	PriceColumnUnknown   PriceColumnKind = "unknown"
)

// currencyIndicators maps symbols and their textual equivalents (English and
// Russian) to ISO-4217 codes. Longer indicators are matched first. This is
// the closed currency set the pipeline emits.
var currencyIndicators = []struct {
	indicator string
	code      string
}{
	{"бел.руб", "BYN"},
	{"тенге", "KZT"},
	{"евро", "EUR"},
	{"долл", "USD"},
	{"грн", "UAH"},
	{"руб", "RUB"},
	{"rub", "RUB"},
	{"usd", "USD"},
	{"eur", "EUR"},
	{"uah", "UAH"},
	{"kzt", "KZT"},
	{"byn", "BYN"},
	{"gbp", "GBP"},
	{"тг", "KZT"},
	{"р.", "RUB"},
	{"₽", "RUB"},
	{"$", "USD"},
	{"€", "EUR"},
	{"₴", "UAH"},
	{"₸", "KZT"},
	{"£", "GBP"},
	{"Br", "BYN"},
}

// numericTokenPattern matches a digit run possibly broken by spaces, commas,
// and dots (thousands/decimal separators, either locale convention).
var numericTokenPattern = regexp.MustCompile(`[0-9](?:[0-9 \x{00A0}.,]*[0-9])?`)

// ExtractPrice pulls a decimal amount and a currency code out of a raw price
// cell. Currency is recognized as a prefix or suffix adjacent to the numeric
// token; when none is found, defaultCurrency (possibly empty) applies.
// Returns nil when the cell holds no numeric token.
func ExtractPrice(raw, defaultCurrency string) *Price {
	loc := numericTokenPattern.FindStringIndex(raw)
	if loc == nil {
		return nil
	}
	token := raw[loc[0]:loc[1]]

	amount, ok := normalizeAmount(token)
	if !ok {
		return nil
	}

	currency := matchCurrency(strings.TrimSpace(raw[:loc[0]]), true)
	if currency == "" {
		currency = matchCurrency(strings.TrimSpace(raw[loc[1]:]), false)
	}
	if currency == "" {
		currency = strings.ToUpper(defaultCurrency)
	}

	return &Price{Amount: amount, CurrencyCode: currency, Raw: raw}
}

// normalizeAmount converts a localized numeric token to a decimal. Internal
// spaces are group separators. The rightmost of '.' and ',' acts as the
// decimal separator; every other occurrence of either is a thousands
// separator.
func normalizeAmount(token string) (decimal.Decimal, bool) {
	cleaned := strings.NewReplacer(" ", "", " ", "").Replace(token)

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	// The rightmost separator is the decimal point; all earlier separators
	// of either kind are group separators.
	sepPos := -1
	if lastComma > lastDot {
		sepPos = lastComma
	} else if lastDot > lastComma {
		sepPos = lastDot
	}

	var b strings.Builder
	for i := 0; i < len(cleaned); i++ {
		c := cleaned[i]
		switch c {
		case ',', '.':
			if i == sepPos {
				b.WriteByte('.')
			}
		default:
			b.WriteByte(c)
		}
	}

	amount, err := decimal.NewFromString(b.String())
	if err != nil || amount.IsNegative() {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// matchCurrency looks for a currency indicator at the boundary adjacent to
// the numeric token: the end of the text before it (prefix position) or the
// start of the text after it (suffix position).
func matchCurrency(adjacent string, prefix bool) string {
	if adjacent == "" {
		return ""
	}
	lower := strings.ToLower(adjacent)
	for _, entry := range currencyIndicators {
		ind := strings.ToLower(entry.indicator)
		if prefix {
			if strings.HasSuffix(lower, ind) {
				return entry.code
			}
		} else {
			if strings.HasPrefix(lower, ind) {
				return entry.code
			}
		}
	}
	return ""
}

// wholesaleKeywords are checked before retail ones: they are the more
// specific set and headers like "опт. цена" contain both kinds of hints.
var wholesaleKeywords = []string{"wholesale", "trade", "bulk", "b2b", "опт", "закуп"}

var retailKeywords = []string{"retail", "rrp", "msrp", "розн", "рекоменд"}

// ClassifyPriceColumn decides whether a price column header denotes a retail
// or wholesale price.
func ClassifyPriceColumn(header string) PriceColumnKind {
	lower := strings.ToLower(header)
	for _, kw := range wholesaleKeywords {
		if strings.Contains(lower, kw) {
			return PriceColumnWholesale
		}
	}
	for _, kw := range retailKeywords {
		if strings.Contains(lower, kw) {
			return PriceColumnRetail
		}
	}
	return PriceColumnUnknown
}

// priceHeaderKeywords mark a header as price-bearing regardless of the
// retail/wholesale distinction.
var priceHeaderKeywords = []string{"price", "cost", "цена", "стоимость"}

// IsPriceHeader reports whether header text names a price column of any kind.
func IsPriceHeader(header string) bool {
	lower := strings.ToLower(header)
	for _, kw := range priceHeaderKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return ClassifyPriceColumn(header) != PriceColumnUnknown
}
