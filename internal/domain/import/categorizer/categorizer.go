// Package categorizer assigns spending categories and canonical merchant names
// to bank statement descriptions.
package categorizer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// CategoryOther is returned when no keyword matches.
const CategoryOther = "other"

type rule struct {
	category string
	keywords []string
}

// rules are evaluated in order; the first category with a matching keyword wins.
var rules = []rule{
	{"food", []string{
		"restaurant", "cafe", "food", "grocery", "market", "dining", "starbucks",
		"mcdonald", "pizza", "burger", "subway", "kfc", "wendy", "taco", "chipotle",
		"domino", "papa john", "pizza hut", "dunkin", "coffee", "bakery", "deli",
	}},
	{"gas", []string{
		"gas", "fuel", "shell", "exxon", "chevron", "bp", "mobil", "sunoco",
		"marathon", "speedway", "circle k", "7-eleven", "gas station", "fuel station",
	}},
	{"shopping", []string{
		"amazon", "walmart", "target", "store", "shop", "retail", "purchase",
		"best buy", "home depot", "lowes", "costco", "sam club", "ikea", "macy",
		"nordstrom", "kohl", "ross", "marshalls", "tj maxx", "online", "ecommerce",
	}},
	{"travel", []string{
		"hotel", "airline", "flight", "uber", "lyft", "taxi", "parking", "toll",
		"marriott", "hilton", "hyatt", "airbnb", "expedia", "booking", "orbitz",
		"southwest", "delta", "american airline", "united", "airport", "car rental",
	}},
	{"entertainment", []string{
		"movie", "theater", "netflix", "spotify", "game", "entertainment",
		"hulu", "disney", "hbo", "youtube", "apple tv", "amazon prime", "xbox",
		"playstation", "nintendo", "concert", "show", "ticket", "event",
	}},
	{"healthcare", []string{
		"pharmacy", "doctor", "medical", "hospital", "health", "cvs", "walgreens",
		"rite aid", "kroger pharmacy", "walmart pharmacy", "clinic", "dental",
		"vision", "optical", "prescription", "medicine", "healthcare",
	}},
	{"utilities", []string{
		"electric", "water", "gas bill", "internet", "phone", "utility",
		"power", "electricity", "water bill", "gas company", "internet service",
		"cable", "satellite", "at&t", "verizon", "comcast", "spectrum",
	}},
	{"transportation", []string{
		"uber", "lyft", "taxi", "parking", "toll", "bus", "train", "subway",
		"metro", "transit", "transportation", "car", "auto", "vehicle",
	}},
	{"insurance", []string{
		"insurance", "geico", "state farm", "allstate", "progressive", "farmers",
		"liberty mutual", "nationwide", "auto insurance", "home insurance",
		"health insurance", "life insurance",
	}},
	{"banking", []string{
		"bank", "atm", "check", "deposit", "withdrawal", "transfer",
		"chase", "bank of america", "wells fargo", "citibank", "us bank",
	}},
}

var merchantPrefixes = []string{
	"POS ", "VISA ", "MC ", "DEBIT ", "CREDIT ", "ATM ", "CHECK ",
	"PURCHASE ", "PAYMENT ", "TRANSACTION ", "CARD ", "ONLINE ",
}

var merchantSuffixes = []string{
	" INC", " LLC", " CORP", " CORPORATION", " COMPANY", " CO",
	" STORE", " SHOP", " MARKET", " SUPERMARKET", " GROCERY",
}

var (
	plainName     = regexp.MustCompile(`^[\p{L}\p{N}_\s\-.&]*$`)
	stateCode     = regexp.MustCompile(`\s+[A-Z]{2}\s*\d*$`)
	trailingDigit = regexp.MustCompile(`\s+\d{4,}$`)
	trailingRef   = regexp.MustCompile(`\s+#\d+$`)
)

const (
	maxPlainNameLen = 100
	maxMerchantLen  = 255
)

// Categorize returns the first category whose keyword occurs in description.
func Categorize(description string) string {
	if description == "" {
		return CategoryOther
	}
	desc := strings.ToLower(description)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(desc, kw) {
				return r.category
			}
		}
	}
	return CategoryOther
}

// ExtractMerchant derives an upper-cased merchant name from a description.
func ExtractMerchant(description string) string {
	if description == "" {
		return ""
	}

	name := description
	firstLine := strings.TrimSpace(strings.SplitN(description, "\n", 2)[0])
	if utf8.RuneCountInString(firstLine) <= maxPlainNameLen && plainName.MatchString(firstLine) {
		name = firstLine
	}

	cleaned := strings.ToUpper(name)
	for _, prefix := range merchantPrefixes {
		if strings.HasPrefix(cleaned, prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
		}
	}

	cleaned = StripTrailingCodes(cleaned)

	for _, suffix := range merchantSuffixes {
		if strings.HasSuffix(cleaned, suffix) {
			cleaned = strings.TrimSpace(cleaned[:len(cleaned)-len(suffix)])
		}
	}

	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > maxMerchantLen {
		cleaned = string([]rune(cleaned)[:maxMerchantLen])
	}
	return cleaned
}

// StripTrailingCodes removes a trailing state code, long digit run and '#' reference,
// in that order, from an upper-cased description.
func StripTrailingCodes(s string) string {
	s = stateCode.ReplaceAllString(s, "")
	s = trailingDigit.ReplaceAllString(s, "")
	return trailingRef.ReplaceAllString(s, "")
}
