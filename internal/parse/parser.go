// Package parse turns free-form chat text into an unvalidated transaction
// draft. The caller owns validation: the draft's accounts and categories are
// guesses against the supplied context, not checked references.
package parse

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"tally/internal/core"
)

var (
	// ErrNoAmountFound means no numeric amount could be extracted. Fatal to
	// the parse; no partial draft is returned.
	ErrNoAmountFound = errors.New("no amount found in message")
	// ErrAmbiguousAccounts means a transfer could not be bound to two
	// distinct known accounts.
	ErrAmbiguousAccounts = errors.New("cannot resolve two distinct transfer accounts")
)

// Context supplies everything the parser needs besides the text itself.
// Now is the clock for "today"; tests inject a fixed one.
type Context struct {
	UserID         int64
	DefaultAccount string
	Accounts       []string
	Now            func() time.Time
}

// ParsedTransaction is a draft: not yet persisted, not yet validated.
// Account fields hold names from Context.Accounts, not IDs.
type ParsedTransaction struct {
	Kind        core.MovementKind
	Amount      core.Money
	Currency    string
	Description string
	Category    string
	Account     string
	FromAccount string
	ToAccount   string
	Date        core.Date
}

// Amount patterns in priority order: currency symbol prefix, written amount
// word, currency code suffix. The first that matches wins.
var (
	reSymbolAmount = regexp.MustCompile(`([$€£])\s?(\d+(?:[.,]\d{1,2})?)`)
	reWordAmount   = regexp.MustCompile(`(?i)\b(\d+(?:[.,]\d{1,2})?)\s*(dollars?|bucks?|euros?|pounds?)\b`)
	reCodeAmount   = regexp.MustCompile(`(?i)\b(\d+(?:[.,]\d{1,2})?)\s*(usd|eur|gbp)\b`)

	reFromTo = regexp.MustCompile(`(?i)\bfrom\s+(.+?)\s+to\s+(.+)$`)
)

const defaultCurrency = "USD"

var symbolCurrencies = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
}

// Parse extracts a transaction draft from text. Failures never yield a
// partial draft.
func Parse(text string, pctx Context) (ParsedTransaction, error) {
	if pctx.Now == nil {
		pctx.Now = time.Now
	}
	trimmed := strings.TrimSpace(text)

	cents, currency, amountText, err := extractAmount(trimmed)
	if err != nil {
		return ParsedTransaction{}, err
	}

	lower := strings.ToLower(trimmed)
	pt := ParsedTransaction{
		Kind:     detectKind(lower),
		Amount:   core.Money{Cents: cents},
		Currency: currency,
		Date:     extractDate(lower, pctx.Now()),
	}

	var matchedAccount string
	switch pt.Kind {
	case core.KindTransfer:
		from, to, err := resolveTransferAccounts(lower, pctx.Accounts)
		if err != nil {
			return ParsedTransaction{}, err
		}
		pt.FromAccount, pt.ToAccount = from, to
	default:
		pt.Category = MatchCategory(lower)
		if acc := findAccount(lower, pctx.Accounts); acc != "" {
			pt.Account = acc
			matchedAccount = acc
		} else {
			pt.Account = pctx.DefaultAccount
		}
	}

	pt.Description = buildDescription(trimmed, amountText, matchedAccount, pt.Kind)
	return pt, nil
}

// extractAmount returns cents, the currency, and the exact matched text so
// the description pass can strip it.
func extractAmount(text string) (int64, string, string, error) {
	if m := reSymbolAmount.FindStringSubmatch(text); m != nil {
		cents, err := core.ParseDecimalToCents(m[2])
		if err == nil {
			return cents, symbolCurrencies[m[1]], m[0], nil
		}
	}
	if m := reWordAmount.FindStringSubmatch(text); m != nil {
		cents, err := core.ParseDecimalToCents(m[1])
		if err == nil {
			return cents, wordCurrency(m[2]), m[0], nil
		}
	}
	if m := reCodeAmount.FindStringSubmatch(text); m != nil {
		cents, err := core.ParseDecimalToCents(m[1])
		if err == nil {
			return cents, strings.ToUpper(m[2]), m[0], nil
		}
	}
	return 0, "", "", ErrNoAmountFound
}

func wordCurrency(word string) string {
	switch {
	case strings.HasPrefix(strings.ToLower(word), "euro"):
		return "EUR"
	case strings.HasPrefix(strings.ToLower(word), "pound"):
		return "GBP"
	default: // dollars, bucks
		return defaultCurrency
	}
}

// detectKind: an explicit leading keyword is authoritative, a from/to
// pattern implies transfer, anything else is an expense.
func detectKind(lower string) core.MovementKind {
	fields := strings.Fields(lower)
	if len(fields) > 0 {
		switch fields[0] {
		case "expense":
			return core.KindExpense
		case "income":
			return core.KindIncome
		case "transfer":
			return core.KindTransfer
		}
	}
	if reFromTo.MatchString(lower) {
		return core.KindTransfer
	}
	return core.KindExpense
}

func extractDate(lower string, now time.Time) core.Date {
	if strings.Contains(lower, "yesterday") {
		return core.DateOf(now.AddDate(0, 0, -1))
	}
	return core.DateOf(now)
}

// findAccount returns the first known account whose name appears in the
// text, case-insensitively. Empty means no match.
func findAccount(lower string, accounts []string) string {
	for _, a := range accounts {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return a
		}
	}
	return ""
}

func resolveTransferAccounts(lower string, accounts []string) (string, string, error) {
	m := reFromTo.FindStringSubmatch(lower)
	if m == nil {
		return "", "", ErrAmbiguousAccounts
	}
	from := findAccount(m[1], accounts)
	to := findAccount(m[2], accounts)
	if from == "" || to == "" || strings.EqualFold(from, to) {
		return "", "", ErrAmbiguousAccounts
	}
	return from, to, nil
}

// Leading command or type words carry no meaning once the kind is known.
var leadingWords = map[string]bool{
	"add": true, "record": true, "log": true, "new": true,
	"spent": true, "paid": true,
	"expense": true, "income": true, "transfer": true,
}

// buildDescription is the residue pass: the original text minus the matched
// amount, transfer clause, matched account name, date token and leading
// fillers. The default-account fallback is not a match and is never removed.
func buildDescription(text, amountText, matchedAccount string, kind core.MovementKind) string {
	desc := replaceOnce(text, amountText)
	if kind == core.KindTransfer {
		if loc := reFromTo.FindStringIndex(desc); loc != nil {
			desc = desc[:loc[0]] + desc[loc[1]:]
		}
	} else if matchedAccount != "" {
		desc = removeFold(desc, matchedAccount)
	}
	desc = removeFold(desc, "yesterday")

	fields := strings.Fields(desc)
	for len(fields) > 0 && leadingWords[strings.ToLower(fields[0])] {
		fields = fields[1:]
	}
	if len(fields) > 0 && strings.EqualFold(fields[0], "for") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func replaceOnce(s, sub string) string {
	if sub == "" {
		return s
	}
	return strings.Replace(s, sub, "", 1)
}

// removeFold removes the first case-insensitive occurrence of sub from s.
func removeFold(s, sub string) string {
	if sub == "" {
		return s
	}
	idx := strings.Index(strings.ToLower(s), strings.ToLower(sub))
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(sub):]
}
