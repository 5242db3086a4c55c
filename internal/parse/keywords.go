package parse

import "strings"

// Uncategorized is the category guess when no keyword matches. A missing
// category is never a parse failure.
const Uncategorized = "Uncategorized"

type keywordRule struct {
	keyword  string
	category string
}

// categoryRules is an ordered table: the first keyword found in the message
// decides the category. Order is authoritative when several keywords appear.
var categoryRules = []keywordRule{
	{"lunch", "Food"},
	{"dinner", "Food"},
	{"breakfast", "Food"},
	{"groceries", "Food"},
	{"restaurant", "Food"},
	{"coffee", "Food"},
	{"pizza", "Food"},
	{"food", "Food"},
	{"gas", "Transport"},
	{"fuel", "Transport"},
	{"uber", "Transport"},
	{"taxi", "Transport"},
	{"bus", "Transport"},
	{"train", "Transport"},
	{"parking", "Transport"},
	{"transport", "Transport"},
	{"movie", "Entertainment"},
	{"cinema", "Entertainment"},
	{"concert", "Entertainment"},
	{"drinks", "Entertainment"},
	{"bar", "Entertainment"},
	{"entertainment", "Entertainment"},
	{"clothes", "Shopping"},
	{"shoes", "Shopping"},
	{"electronics", "Shopping"},
	{"shopping", "Shopping"},
	{"pharmacy", "Health"},
	{"doctor", "Health"},
	{"medicine", "Health"},
	{"gym", "Health"},
	{"rent", "Housing"},
	{"mortgage", "Housing"},
	{"electricity", "Housing"},
	{"internet", "Housing"},
	{"utilities", "Housing"},
	{"salary", "Salary"},
	{"paycheck", "Salary"},
	{"wage", "Salary"},
	{"freelance", "Freelance"},
	{"dividend", "Investments"},
	{"interest", "Investments"},
}

// MatchCategory returns the category for the first table keyword contained
// in the message, or Uncategorized.
func MatchCategory(message string) string {
	lower := strings.ToLower(message)
	for _, r := range categoryRules {
		if strings.Contains(lower, r.keyword) {
			return r.category
		}
	}
	return Uncategorized
}
