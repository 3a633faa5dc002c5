package vision

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// numberPattern matches signed amounts as they appear in statement text,
// with or without thousands separators.
var numberPattern = regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?`)

// normalizeText folds a text block into a comparable form: NFKC so ligatures
// and full-width digits from PDF text layers compare equal, lowercased, with
// all whitespace runs collapsed to single spaces.
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// textSimilarity returns the Dice coefficient over token bigrams of the two
// texts, in [0, 1]. Token bigrams keep the score stable against line-wrap
// differences between the extracted text layer and the oracle's reading while
// still penalizing changed words.
func textSimilarity(a, b string) float64 {
	ta := strings.Fields(normalizeText(a))
	tb := strings.Fields(normalizeText(b))
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	ba := bigramCounts(ta)
	bb := bigramCounts(tb)

	overlap := 0
	totalA := 0
	for gram, ca := range ba {
		totalA += ca
		if cb, ok := bb[gram]; ok {
			if cb < ca {
				overlap += cb
			} else {
				overlap += ca
			}
		}
	}
	totalB := 0
	for _, cb := range bb {
		totalB += cb
	}

	return 2 * float64(overlap) / float64(totalA+totalB)
}

// bigramCounts builds a multiset of adjacent token pairs. A single-token text
// contributes the token itself so short headers still compare.
func bigramCounts(tokens []string) map[string]int {
	counts := make(map[string]int)
	if len(tokens) == 1 {
		counts[tokens[0]] = 1
		return counts
	}
	for i := 0; i+1 < len(tokens); i++ {
		counts[tokens[i]+" "+tokens[i+1]]++
	}
	return counts
}

// numericTokens extracts every number in the text in canonical decimal form,
// so "1,250.00" and "1250" compare equal.
func numericTokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range numberPattern.FindAllString(norm.NFKC.String(s), -1) {
		if canon, ok := canonicalNumber(tok); ok {
			out[canon] = struct{}{}
		}
	}
	return out
}

func canonicalNumber(tok string) (string, bool) {
	cleaned := strings.ReplaceAll(tok, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return "", false
	}
	// Amount signs differ between debit column layouts and the oracle's
	// signed reading, so magnitudes are compared.
	return d.Abs().String(), true
}

// numericMatchRatio reports what share of the numbers the oracle read off the
// page also occur in the extracted reference text. Returns 1 when the oracle
// reported no numbers, since there is nothing to contradict.
func numericMatchRatio(referenceText string, analysis *pageAnalysis) float64 {
	oracleNums := make(map[string]struct{})
	addNumber := func(n *string) {
		if n == nil {
			return
		}
		if canon, ok := canonicalNumber(*n); ok {
			oracleNums[canon] = struct{}{}
		}
	}

	if analysis.OpeningBalance != nil {
		s := analysis.OpeningBalance.String()
		addNumber(&s)
	}
	if analysis.ClosingBalance != nil {
		s := analysis.ClosingBalance.String()
		addNumber(&s)
	}
	for _, tx := range analysis.Transactions {
		s := tx.Amount.String()
		addNumber(&s)
	}

	if len(oracleNums) == 0 {
		return 1
	}

	refNums := numericTokens(referenceText)
	matched := 0
	for n := range oracleNums {
		if _, ok := refNums[n]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(oracleNums))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
