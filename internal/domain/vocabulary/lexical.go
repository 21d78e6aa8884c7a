package vocabulary

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// Terms at least this long contribute a truncated prefix instead of
	// themselves to candidate selection.
	lexicalLongTerm = 8
	// Length of the prefix added for long terms.
	lexicalPrefixLen = 6
	// Upper bound on terms in a plan. Each term costs one REPLACE in the
	// ranking SQL, so words past the cap are ignored.
	maxLexicalTerms = 32
)

// LexicalQuery is the term plan for lexical search. Terms are lowercase,
// unique, and ordered longest first (ties broken lexically) so that longer
// terms are stripped from names before shorter ones.
type LexicalQuery struct {
	Terms []string
}

// NewLexicalQuery splits q on whitespace and expands long terms with their
// truncated prefix. At most maxLexicalTerms terms are kept, in query order.
func NewLexicalQuery(q string) LexicalQuery {
	seen := make(map[string]struct{})
	var terms []string
	add := func(t string) {
		if _, ok := seen[t]; ok || len(terms) >= maxLexicalTerms {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	for _, f := range strings.Fields(strings.ToLower(q)) {
		add(f)
		if utf8.RuneCountInString(f) >= lexicalLongTerm {
			add(string([]rune(f)[:lexicalPrefixLen]))
		}
	}

	sort.SliceStable(terms, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(terms[i]), utf8.RuneCountInString(terms[j])
		if li != lj {
			return li > lj
		}
		return terms[i] < terms[j]
	})
	return LexicalQuery{Terms: terms}
}

// CandidateTerms returns the terms used for substring candidate selection.
// Long terms are excluded; only their truncated prefix takes part, so a long
// term that appears verbatim in a name can only match through its prefix.
func (q LexicalQuery) CandidateTerms() []string {
	var out []string
	for _, t := range q.Terms {
		if utf8.RuneCountInString(t) < lexicalLongTerm {
			out = append(out, t)
		}
	}
	return out
}

// matches reports whether name or any synonym contains a candidate term,
// ignoring case.
func (q LexicalQuery) matches(name string, synonyms ...string) bool {
	texts := append([]string{name}, synonyms...)
	for _, t := range q.CandidateTerms() {
		for _, s := range texts {
			if strings.Contains(strings.ToLower(s), t) {
				return true
			}
		}
	}
	return false
}

// score is 1 - R/L where L is the length of the lowercased name without
// whitespace and hyphens, and R is the same length after every term has been
// removed, longest first. Names that strip to nothing score 0.
func (q LexicalQuery) score(name string) float64 {
	lower := strings.ToLower(name)
	l := utf8.RuneCountInString(stripSeparators(lower))
	if l == 0 {
		return 0
	}
	rest := lower
	for _, t := range q.Terms {
		rest = strings.ReplaceAll(rest, t, "")
	}
	r := utf8.RuneCountInString(stripSeparators(rest))
	return 1 - float64(r)/float64(l)
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, s)
}

// likePattern wraps s for a substring ILIKE match, escaping wildcards.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
