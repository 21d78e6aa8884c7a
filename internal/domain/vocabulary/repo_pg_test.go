package vocabulary

import (
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildSearch_DefaultMode(t *testing.T) {
	q := buildSearch(SearchCriteria{
		Query:         "aspirin",
		DomainIDs:     []string{"Drug"},
		VocabularyIDs: []string{"RxNorm", "RxNorm Extension"},
	})
	sql := q.DataSQL(100, 0)

	if !strings.Contains(sql, "(c.concept_name ILIKE $1 OR c.concept_code ILIKE $1)") {
		t.Errorf("expected name/code match, got %s", sql)
	}
	if !strings.Contains(sql, "c.domain_id = ANY($2)") || !strings.Contains(sql, "c.vocabulary_id = ANY($3)") {
		t.Errorf("expected IN filters, got %s", sql)
	}
	if strings.Contains(sql, "ORDER BY") {
		t.Errorf("default mode must not rank, got %s", sql)
	}
	if !strings.HasSuffix(sql, "LIMIT $4 OFFSET $5") {
		t.Errorf("unexpected pagination, got %s", sql)
	}

	want := []interface{}{"%aspirin%", []string{"Drug"}, []string{"RxNorm", "RxNorm Extension"}, 100, 0}
	if got := q.DataArgs(100, 0); !reflect.DeepEqual(got, want) {
		t.Errorf("args = %#v, want %#v", got, want)
	}
}

func TestBuildSearch_NullSentinels(t *testing.T) {
	q := buildSearch(SearchCriteria{StandardConcept: NonStandard, InvalidReason: ValidOnly})
	sql := q.DataSQL(10, 0)
	if !strings.Contains(sql, "c.standard_concept IS NULL") {
		t.Errorf("expected standard_concept IS NULL, got %s", sql)
	}
	if !strings.Contains(sql, "c.invalid_reason IS NULL") {
		t.Errorf("expected invalid_reason IS NULL, got %s", sql)
	}
	if got := len(q.DataArgs(10, 0)); got != 2 {
		t.Errorf("expected only limit and offset args, got %d", got)
	}
}

func TestBuildSearch_LiteralCodes(t *testing.T) {
	q := buildSearch(SearchCriteria{StandardConcept: "S", InvalidReason: "D"})
	sql := q.DataSQL(10, 0)
	if !strings.Contains(sql, "c.standard_concept = $1") || !strings.Contains(sql, "c.invalid_reason = $2") {
		t.Errorf("expected exact matches, got %s", sql)
	}
	want := []interface{}{"S", "D", 10, 0}
	if got := q.DataArgs(10, 0); !reflect.DeepEqual(got, want) {
		t.Errorf("args = %#v, want %#v", got, want)
	}
}

func TestBuildSearch_WhitespaceQueryIgnored(t *testing.T) {
	q := buildSearch(SearchCriteria{Query: "   "})
	if strings.Contains(q.DataSQL(1, 0), "ILIKE") {
		t.Error("expected blank query to add no text filter")
	}
}

func TestBuildSearch_Lexical(t *testing.T) {
	q := buildSearch(SearchCriteria{Query: "Test Concept", Lexical: true, DomainIDs: []string{"Condition"}})
	sql := q.DataSQL(20, 40)

	if !strings.Contains(sql, "c.concept_name ILIKE ANY($1)") || !strings.Contains(sql, "s.concept_synonym_name ILIKE ANY($1)") {
		t.Errorf("expected name and synonym candidate filter, got %s", sql)
	}
	if !strings.Contains(sql, "REPLACE(REPLACE(LOWER(c.concept_name), $2::text, ''), $3::text, '')") {
		t.Errorf("expected longest-first REPLACE chain, got %s", sql)
	}
	if !strings.Contains(sql, "END) DESC, c.concept_id") {
		t.Errorf("expected score ordering, got %s", sql)
	}
	if !strings.Contains(sql, "c.domain_id = ANY($4)") {
		t.Errorf("expected filters after score args, got %s", sql)
	}

	want := []interface{}{
		[]string{"%concept%", "%test%"}, "concept", "test", []string{"Condition"}, 20, 40,
	}
	if got := q.DataArgs(20, 40); !reflect.DeepEqual(got, want) {
		t.Errorf("args = %#v, want %#v", got, want)
	}
}

func TestBuildSearch_LexicalWithoutQueryFallsBack(t *testing.T) {
	q := buildSearch(SearchCriteria{Lexical: true})
	if strings.Contains(q.DataSQL(1, 0), "concept_synonym") {
		t.Error("expected lexical mode to require a query")
	}
}

func TestBuildSearch_LexicalTermCountBounded(t *testing.T) {
	words := make([]string, 500)
	for i := range words {
		words[i] = "term" + strconv.Itoa(i)
	}
	q := buildSearch(SearchCriteria{Query: strings.Join(words, " "), Lexical: true})
	if got := strings.Count(q.DataSQL(1, 0), "::text"); got != maxLexicalTerms {
		t.Errorf("expected %d REPLACE calls, got %d", maxLexicalTerms, got)
	}
}

// evalLexicalScoreSQL evaluates the ranking expression emitted by
// lexicalScoreSQL for one concept name, following the REPLACE chain in the
// order the SQL applies it.
func evalLexicalScoreSQL(t *testing.T, sql string, args []interface{}, name string) float64 {
	t.Helper()
	sep := regexp.MustCompile(`[[:space:]-]`)

	rest := strings.ToLower(name)
	for _, m := range regexp.MustCompile(`\$(\d+)::text`).FindAllStringSubmatch(sql, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			t.Fatal(err)
		}
		term, ok := args[n-1].(string)
		if !ok {
			t.Fatalf("arg $%d is %T, want string", n, args[n-1])
		}
		rest = strings.ReplaceAll(rest, term, "")
	}

	full := utf8.RuneCountInString(sep.ReplaceAllString(strings.ToLower(name), ""))
	if full == 0 {
		return 0
	}
	remainder := utf8.RuneCountInString(sep.ReplaceAllString(rest, ""))
	return 1 - float64(remainder)/float64(full)
}

func TestLexicalScoreSQL_AgreesWithScore(t *testing.T) {
	const shape = "(CASE WHEN LENGTH(REGEXP_REPLACE(LOWER(c.concept_name), '[[:space:]-]', '', 'g')) = 0 THEN 0 " +
		"ELSE 1 - LENGTH(REGEXP_REPLACE(REPLACE("

	queries := []string{"Test Concept", "hypertension", "essential hypertension", "covid 19", "a ab abc"}
	names := []string{
		"Test Concept", "Test Concept Extended", "Hypertension", "Hypertonic saline",
		"Essential hypertension", "COVID-19", "abcab", " - ",
	}

	for _, query := range queries {
		plan := NewLexicalQuery(query)
		q := buildSearch(SearchCriteria{Query: query, Lexical: true})
		sql := q.DataSQL(1, 0)
		args := q.DataArgs(1, 0)

		if !strings.Contains(sql, shape) {
			t.Fatalf("%q: unexpected score expression: %s", query, sql)
		}
		if got := strings.Count(sql, "::text"); got != len(plan.Terms) {
			t.Fatalf("%q: expected one REPLACE per term (%d), got %d", query, len(plan.Terms), got)
		}

		for _, name := range names {
			want := plan.score(name)
			got := evalLexicalScoreSQL(t, sql, args, name)
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("query %q, name %q: sql score %v, score %v", query, name, got, want)
			}
		}
	}
}
