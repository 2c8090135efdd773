package search

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// fieldKind says how values of an indexed field are matched.
type fieldKind int

const (
	textField fieldKind = iota
	keywordField
	dateField
)

// indexedFields are the fields a query may qualify a term with.
var indexedFields = map[string]fieldKind{
	"type":                     keywordField,
	"entity_id":                keywordField,
	"name":                     textField,
	"description":              textField,
	"organism":                 textField,
	"strain":                   textField,
	"collected_by":             textField,
	"geographic_location_name": textField,
	"isolation_source":         textField,
	"created_date":             dateField,
	"collection_date":          dateField,
}

// QueryParser turns the search box syntax into bleve queries.
//
//	salmonella enterica          both terms
//	org:listeria OR org:salmonella
//	location:canada NOT source:chicken   (or -source:chicken)
//	"ground beef"                phrase
//	sample-ecoli-*               wildcard
//	collected:[2024-01-01 TO 2024-06-30]
type QueryParser struct {
	aliases map[string]string
}

// NewQueryParser returns a parser with the short field names users type.
func NewQueryParser() *QueryParser {
	return &QueryParser{
		aliases: map[string]string{
			"org":       "organism",
			"title":     "name",
			"sample":    "name",
			"desc":      "description",
			"location":  "geographic_location_name",
			"geo":       "geographic_location_name",
			"source":    "isolation_source",
			"collector": "collected_by",
			"collected": "collection_date",
			"created":   "created_date",
			"kind":      "type",
			"id":        "entity_id",
		},
	}
}

// field resolves an alias. ok is false for names that are not indexed, so
// that values like "O157:H7" are searched as plain text.
func (p *QueryParser) field(name string) (string, bool) {
	name = strings.ToLower(name)
	if alias, found := p.aliases[name]; found {
		name = alias
	}
	_, ok := indexedFields[name]
	return name, ok
}

type clause struct {
	negate bool
	q      query.Query
}

// ParseAdvancedQuery parses queryStr. Terms are ANDed; OR separates
// alternatives and binds loosest; NOT or a leading '-' excludes a term.
// An empty query matches everything.
func (p *QueryParser) ParseAdvancedQuery(queryStr string) (query.Query, error) {
	var (
		groups  [][]clause
		current []clause
		negate  bool
	)
	for _, tok := range tokenize(queryStr) {
		switch tok {
		case "OR":
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
			}
			continue
		case "AND":
			continue
		case "NOT":
			negate = true
			continue
		}
		if len(tok) > 1 && tok[0] == '-' {
			negate, tok = true, tok[1:]
		}

		q, err := p.termQuery(tok)
		if err != nil {
			return nil, err
		}
		current = append(current, clause{negate: negate, q: q})
		negate = false
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	switch len(groups) {
	case 0:
		return bleve.NewMatchAllQuery(), nil
	case 1:
		return conjunction(groups[0]), nil
	}
	alternatives := make([]query.Query, 0, len(groups))
	for _, g := range groups {
		alternatives = append(alternatives, conjunction(g))
	}
	return bleve.NewDisjunctionQuery(alternatives...), nil
}

// ParseFilters converts field filters into field queries. Unknown fields
// are ignored.
func (p *QueryParser) ParseFilters(filters map[string]string) []query.Query {
	var queries []query.Query
	for name, value := range filters {
		if value == "" {
			continue
		}
		field, ok := p.field(name)
		if !ok {
			continue
		}
		queries = append(queries, fieldQuery(field, value))
	}
	return queries
}

func (p *QueryParser) termQuery(tok string) (query.Query, error) {
	if name, value, found := strings.Cut(tok, ":"); found && !strings.HasPrefix(tok, `"`) {
		if field, ok := p.field(name); ok {
			if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
				return rangeQuery(field, value)
			}
			return fieldQuery(field, value), nil
		}
	}
	return fieldQuery("", tok), nil
}

// fieldQuery matches value in field, or in every text field when field is
// empty.
func fieldQuery(field, value string) query.Query {
	if strings.HasPrefix(value, `"`) {
		phrase := bleve.NewMatchPhraseQuery(strings.Trim(value, `"`))
		if field != "" {
			phrase.SetField(field)
		}
		return phrase
	}

	if strings.ContainsAny(value, "*?") {
		wildcard := bleve.NewWildcardQuery(strings.ToLower(value))
		if field != "" {
			wildcard.SetField(field)
		}
		return wildcard
	}

	if indexedFields[field] == keywordField {
		term := bleve.NewTermQuery(value)
		term.SetField(field)
		return term
	}

	match := bleve.NewMatchQuery(value)
	if field != "" {
		match.SetField(field)
	}
	return match
}

// rangeQuery parses "[from TO to]". Either bound may be '*'.
func rangeQuery(field, value string) (query.Query, error) {
	from, to, ok := strings.Cut(strings.Trim(value, "[]"), " TO ")
	if !ok {
		return nil, fmt.Errorf("invalid range %q: expected [from TO to]", value)
	}
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)

	if indexedFields[field] != dateField {
		q := bleve.NewTermRangeQuery(bound(from), bound(to))
		q.SetField(field)
		return q, nil
	}

	var start, end time.Time
	var err error
	if from != "*" {
		if start, err = parseDate(from); err != nil {
			return nil, fmt.Errorf("invalid range start %q: %w", from, err)
		}
	}
	if to != "*" {
		if end, err = parseDate(to); err != nil {
			return nil, fmt.Errorf("invalid range end %q: %w", to, err)
		}
	}
	q := bleve.NewDateRangeQuery(start, end)
	q.SetField(field)
	return q, nil
}

func bound(s string) string {
	if s == "*" {
		return ""
	}
	return s
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// conjunction requires the plain clauses and excludes the negated ones.
func conjunction(clauses []clause) query.Query {
	if len(clauses) == 1 && !clauses[0].negate {
		return clauses[0].q
	}

	b := bleve.NewBooleanQuery()
	must := 0
	for _, c := range clauses {
		if c.negate {
			b.AddMustNot(c.q)
			continue
		}
		b.AddMust(c.q)
		must++
	}
	// A query of exclusions alone matches nothing in bleve.
	if must == 0 {
		b.AddMust(bleve.NewMatchAllQuery())
	}
	return b
}

// tokenize splits on whitespace outside quotes and range brackets.
func tokenize(s string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		inRange bool
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"' && !inRange:
			inQuote = !inQuote
		case r == '[' && !inQuote:
			inRange = true
		case r == ']' && !inQuote:
			inRange = false
		case unicode.IsSpace(r) && !inQuote && !inRange:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return tokens
}
