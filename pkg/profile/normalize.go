package profile

import (
	"strings"
	"unicode"
)

// CaseRule is the casing applied to a column on write.
type CaseRule int

const (
	CaseKeep CaseRule = iota
	CaseUpper
	CaseLower
	CaseTitle
)

// Rule describes the outgoing normalization of a column.
type Rule struct {
	Case CaseRule
	// Digits keeps only the digits of the value ("1,204 posts" → "1204")
	Digits bool
	// MultiLine splits on | ; or newlines and joins the parts with "\n"
	MultiLine bool
}

var rules = map[Field]Rule{
	FieldCity:      {Case: CaseTitle},
	FieldGender:    {Case: CaseUpper},
	FieldMarried:   {Case: CaseUpper},
	FieldStatus:    {Case: CaseTitle},
	FieldAge:       {Digits: true},
	FieldFollowers: {Digits: true},
	FieldPosts:     {Digits: true},
	FieldSource:    {Case: CaseUpper},
	FieldFriends:   {MultiLine: true},
	FieldTags:      {MultiLine: true},
	FieldEligible:  {Case: CaseTitle},
}

// RuleFor returns the normalization rule of f.
func RuleFor(f Field) Rule {
	return rules[f]
}

// Outgoing returns the cell vector to write: trimmed, with each column's
// rule applied.
func Outgoing(r Record) []string {
	out := make([]string, NumFields)
	for i, v := range r.values {
		out[i] = NormalizeValue(Field(i), v)
	}
	return out
}

// NormalizeValue applies the rule of f to a single value.
func NormalizeValue(f Field, v string) string {
	rule := rules[f]
	if rule.MultiLine {
		return joinLines(v)
	}
	v = strings.Join(strings.Fields(v), " ")
	if rule.Digits {
		v = digitsOnly(v)
	}
	switch rule.Case {
	case CaseUpper:
		v = strings.ToUpper(v)
	case CaseLower:
		v = strings.ToLower(v)
	case CaseTitle:
		v = titleCase(v)
	}
	return v
}

func digitsOnly(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func titleCase(v string) string {
	words := strings.Fields(strings.ToLower(v))
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

func joinLines(v string) string {
	parts := strings.FieldsFunc(v, func(r rune) bool {
		return r == '|' || r == ';' || r == '\n' || r == '\r'
	})
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
