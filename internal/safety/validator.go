package safety

import (
	"strings"
)

// Reason is the machine-readable cause of a rejection.
type Reason string

const (
	ReasonEmpty              Reason = "empty query"
	ReasonMalformed          Reason = "malformed query"
	ReasonNotRetrieval       Reason = "not a read-only query"
	ReasonDisallowedKeyword  Reason = "disallowed keyword"
	ReasonMultipleStatements Reason = "multiple statements"
	ReasonUnknownTable       Reason = "unknown table"
	ReasonSchemaUnavailable  Reason = "schema unavailable"
)

// TableSet answers whether a relation exists in the data source.
type TableSet interface {
	HasTable(name string) bool
}

// ValidatedQuery is a statement that passed the gate. Only the validator can
// build one, so holding a ValidatedQuery proves the text was checked.
type ValidatedQuery struct {
	sql string
}

// SQL returns the normalized statement text.
func (q ValidatedQuery) SQL() string {
	return q.sql
}

// IsZero reports whether q was never produced by a validator.
func (q ValidatedQuery) IsZero() bool {
	return q.sql == ""
}

func (q ValidatedQuery) String() string {
	return q.sql
}

// Verdict is the outcome of validating one candidate statement.
type Verdict struct {
	Accepted       bool
	Query          ValidatedQuery
	Reason         Reason
	OffendingToken string
	Tables         []string
}

// Error renders a rejection as text; it returns "" for accepted verdicts.
func (v Verdict) Error() string {
	if v.Accepted {
		return ""
	}
	if v.OffendingToken == "" {
		return string(v.Reason)
	}
	return string(v.Reason) + ": " + v.OffendingToken
}

func rejected(reason Reason, offending string) Verdict {
	return Verdict{Reason: reason, OffendingToken: offending}
}

// Validator is the query safety gate. It is immutable after construction and
// safe for concurrent use.
type Validator struct {
	classes map[string]Class
	policy  Policy
}

// NewValidator compiles policy. A policy with no retrieval keyword, nothing
// denied or a keyword in two classes is an error.
func NewValidator(policy Policy) (*Validator, error) {
	classes, err := policy.compile()
	if err != nil {
		return nil, err
	}
	return &Validator{classes: classes, policy: policy}, nil
}

// Policy returns the policy the validator was built from.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate decides whether candidate may run against tables. It never
// touches a database and never panics; anything it cannot classify is
// rejected.
func (v *Validator) Validate(candidate string, tables TableSet) Verdict {
	if strings.TrimSpace(candidate) == "" {
		return rejected(ReasonEmpty, "")
	}
	tokens, scanErr := scan(candidate)
	if scanErr != nil {
		return rejected(ReasonMalformed, scanErr.token)
	}

	significant := make([]token, 0, len(tokens))
	for i, tok := range tokens {
		switch tok.kind {
		case tokenComment, tokenString, tokenQuotedIdent:
			if word, denied := v.deniedWord(tok.body); denied {
				return rejected(ReasonDisallowedKeyword, word)
			}
			if strings.Contains(tok.body, ";") {
				return rejected(ReasonMultipleStatements, ";")
			}
		case tokenSemicolon:
			if !onlyCommentsAfter(tokens, i) {
				return rejected(ReasonMultipleStatements, ";")
			}
			continue
		case tokenWord:
			upper := tok.upper()
			if class, ok := v.classes[upper]; ok && class.Denies() {
				return rejected(ReasonDisallowedKeyword, upper)
			}
		}
		if tok.kind == tokenComment {
			continue
		}
		if len(significant) == 0 {
			if tok.kind != tokenWord || v.classes[tok.upper()] != ClassRetrieval {
				return rejected(ReasonNotRetrieval, leadingText(tok))
			}
		}
		significant = append(significant, tok)
	}
	if len(significant) == 0 {
		return rejected(ReasonEmpty, "")
	}

	refs := referencedTables(significant)
	if len(refs) > 0 {
		if isNilTableSet(tables) {
			return rejected(ReasonSchemaUnavailable, "")
		}
		for _, ref := range refs {
			if !tables.HasTable(ref) {
				verdict := rejected(ReasonUnknownTable, ref)
				verdict.Tables = refs
				return verdict
			}
		}
	}

	return Verdict{
		Accepted: true,
		Query:    ValidatedQuery{sql: render(significant)},
		Tables:   refs,
	}
}

func (v *Validator) deniedWord(text string) (string, bool) {
	for _, word := range wordsIn(text) {
		upper := strings.ToUpper(word)
		if class, ok := v.classes[upper]; ok && class.Denies() {
			return upper, true
		}
	}
	return "", false
}

// onlyCommentsAfter reports whether the semicolon at index i is trailing.
// Comments after it are still inspected by the main loop, so a chained
// statement hidden in one is caught there.
func onlyCommentsAfter(tokens []token, i int) bool {
	for _, tok := range tokens[i+1:] {
		if tok.kind != tokenComment {
			return false
		}
	}
	return true
}

func leadingText(tok token) string {
	if tok.kind == tokenWord {
		return tok.upper()
	}
	return tok.text
}

func isNilTableSet(tables TableSet) bool {
	if tables == nil {
		return true
	}
	if checker, ok := tables.(interface{ IsNil() bool }); ok {
		return checker.IsNil()
	}
	return false
}
