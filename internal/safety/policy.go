package safety

import (
	"fmt"
	"sort"
	"strings"
)

// Class tags what a keyword contributes to a verdict. Only ClassRetrieval
// allows a statement to start with the keyword; every other class denies the
// statement wherever the keyword appears.
type Class int

const (
	ClassRetrieval Class = iota + 1
	ClassMutation
	ClassSchemaDefinition
	ClassPrivilege
	ClassTransaction
	ClassSession
	ClassChaining
)

func (c Class) String() string {
	switch c {
	case ClassRetrieval:
		return "retrieval"
	case ClassMutation:
		return "mutation"
	case ClassSchemaDefinition:
		return "schema_definition"
	case ClassPrivilege:
		return "privilege"
	case ClassTransaction:
		return "transaction"
	case ClassSession:
		return "session"
	case ClassChaining:
		return "chaining"
	default:
		return "unknown"
	}
}

// Denies reports whether a keyword of this class rejects the statement.
func (c Class) Denies() bool {
	return c != ClassRetrieval
}

// Rule is one entry of the policy table.
type Rule struct {
	Keyword string
	Class   Class
}

// Policy is the keyword table evaluated by the scanner. Keywords are stored
// upper-case.
type Policy struct {
	Rules []Rule
}

// DefaultPolicy is the strict read-only policy: SELECT is the only statement
// that may run.
func DefaultPolicy() Policy {
	p := Policy{}
	p.add(ClassRetrieval, "SELECT")
	p.add(ClassMutation, "INSERT", "INTO", "UPDATE", "DELETE", "MERGE", "UPSERT", "TRUNCATE")
	p.add(ClassSchemaDefinition, "CREATE", "ALTER", "DROP", "RENAME")
	p.add(ClassPrivilege, "GRANT", "REVOKE")
	p.add(ClassTransaction, "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT")
	p.add(ClassSession, "ATTACH", "DETACH", "COPY", "EXPORT", "IMPORT", "INSTALL", "LOAD",
		"PRAGMA", "SET", "CALL", "EXEC", "EXECUTE", "VACUUM", "CHECKPOINT")
	p.add(ClassChaining, ";")
	return p
}

// WithDenied returns a copy of the policy with extra keywords classified as
// mutations. Blank entries are ignored.
func (p Policy) WithDenied(keywords ...string) Policy {
	out := Policy{Rules: append([]Rule(nil), p.Rules...)}
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		out.add(ClassMutation, keyword)
	}
	return out
}

func (p *Policy) add(class Class, keywords ...string) {
	for _, keyword := range keywords {
		p.Rules = append(p.Rules, Rule{Keyword: strings.ToUpper(strings.TrimSpace(keyword)), Class: class})
	}
}

// compile checks the policy and builds the lookup table. A policy that fails
// here must stop the process from starting.
func (p Policy) compile() (map[string]Class, error) {
	if len(p.Rules) == 0 {
		return nil, fmt.Errorf("safety policy has no rules")
	}
	table := make(map[string]Class, len(p.Rules))
	retrieval := 0
	denied := 0
	for _, rule := range p.Rules {
		keyword := strings.ToUpper(strings.TrimSpace(rule.Keyword))
		if keyword == "" {
			return nil, fmt.Errorf("safety policy has an empty keyword")
		}
		if rule.Class < ClassRetrieval || rule.Class > ClassChaining {
			return nil, fmt.Errorf("safety policy keyword %q has unknown class %d", keyword, rule.Class)
		}
		if existing, ok := table[keyword]; ok {
			if existing == rule.Class {
				continue
			}
			return nil, fmt.Errorf("safety policy keyword %q classified as both %s and %s", keyword, existing, rule.Class)
		}
		table[keyword] = rule.Class
		if rule.Class.Denies() {
			denied++
		} else {
			retrieval++
		}
	}
	if retrieval == 0 {
		return nil, fmt.Errorf("safety policy has no retrieval keyword")
	}
	if denied == 0 {
		return nil, fmt.Errorf("safety policy denies nothing")
	}
	if _, ok := table[";"]; !ok {
		return nil, fmt.Errorf("safety policy must classify statement chaining")
	}
	return table, nil
}

// DeniedKeywords lists the deny side of the table, sorted.
func (p Policy) DeniedKeywords() []string {
	out := make([]string, 0, len(p.Rules))
	seen := map[string]bool{}
	for _, rule := range p.Rules {
		keyword := strings.ToUpper(rule.Keyword)
		if !rule.Class.Denies() || seen[keyword] {
			continue
		}
		seen[keyword] = true
		out = append(out, keyword)
	}
	sort.Strings(out)
	return out
}
