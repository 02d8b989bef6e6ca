package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tableSet map[string]bool

func (s tableSet) HasTable(name string) bool {
	return s[strings.ToLower(name)]
}

func shopTables() tableSet {
	return tableSet{"customers": true, "orders": true, "products": true, "sales": true}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(DefaultPolicy())
	require.NoError(t, err)
	return v
}

func TestValidateAcceptsReadOnlyQueries(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name   string
		sql    string
		want   string
		tables []string
	}{
		{
			name:   "simple",
			sql:    "SELECT * FROM customers",
			want:   "SELECT * FROM customers",
			tables: []string{"customers"},
		},
		{
			name:   "lowercase with trailing semicolon",
			sql:    "select name from customers;",
			want:   "select name from customers",
			tables: []string{"customers"},
		},
		{
			name:   "comments and newlines removed",
			sql:    "SELECT region,\n  COUNT(*) -- per region\nFROM customers /* all */ GROUP BY region",
			want:   "SELECT region, COUNT(*) FROM customers GROUP BY region",
			tables: []string{"customers"},
		},
		{
			name:   "joins and comma lists",
			sql:    "SELECT c.name, o.total_amount FROM customers c JOIN orders o ON o.customer_id = c.customer_id, products p",
			want:   "SELECT c.name, o.total_amount FROM customers c JOIN orders o ON o.customer_id = c.customer_id, products p",
			tables: []string{"customers", "orders", "products"},
		},
		{
			name:   "subquery in where",
			sql:    "SELECT name FROM products WHERE product_id IN (SELECT product_id FROM sales WHERE quantity > 2)",
			want:   "SELECT name FROM products WHERE product_id IN (SELECT product_id FROM sales WHERE quantity > 2)",
			tables: []string{"products", "sales"},
		},
		{
			name:   "extract is not a relation",
			sql:    "SELECT EXTRACT(YEAR FROM order_date) AS y, SUM(total_amount) FROM orders GROUP BY 1",
			want:   "SELECT EXTRACT(YEAR FROM order_date) AS y, SUM(total_amount) FROM orders GROUP BY 1",
			tables: []string{"orders"},
		},
		{
			name:   "quoted identifiers and literals",
			sql:    `SELECT "name" FROM "customers" WHERE region = 'North' AND email LIKE '%@example.com'`,
			want:   `SELECT "name" FROM "customers" WHERE region = 'North' AND email LIKE '%@example.com'`,
			tables: []string{"customers"},
		},
		{
			name:   "bracketed identifiers",
			sql:    "SELECT [name] FROM [customers] UNION TABLE orders",
			want:   "SELECT [name] FROM [customers] UNION TABLE orders",
			tables: []string{"customers", "orders"},
		},
		{
			name:   "no relation at all",
			sql:    "SELECT 1 + 2.5e3",
			want:   "SELECT 1 + 2.5e3",
			tables: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := v.Validate(tc.sql, shopTables())
			require.True(t, verdict.Accepted, "verdict = %+v", verdict)
			assert.Equal(t, tc.want, verdict.Query.SQL())
			assert.Equal(t, tc.tables, verdict.Tables)
			assert.Empty(t, verdict.Error())
		})
	}
}

func TestValidateRejections(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name      string
		sql       string
		reason    Reason
		offending string
	}{
		{"delete", "DELETE FROM customers", ReasonDisallowedKeyword, "DELETE"},
		{"lowercase drop", "drop table orders", ReasonDisallowedKeyword, "DROP"},
		{"empty", "   \n\t", ReasonEmpty, ""},
		{"only comment", "-- nothing here", ReasonEmpty, ""},
		{"only semicolon", ";", ReasonEmpty, ""},
		{"trailing comment hides drop", "SELECT * FROM products; -- DROP TABLE products", ReasonDisallowedKeyword, "DROP"},
		{"chained select", "SELECT * FROM products; SELECT * FROM orders", ReasonMultipleStatements, ";"},
		{"leading semicolon", "; SELECT 1", ReasonMultipleStatements, ";"},
		{"keyword in block comment", "SELECT /* DELETE */ * FROM orders", ReasonDisallowedKeyword, "DELETE"},
		{"keyword in string literal", "SELECT * FROM orders WHERE status = 'x'' ; DROP TABLE orders'", ReasonDisallowedKeyword, "DROP"},
		{"semicolon in string literal", "SELECT * FROM orders WHERE status = 'a;b'", ReasonMultipleStatements, ";"},
		{"keyword in quoted identifier", `SELECT "update" FROM orders`, ReasonDisallowedKeyword, "UPDATE"},
		{"first violation wins", "SELECT 1 FROM orders WHERE 1 = 1 UPDATE orders DROP", ReasonDisallowedKeyword, "UPDATE"},
		{"with is not retrieval", "WITH x AS (SELECT 1) SELECT * FROM x", ReasonNotRetrieval, "WITH"},
		{"explain is not retrieval", "EXPLAIN SELECT * FROM orders", ReasonNotRetrieval, "EXPLAIN"},
		{"parenthesized lead", "(SELECT 1)", ReasonNotRetrieval, "("},
		{"pragma", "PRAGMA table_info(orders)", ReasonDisallowedKeyword, "PRAGMA"},
		{"attach", "SELECT 1; ATTACH 'x.db' AS x", ReasonMultipleStatements, ";"},
		{"unterminated string", "SELECT 'abc FROM orders", ReasonMalformed, "'"},
		{"unterminated comment", "SELECT 1 /* open", ReasonMalformed, "/*"},
		{"backslash in literal", `SELECT * FROM orders WHERE status = 'a\'`, ReasonMalformed, `\`},
		{"unknown byte", "SELECT $1 FROM orders", ReasonMalformed, "$"},
		{"unknown table", "SELECT * FROM invoices", ReasonUnknownTable, "invoices"},
		{"unknown table in join", "SELECT * FROM orders o JOIN refunds r ON r.order_id = o.order_id", ReasonUnknownTable, "refunds"},
		{"unknown table in subquery", "SELECT * FROM orders WHERE customer_id IN (SELECT id FROM secrets)", ReasonUnknownTable, "secrets"},
		{"cte hidden in derived table", "SELECT * FROM (WITH x AS (SELECT 1) SELECT * FROM x) t", ReasonUnknownTable, "x"},
		{"parenthesized relation", "SELECT * FROM (secrets)", ReasonUnknownTable, "secrets"},
		{"schema qualified", "SELECT * FROM main.customers", ReasonUnknownTable, "main.customers"},
		{"table function", "SELECT * FROM read_csv('dump.csv')", ReasonUnknownTable, "read_csv"},
		{"file literal", "SELECT * FROM 'dump.parquet'", ReasonUnknownTable, "dump.parquet"},
		{"catalog table", "SELECT * FROM sqlite_master", ReasonUnknownTable, "sqlite_master"},
		{"bracketed catalog table", "SELECT name, sql FROM [sqlite_master]", ReasonUnknownTable, "sqlite_master"},
		{"bracketed table in comma list", "SELECT * FROM customers, [sqlite_master]", ReasonUnknownTable, "sqlite_master"},
		{"unclosed bracket", "SELECT * FROM [orders", ReasonMalformed, "["},
		{"stray closing bracket", "SELECT * FROM orders]", ReasonMalformed, "]"},
		{"table form in subquery", "SELECT * FROM orders WHERE customer_id IN (TABLE secret_ids)", ReasonUnknownTable, "secret_ids"},
		{"table form after union", "SELECT * FROM orders UNION ALL TABLE secret", ReasonUnknownTable, "secret"},
		{"select into", "SELECT * INTO stolen FROM orders", ReasonDisallowedKeyword, "INTO"},
		{"lowercase select into", "select name into temp copy from customers", ReasonDisallowedKeyword, "INTO"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := v.Validate(tc.sql, shopTables())
			require.False(t, verdict.Accepted, "verdict = %+v", verdict)
			assert.Equal(t, tc.reason, verdict.Reason)
			assert.Equal(t, tc.offending, verdict.OffendingToken)
			assert.True(t, verdict.Query.IsZero())
		})
	}
}

func TestValidateWithoutSchema(t *testing.T) {
	v := newTestValidator(t)

	verdict := v.Validate("SELECT * FROM customers", nil)
	require.False(t, verdict.Accepted)
	assert.Equal(t, ReasonSchemaUnavailable, verdict.Reason)

	verdict = v.Validate("SELECT 42", nil)
	require.True(t, verdict.Accepted)
	assert.Equal(t, "SELECT 42", verdict.Query.SQL())
}

func TestValidateIsDeterministic(t *testing.T) {
	v := newTestValidator(t)
	inputs := []string{
		"SELECT * FROM customers",
		"DELETE FROM customers",
		"SELECT * FROM invoices",
		"",
	}
	for _, input := range inputs {
		first := v.Validate(input, shopTables())
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, v.Validate(input, shopTables()))
		}
	}
}

func TestVerdictError(t *testing.T) {
	assert.Equal(t, "disallowed keyword: DROP", rejected(ReasonDisallowedKeyword, "DROP").Error())
	assert.Equal(t, "empty query", rejected(ReasonEmpty, "").Error())
}

func TestNewValidatorRejectsBrokenPolicies(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		want   string
	}{
		{"empty", Policy{}, "no rules"},
		{"no retrieval", Policy{Rules: []Rule{{Keyword: "DROP", Class: ClassSchemaDefinition}, {Keyword: ";", Class: ClassChaining}}}, "no retrieval keyword"},
		{"nothing denied", Policy{Rules: []Rule{{Keyword: "SELECT", Class: ClassRetrieval}}}, "denies nothing"},
		{"no chaining", Policy{Rules: []Rule{{Keyword: "SELECT", Class: ClassRetrieval}, {Keyword: "DROP", Class: ClassSchemaDefinition}}}, "chaining"},
		{"double classification", DefaultPolicy().WithDenied("select"), "classified as both"},
		{"blank keyword", Policy{Rules: []Rule{{Keyword: " ", Class: ClassRetrieval}}}, "empty keyword"},
		{"unknown class", Policy{Rules: []Rule{{Keyword: "SELECT", Class: Class(42)}}}, "unknown class"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewValidator(tc.policy)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestWithDeniedExtendsPolicy(t *testing.T) {
	v, err := NewValidator(DefaultPolicy().WithDenied("describe", " ", "SUMMARIZE"))
	require.NoError(t, err)

	verdict := v.Validate("SELECT * FROM orders WHERE note = 'summarize'", shopTables())
	require.False(t, verdict.Accepted)
	assert.Equal(t, "SUMMARIZE", verdict.OffendingToken)

	denied := v.Policy().DeniedKeywords()
	assert.Contains(t, denied, "DESCRIBE")
	assert.Contains(t, denied, ";")
	assert.NotContains(t, denied, "SELECT")
}

func TestValidateNeverPanics(t *testing.T) {
	v := newTestValidator(t)
	inputs := []string{
		"SELECT \xff FROM orders",
		"SELECT (((",
		")))",
		"SELECT * FROM",
		"SELECT * FROM orders o JOIN",
		"SELECT * FROM a.",
		"SELECT .5, 1e, 'x'",
		"/**/",
		"SELECT `tick",
	}
	for _, input := range inputs {
		assert.NotPanics(t, func() {
			verdict := v.Validate(input, shopTables())
			if verdict.Accepted {
				assert.NotEmpty(t, verdict.Query.SQL())
			}
		}, input)
	}
}
