package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/llm"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/session"
)

const maxTranslationTokens = 1024

type ChatTranslator struct {
	client  llm.Completer
	dialect string
}

func NewChatTranslator(client llm.Completer, dialect string) (*ChatTranslator, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	dialect = strings.TrimSpace(dialect)
	if dialect == "" {
		dialect = "SQLite"
	}
	return &ChatTranslator{client: client, dialect: dialect}, nil
}

func (t *ChatTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.NaturalLanguage) == "" {
		return Result{}, fmt.Errorf("natural language request is required")
	}
	dialect := t.dialect
	if strings.TrimSpace(req.Dialect) != "" {
		dialect = strings.TrimSpace(req.Dialect)
	}

	content, err := t.client.Complete(ctx, buildMessages(dialect, req), maxTranslationTokens)
	if err != nil {
		return Result{}, err
	}
	sql := stripMarkdownSQL(content)
	if sql == "" {
		return Result{}, ErrNoCandidate
	}
	return Result{
		SQL:      sql,
		Provider: llm.ProviderOpenAICompatible,
		Model:    t.client.Model(),
	}, nil
}

func buildMessages(dialect string, req Request) []llm.Message {
	systemPrompt := fmt.Sprintf("You convert natural language analytics questions into a single %s SELECT query. "+
		"Return ONLY SQL. No markdown, no explanation.", dialect)

	var user strings.Builder
	user.WriteString("Database schema:\n")
	user.WriteString(formatSchema(req.Schema))
	user.WriteString("\nPrevious context:\n")
	user.WriteString(formatHistory(req.History))
	if hint := strings.TrimSpace(req.Hint); hint != "" {
		user.WriteString("\nA query that answered this question before:\n")
		user.WriteString(hint)
		user.WriteString("\n")
	}
	if len(req.Examples) > 0 {
		user.WriteString("\nQueries that answered similar questions:\n")
		for _, example := range req.Examples {
			fmt.Fprintf(&user, "Q: %s\nSQL: %s\n", example.Question, example.SQL)
		}
	}
	fmt.Fprintf(&user, "\nUser question:\n%s\n", strings.TrimSpace(req.NaturalLanguage))
	user.WriteString("\nRules:\n" +
		"1. Generate ONLY one SELECT statement (no INSERT, UPDATE, DELETE, DROP, WITH, PRAGMA).\n" +
		"2. Use only the listed tables and columns.\n" +
		"3. Use JOINs when the question spans several tables.\n" +
		"4. Use aggregates (COUNT, SUM, AVG) for totals and averages.\n" +
		"5. Add ORDER BY and LIMIT when appropriate.\n" +
		"6. No comments and no trailing text.")

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

func formatSchema(descriptor *schema.Descriptor) string {
	if descriptor == nil || len(descriptor.Tables) == 0 {
		return "(no tables)\n"
	}
	var b strings.Builder
	for _, table := range descriptor.Tables {
		columns := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, fmt.Sprintf("%s %s", column.Name, column.Type))
		}
		fmt.Fprintf(&b, "- %s(%s)\n", table.Name, strings.Join(columns, ", "))
	}
	return b.String()
}

func formatHistory(turns []session.Turn) string {
	if len(turns) == 0 {
		return "No previous context\n"
	}
	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "Q: %s\n", turn.Request)
		switch {
		case turn.Failed:
			fmt.Fprintf(&b, "Failed at %s: %s\n", turn.FailedStage, turn.FailureReason)
		case turn.ExecutedQuery != "":
			fmt.Fprintf(&b, "SQL: %s\n", turn.ExecutedQuery)
		}
		if turn.Summary != "" {
			fmt.Fprintf(&b, "A: %s\n", turn.Summary)
		}
	}
	return b.String()
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```SQL")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
