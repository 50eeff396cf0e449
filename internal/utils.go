package internal

import (
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// sanitizeIdentifier quotes a possibly schema-qualified Postgres identifier.
func sanitizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	return pgx.Identifier(identifierParts(name)).Sanitize()
}

// quoteDuckIdentifier quotes a possibly schema-qualified DuckDB identifier.
func quoteDuckIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := identifierParts(name)
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func identifierParts(name string) []string {
	parts := strings.Split(name, ".")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(part, " \"")
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	if len(clean) == 0 {
		clean = []string{name}
	}
	return clean
}
