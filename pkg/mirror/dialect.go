package mirror

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// placeholderStyle distinguishes drivers that accept positional "?"
// placeholders from ones that require numbered "$1" placeholders.
type placeholderStyle int

const (
	placeholderQuestion placeholderStyle = iota
	placeholderDollar
)

// dialectFor maps a connection string's scheme to a database/sql driver
// name, the DSN to hand it, and its placeholder style. SQL Server (TDS) is
// not included: no driver for it appears anywhere in the retrieved example
// pack, so it is dropped rather than invented.
func dialectFor(connectionStr string) (driver string, dsn string, style placeholderStyle, err error) {
	switch {
	case strings.HasPrefix(connectionStr, "mysql://"):
		return "mysql", strings.TrimPrefix(connectionStr, "mysql://"), placeholderQuestion, nil
	case strings.HasPrefix(connectionStr, "postgres://"), strings.HasPrefix(connectionStr, "postgresql://"):
		return "pgx", connectionStr, placeholderDollar, nil
	case strings.HasPrefix(connectionStr, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(connectionStr, "sqlite://"), placeholderQuestion, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported backing store dialect in connection string %q", connectionStr)
	}
}

// placeholders renders n placeholders for the given style, 1-indexed for
// the dollar style.
func placeholders(style placeholderStyle, n int) []string {
	out := make([]string, n)
	for i := range out {
		if style == placeholderDollar {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}
