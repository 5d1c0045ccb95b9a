// Package store persists order records to a SQL database through sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/jdaza33/gmail-api/internal/order"
)

// Dialects accepted by Open. Each maps to the database/sql driver of the same name.
const (
	Postgres  = "postgres"
	MySQL     = "mysql"
	SQLite    = "sqlite"
	SQLServer = "sqlserver"
)

// DefaultTable is the table order records are appended to.
const DefaultTable = "reporte"

var (
	ErrUnsupportedDialect = errors.New("unsupported sql dialect")
	ErrInvalidTable       = errors.New("invalid table name")
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*){0,2}$`)

var columns = []string{"nombre", "direccion", "cp", "telefono1", "telefono2", "aparato", "marca", "averia", "createdAt", "status", "nro"}

// row is the stored shape of an order.Record. createdAt is epoch milliseconds.
type row struct {
	Nombre    string        `db:"nombre"`
	Direccion string        `db:"direccion"`
	CP        string        `db:"cp"`
	Telefono1 string        `db:"telefono1"`
	Telefono2 string        `db:"telefono2"`
	Aparato   string        `db:"aparato"`
	Marca     string        `db:"marca"`
	Averia    string        `db:"averia"`
	CreatedAt int64         `db:"createdAt"`
	Status    string        `db:"status"`
	Nro       sql.NullInt64 `db:"nro"`
}

func toRow(r order.Record) row {
	out := row{
		Nombre:    r.Nombre,
		Direccion: r.Direccion,
		CP:        r.CP,
		Telefono1: r.Telefono1,
		Telefono2: r.Telefono2,
		Aparato:   r.Aparato,
		Marca:     r.Marca,
		Averia:    r.Averia,
		CreatedAt: r.CreatedAt.UnixMilli(),
		Status:    r.Status,
	}
	if r.Nro != nil {
		out.Nro = sql.NullInt64{Int64: *r.Nro, Valid: true}
	}
	return out
}

// SQLStore appends order records with a single parameterized INSERT.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
	table   string
	insert  string
}

// Open connects with the driver for dialect and verifies the connection.
func Open(ctx context.Context, dialect, dsn, table string) (*SQLStore, error) {
	if !supported(dialect) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}
	db, err := sqlx.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s, err := New(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open handle. The dialect is taken from the handle's driver name.
func New(db *sqlx.DB, table string) (*SQLStore, error) {
	dialect := db.DriverName()
	if !supported(dialect) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	quoted := make([]string, len(columns))
	named := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(dialect, c)
		named[i] = ":" + c
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteTable(dialect, table), strings.Join(quoted, ", "), strings.Join(named, ", "))
	return &SQLStore{db: db, dialect: dialect, table: table, insert: insert}, nil
}

// Insert appends r. There is no upsert: every call adds a row.
func (s *SQLStore) Insert(ctx context.Context, r order.Record) error {
	if _, err := s.db.NamedExecContext(ctx, s.insert, toRow(r)); err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}
	return nil
}

// EnsureSchema creates the table when missing. SQL Server tables are expected to
// be provisioned by the DBA.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	var text, big string
	switch s.dialect {
	case SQLite:
		text, big = "TEXT", "INTEGER"
	case Postgres, MySQL:
		text, big = "TEXT", "BIGINT"
	default:
		return fmt.Errorf("ensure schema on %s: %w", s.dialect, ErrUnsupportedDialect)
	}
	defs := make([]string, len(columns))
	for i, c := range columns {
		typ := text + " NOT NULL"
		switch c {
		case "createdAt":
			typ = big + " NOT NULL"
		case "nro":
			typ = big + " NULL"
		}
		defs[i] = quote(s.dialect, c) + " " + typ
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteTable(s.dialect, s.table), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func supported(dialect string) bool {
	switch dialect {
	case Postgres, MySQL, SQLite, SQLServer:
		return true
	}
	return false
}

func quote(dialect, ident string) string {
	switch dialect {
	case MySQL:
		return "`" + ident + "`"
	case SQLServer:
		return "[" + ident + "]"
	default:
		return `"` + ident + `"`
	}
}

func quoteTable(dialect, table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = quote(dialect, p)
	}
	return strings.Join(parts, ".")
}
