package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect selects SQL flavour differences between SQLite and Postgres.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

type columnKind int

const (
	colText columnKind = iota
	colBool
	colDecimal
	colJSON
)

type column struct {
	name string
	kind columnKind
	ref  string // referenced table, keyed by external_id
}

type tableSpec struct {
	table   string
	columns []column
	status  string // status column, "" when the entity has none
	active  bool   // has is_active for soft deactivation
}

func (t *tableSpec) column(name string) (column, bool) {
	for _, c := range t.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

func text(name string) column    { return column{name: name, kind: colText} }
func boolean(name string) column { return column{name: name, kind: colBool} }
func decimal(name string) column { return column{name: name, kind: colDecimal} }
func jsonCol(name string) column { return column{name: name, kind: colJSON} }
func ref(name, table string) column {
	return column{name: name, kind: colText, ref: table}
}

func address(prefix string) []column {
	return []column{
		text(prefix + "address_line1"), text(prefix + "address_line2"), text(prefix + "city"),
		text(prefix + "province"), text(prefix + "postal_code"), text(prefix + "country"),
	}
}

// tables is ordered so that referenced tables are created first.
var tables = []EntityType{
	EntityClient, EntityJob, EntityInvoice,
	EntityTeam, EntityUser, EntityChannel, EntityMessage,
}

var specs = map[EntityType]*tableSpec{
	EntityClient: {
		table: "fsm_clients",
		columns: append([]column{
			text("company_name"), text("first_name"), text("last_name"), text("email"), text("phone"),
		}, append(address(""), jsonCol("tags"), boolean("is_active"))...),
		active: true,
	},
	EntityJob: {
		table: "fsm_jobs",
		columns: append([]column{
			ref("client_external_id", "fsm_clients"),
			text("title"), text("description"), text("status"), text("start_at"), text("end_at"),
			decimal("total_amount"), text("currency"),
		}, append(address("job_"), text("job_number"), jsonCol("tags"))...),
		status: "status",
	},
	EntityInvoice: {
		table: "fsm_invoices",
		columns: []column{
			ref("client_external_id", "fsm_clients"),
			ref("job_external_id", "fsm_jobs"),
			text("invoice_number"), text("status"),
			decimal("subtotal"), decimal("tax_amount"), decimal("total_amount"), text("currency"),
			text("issued_at"), text("due_at"), text("sent_at"), text("paid_at"),
			jsonCol("line_items"),
		},
		status: "status",
	},
	EntityTeam: {
		table:   "chat_teams",
		columns: []column{text("name"), text("domain"), boolean("is_active")},
		active:  true,
	},
	EntityUser: {
		table: "chat_users",
		columns: []column{
			ref("team_external_id", "chat_teams"),
			text("username"), text("real_name"), text("email"), boolean("is_bot"), boolean("is_admin"),
		},
	},
	EntityChannel: {
		table: "chat_channels",
		columns: []column{
			ref("team_external_id", "chat_teams"),
			text("name"), boolean("is_private"), boolean("is_archived"), text("topic"), text("purpose"),
		},
	},
	EntityMessage: {
		table: "chat_messages",
		columns: []column{
			ref("channel_external_id", "chat_channels"),
			ref("user_external_id", "chat_users"),
			text("ts"), text("text"), text("message_type"), text("thread_ts"),
		},
	},
}

func specFor(et EntityType) (*tableSpec, error) {
	s, ok := specs[et]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, et)
	}
	return s, nil
}

func (d Dialect) columnType(c column) string {
	switch c.kind {
	case colBool:
		if d == DialectPostgres {
			return "BOOLEAN"
		}
		return "INTEGER"
	case colDecimal:
		if d == DialectPostgres {
			return "NUMERIC(14,2)"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

func (d Dialect) createTable(t *tableSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.table)
	if d == DialectPostgres {
		b.WriteString("  id          BIGSERIAL PRIMARY KEY,\n")
	} else {
		b.WriteString("  id          INTEGER PRIMARY KEY AUTOINCREMENT,\n")
	}
	b.WriteString("  external_id TEXT NOT NULL UNIQUE,\n")
	for _, c := range t.columns {
		fmt.Fprintf(&b, "  %s %s", c.name, d.columnType(c))
		if c.name == "is_active" {
			if d == DialectPostgres {
				b.WriteString(" NOT NULL DEFAULT TRUE")
			} else {
				b.WriteString(" NOT NULL DEFAULT 1")
			}
		}
		if c.ref != "" {
			fmt.Fprintf(&b, " REFERENCES %s(external_id)", c.ref)
		}
		b.WriteString(",\n")
	}
	b.WriteString("  hydrated_at TEXT,\n")
	b.WriteString("  created_at  TEXT NOT NULL,\n")
	b.WriteString("  updated_at  TEXT NOT NULL\n)")
	return b.String()
}

// Bootstrap creates entity tables if missing.
func Bootstrap(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, et := range tables {
		if _, err := db.ExecContext(ctx, d.createTable(specs[et])); err != nil {
			return fmt.Errorf("bootstrap %s: %w", d, err)
		}
	}
	return nil
}
