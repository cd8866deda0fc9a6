package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"security-gateway/middleware/security/domain"
)

var alertSchema = []string{`
CREATE TABLE IF NOT EXISTS security_alerts (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	client_id   TEXT NOT NULL,
	method      TEXT NOT NULL,
	path        TEXT NOT NULL,
	tier        TEXT NOT NULL DEFAULT '',
	findings    TEXT NOT NULL DEFAULT '[]',
	headers     TEXT NOT NULL DEFAULT '{}'
)`,
	`CREATE INDEX IF NOT EXISTS idx_security_alerts_client ON security_alerts(client_id, occurred_at)`,
}

const insertAlert = `
INSERT INTO security_alerts (id, kind, occurred_at, client_id, method, path, tier, findings, headers)
VALUES (:id, :kind, :occurred_at, :client_id, :method, :path, :tier, :findings, :headers)`

type alertRow struct {
	ID         string `db:"id"`
	Kind       string `db:"kind"`
	OccurredAt string `db:"occurred_at"`
	ClientID   string `db:"client_id"`
	Method     string `db:"method"`
	Path       string `db:"path"`
	Tier       string `db:"tier"`
	Findings   string `db:"findings"`
	Headers    string `db:"headers"`
}

// SQLAlerter grava alertas numa tabela de auditoria (SQLite puro Go).
type SQLAlerter struct {
	db *sqlx.DB
}

// OpenSQLAlerter abre (ou cria) o banco em path. ":memory:" é aceito.
func OpenSQLAlerter(path string) (*SQLAlerter, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open alert db: %w", err)
	}
	// SQLite serializa escritas; uma conexão evita SQLITE_BUSY e mantém ":memory:" único.
	db.SetMaxOpenConns(1)
	a, err := NewSQLAlerter(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func NewSQLAlerter(db *sqlx.DB) (*SQLAlerter, error) {
	for _, stmt := range alertSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("create alert schema: %w", err)
		}
	}
	return &SQLAlerter{db: db}, nil
}

func (a *SQLAlerter) DB() *sqlx.DB { return a.db }

func (a *SQLAlerter) Send(ctx context.Context, al domain.Alert) error {
	findings, err := json.Marshal(al.Findings)
	if err != nil {
		return err
	}
	headers, err := json.Marshal(al.Headers)
	if err != nil {
		return err
	}
	if al.Findings == nil {
		findings = []byte("[]")
	}
	if al.Headers == nil {
		headers = []byte("{}")
	}

	_, err = a.db.NamedExecContext(ctx, insertAlert, alertRow{
		ID:         al.ID,
		Kind:       string(al.Kind),
		OccurredAt: al.Timestamp.UTC().Format(time.RFC3339Nano),
		ClientID:   al.ClientID,
		Method:     al.RequestMethod,
		Path:       al.RequestPath,
		Tier:       string(al.Tier),
		Findings:   string(findings),
		Headers:    string(headers),
	})
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", al.ID, err)
	}
	return nil
}

func (a *SQLAlerter) Close() error { return a.db.Close() }
