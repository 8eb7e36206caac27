package journal

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"combine-guard-go/enforce"
	"combine-guard-go/risk"
)

// SQLiteJournal 基于 sqlite 的审计库。单写者，内部串行化。
type SQLiteJournal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLite 打开（必要时建表）审计库。path 为 ":memory:" 时只在测试里用。
func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// NewBreachID 生成按时间排序的违规记录 ID。
func NewBreachID(ts time.Time) string {
	return ulid.MustNew(ulid.Timestamp(ts.UTC()), rand.Reader).String()
}

func (j *SQLiteJournal) AppendAction(a enforce.Action) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var resolved interface{}
	if !a.ResolvedAt.IsZero() {
		resolved = a.ResolvedAt.UTC()
	}
	_, err := j.db.Exec(`
		INSERT INTO actions
		(action_id, account_id, kind, rule, symbol, permanent, cooldown_ms, issued_at, resolved_at, outcome, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountID, string(a.Kind), string(a.Rule), a.Symbol,
		boolToInt(a.Permanent), a.Cooldown.Milliseconds(),
		a.IssuedAt.UTC(), resolved, string(a.Outcome), a.Attempts, a.LastError,
	)
	if err != nil {
		return fmt.Errorf("append action %s: %w", a.ID, err)
	}
	return nil
}

func (j *SQLiteJournal) AppendBreach(b BreachRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if b.ID == "" {
		b.ID = NewBreachID(b.At)
	}
	_, err := j.db.Exec(`
		INSERT INTO breaches
		(breach_id, account_id, rule, status, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.AccountID, string(b.Rule), b.Status.String(), b.Detail, b.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append breach %s: %w", b.ID, err)
	}
	return nil
}

// ActionsFor 按发出时间倒序返回某账户最近的动作。
func (j *SQLiteJournal) ActionsFor(accountID string, limit int) ([]enforce.Action, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT action_id, account_id, kind, rule, symbol, permanent, cooldown_ms, issued_at, resolved_at, outcome, attempts, last_error
		FROM actions WHERE account_id = ?
		ORDER BY issued_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []enforce.Action
	for rows.Next() {
		var (
			a          enforce.Action
			kind       string
			rule       string
			permanent  int
			cooldownMS int64
			resolved   sql.NullTime
			outcome    string
		)
		if err := rows.Scan(&a.ID, &a.AccountID, &kind, &rule, &a.Symbol,
			&permanent, &cooldownMS, &a.IssuedAt, &resolved, &outcome,
			&a.Attempts, &a.LastError); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Kind = enforce.Kind(kind)
		a.Rule = risk.RuleID(rule)
		a.Permanent = permanent != 0
		a.Cooldown = time.Duration(cooldownMS) * time.Millisecond
		if resolved.Valid {
			a.ResolvedAt = resolved.Time
		}
		a.Outcome = enforce.Outcome(outcome)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentBreaches 按发生时间倒序返回某账户最近的违规。
func (j *SQLiteJournal) RecentBreaches(accountID string, limit int) ([]BreachRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(`
		SELECT breach_id, account_id, rule, status, detail, occurred_at
		FROM breaches WHERE account_id = ?
		ORDER BY occurred_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query breaches: %w", err)
	}
	defer rows.Close()

	var out []BreachRecord
	for rows.Next() {
		var (
			b      BreachRecord
			rule   string
			status string
		)
		if err := rows.Scan(&b.ID, &b.AccountID, &rule, &status, &b.Detail, &b.At); err != nil {
			return nil, fmt.Errorf("scan breach: %w", err)
		}
		b.Rule = risk.RuleID(rule)
		b.Status = parseStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseStatus(s string) risk.RuleStatus {
	switch s {
	case risk.StatusBreach.String():
		return risk.StatusBreach
	case risk.StatusWarning.String():
		return risk.StatusWarning
	default:
		return risk.StatusOK
	}
}
