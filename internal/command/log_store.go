package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
)

// List page size bounds.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// LogStore is the durable command log.
type LogStore interface {
	// Append inserts cmd and fills in its ID and timestamps.
	Append(ctx context.Context, cmd *Command) error

	// Transition moves a command to status `to` when its current status is
	// one of from. It returns the updated command, or nil when the command
	// does not exist or was in another status.
	Transition(ctx context.Context, id int64, to Status, errText string, from ...Status) (*Command, error)

	// TimeoutSent moves every sent command last updated before cutoff to
	// timeout and returns them.
	TimeoutSent(ctx context.Context, cutoff time.Time, reason string) ([]Command, error)

	// Get returns ErrCommandNotFound when id does not exist.
	Get(ctx context.Context, id int64) (*Command, error)

	// List returns a page of commands, newest first.
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteLogStore implements LogStore over the command_log table.
type SQLiteLogStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLogStore creates a log store on an open database.
func NewSQLiteLogStore(db *sql.DB) *SQLiteLogStore {
	return &SQLiteLogStore{db: db, now: time.Now}
}

const selectCommand = `
	SELECT id, device_pk, issued_by, source, payload, status, error, created_at, updated_at, ack_at
	FROM command_log`

// Append inserts a new log entry.
func (s *SQLiteLogStore) Append(ctx context.Context, cmd *Command) error {
	now := s.now().UTC()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = cmd.CreatedAt

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO command_log (device_pk, issued_by, source, payload, status, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.DevicePK, cmd.IssuedBy, string(cmd.Source), string(cmd.Payload), string(cmd.Status),
		nullableString(cmd.Error), database.FormatTime(cmd.CreatedAt), database.FormatTime(cmd.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading command id: %w", err)
	}
	cmd.ID = id
	return nil
}

// Transition performs a guarded status change.
func (s *SQLiteLogStore) Transition(ctx context.Context, id int64, to Status, errText string, from ...Status) (*Command, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("transition to %s: no source status given", to)
	}

	now := database.FormatTime(s.now())
	var ackAt any
	if to.Terminal() {
		ackAt = now
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{string(to), nullableString(errText), now, ackAt, id}
	for _, f := range from {
		args = append(args, string(f))
	}

	//nolint:gosec // placeholders only
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE command_log
		   SET status = ?, error = ?, updated_at = ?, ack_at = COALESCE(?, ack_at)
		 WHERE id = ? AND status IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("updating command %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// TimeoutSent expires unanswered live deliveries.
func (s *SQLiteLogStore) TimeoutSent(ctx context.Context, cutoff time.Time, reason string) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM command_log WHERE status = ? AND updated_at < ? ORDER BY id",
		string(StatusSent), database.FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying stale commands: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning stale command: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale commands: %w", err)
	}

	var timedOut []Command
	for _, id := range ids {
		cmd, err := s.Transition(ctx, id, StatusTimeout, reason, StatusSent)
		if err != nil {
			return timedOut, err
		}
		if cmd != nil {
			timedOut = append(timedOut, *cmd)
		}
	}
	return timedOut, nil
}

// Get returns one command.
func (s *SQLiteLogStore) Get(ctx context.Context, id int64) (*Command, error) {
	cmd, err := scanCommand(s.db.QueryRowContext(ctx, selectCommand+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command %d: %w", id, err)
	}
	return cmd, nil
}

// List returns commands matching filter, newest first.
func (s *SQLiteLogStore) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DevicePK > 0 {
		conditions = append(conditions, "device_pk = ?")
		args = append(args, filter.DevicePK)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, string(filter.Source))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM command_log"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting commands: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, selectCommand+where+" ORDER BY id DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	commands := []Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}

	return &ListResult{Commands: commands, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommand(row scanner) (*Command, error) {
	var (
		cmd                  Command
		issuedBy             sql.NullInt64
		source, status       string
		payload              string
		errText, ackAt       sql.NullString
		createdAt, updatedAt string
	)

	if err := row.Scan(&cmd.ID, &cmd.DevicePK, &issuedBy, &source, &payload, &status,
		&errText, &createdAt, &updatedAt, &ackAt); err != nil {
		return nil, err
	}

	cmd.Source = Source(source)
	cmd.Status = Status(status)
	cmd.Payload = []byte(payload)
	if issuedBy.Valid {
		v := issuedBy.Int64
		cmd.IssuedBy = &v
	}
	if errText.Valid {
		cmd.Error = errText.String
	}
	cmd.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
	cmd.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // format is controlled
	if ackAt.Valid {
		if t, err := database.ParseTime(ackAt.String); err == nil {
			cmd.AckAt = &t
		}
	}
	return &cmd, nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
