package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/devicelink-core/internal/auth"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
)

// Logger is the logging interface used by the Resolver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Resolver turns a handshake into the logical devices it serves.
type Resolver struct {
	db           *sql.DB
	verifySecret bool
	logger       Logger
	now          func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithSecretVerification makes a handshake for an already known group fail
// with ErrSecretMismatch unless its secret matches the stored hash.
func WithSecretVerification(enabled bool) ResolverOption {
	return func(r *Resolver) { r.verifySecret = enabled }
}

// WithLogger sets the resolver logger.
func WithLogger(l Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithClock overrides time.Now. Used in tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver on an open database.
func NewResolver(db *sql.DB, opts ...ResolverOption) *Resolver {
	r := &Resolver{db: db, logger: noopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve upserts every logical device the handshake implies and returns
// the whole group. The upsert runs in one transaction, so concurrent
// handshakes for the same group cannot create duplicates.
//
// Existing rows keep a non-empty icon and type; a nickname renames them and
// a supplied home or room replaces the stored one.
func (r *Resolver) Resolve(ctx context.Context, hs Handshake) (*Resolution, error) {
	if hs.DeviceID == "" || hs.Secret == "" {
		return nil, ErrMissingCredentials
	}

	id, err := ParseIdentity(hs.DeviceID)
	if err != nil {
		return nil, err
	}

	desired := desiredDevices(id)
	if len(desired) == 0 {
		return nil, fmt.Errorf("%w: %q declares no flags or pins", ErrMalformedIdentity, hs.DeviceID)
	}

	nickname := strings.TrimSpace(hs.Nickname)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if r.verifySecret {
		if err := checkSecret(ctx, tx, id.GroupUID, hs.Secret); err != nil {
			return nil, err
		}
	}

	now := r.now()
	stamp := database.FormatTime(now)
	var secretHash string
	inserted := 0

	for _, d := range desired {
		var rename *string
		if nickname != "" {
			n := d.displayName(nickname, true)
			rename = &n
		}

		n, err := updateDevice(ctx, tx, id.GroupUID, d, rename, hs.HomeID, hs.RoomID, stamp)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}

		if secretHash == "" {
			if secretHash, err = auth.HashSecret(hs.Secret); err != nil {
				return nil, fmt.Errorf("hashing device secret: %w", err)
			}
		}

		name := d.displayName(id.BaseID, false)
		if rename != nil {
			name = *rename
		}
		if err := insertDevice(ctx, tx, id, d, name, secretHash, hs.HomeID, hs.RoomID, now); err != nil {
			return nil, err
		}
		inserted++
	}

	devices, err := listByGroup(ctx, tx, id.GroupUID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing handshake: %w", err)
	}

	r.logger.Debug("handshake resolved",
		"group_uid", id.GroupUID,
		"devices", len(devices),
		"inserted", inserted,
	)

	return &Resolution{BaseID: id.BaseID, GroupUID: id.GroupUID, Devices: devices}, nil
}

// checkSecret verifies secret against any stored hash of the group. A group
// without a stored hash is new and accepted.
func checkSecret(ctx context.Context, tx *sql.Tx, groupUID, secret string) error {
	var stored string
	err := tx.QueryRowContext(ctx,
		"SELECT secret_hash FROM devices WHERE group_uid = ? AND secret_hash <> '' ORDER BY id LIMIT 1",
		groupUID,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading device secret: %w", err)
	}

	ok, err := auth.VerifySecret(secret, stored)
	if err != nil {
		return fmt.Errorf("verifying device secret: %w", err)
	}
	if !ok {
		return ErrSecretMismatch
	}
	return nil
}

func updateDevice(ctx context.Context, tx *sql.Tx, groupUID string, d desiredDevice,
	rename *string, homeID, roomID *int64, stamp string,
) (int64, error) {
	var swIndex *int
	if d.kind == KindSwitch {
		swIndex = &d.switchIndex
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE devices
		   SET name       = COALESCE(?, name),
		       home_id    = COALESCE(?, home_id),
		       room_id    = COALESCE(?, room_id),
		       icon_path  = CASE WHEN icon_path = '' THEN ? ELSE icon_path END,
		       type       = CASE WHEN type = '' THEN ? ELSE type END,
		       sw_index   = ?,
		       updated_at = ?
		 WHERE group_uid = ?
		   AND kind = ?
		   AND IFNULL(pin, -1) = IFNULL(?, -1)`,
		rename, homeID, roomID, d.kind.Icon(), d.kind.TypeName(), swIndex, stamp,
		groupUID, string(d.kind), d.pin,
	)
	if err != nil {
		return 0, fmt.Errorf("updating %s device: %w", d.kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

func insertDevice(ctx context.Context, tx *sql.Tx, id Identity, d desiredDevice,
	name, secretHash string, homeID, roomID *int64, now time.Time,
) error {
	var swIndex *int
	if d.kind == KindSwitch {
		swIndex = &d.switchIndex
	}

	meta, err := json.Marshal(map[string]any{
		"status":     StatusUnclaimed,
		"first_seen": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding meta: %w", err)
	}

	stamp := database.FormatTime(now)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices
			(device_id, secret_hash, base_id, group_uid, kind, pin, sw_index, home_id, room_id,
			 name, icon_path, type, meta, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		id.FullID, secretHash, id.BaseID, id.GroupUID, string(d.kind), d.pin, swIndex, homeID, roomID,
		name, d.kind.Icon(), d.kind.TypeName(), string(meta), stamp, stamp,
	)
	if err != nil {
		return fmt.Errorf("inserting %s device: %w", d.kind, err)
	}
	return nil
}
