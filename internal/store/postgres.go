package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/zyrae/internal/broadcast"
)

// notifyChannel は変更イベントを中継するLISTEN/NOTIFYチャネル名。
const notifyChannel = "zyrae_storage"

// PostgresBackend はPostgreSQLの kv_store テーブルに保存するBackend。
// テーブルは database パッケージのマイグレーションで作成する。
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend はPostgresBackendを生成する。
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE key = $1`,
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get kv: %w", err)
	}
	return value, true, nil
}

func (p *PostgresBackend) Put(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to put kv: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM kv_store WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete kv: %w", err)
	}
	return nil
}

// Close はDB接続を閉じない。接続の所有者（app）が閉じる。
func (p *PostgresBackend) Close() error {
	return nil
}

// PostgresRelay はLISTEN/NOTIFYでプロセス間にイベントを中継するRelay。
type PostgresRelay struct {
	db          *sql.DB
	databaseURL string
	logger      *slog.Logger
}

// NewPostgresRelay はPostgresRelayを生成する。
// databaseURLはLISTEN専用接続（pq.Listener）の確立に使用する。
func NewPostgresRelay(db *sql.DB, databaseURL string, logger *slog.Logger) *PostgresRelay {
	return &PostgresRelay{db: db, databaseURL: databaseURL, logger: logger}
}

// Publish はpg_notifyでイベントを送信する。
func (r *PostgresRelay) Publish(ctx context.Context, ev broadcast.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

// Listen はLISTEN専用接続を張り、通知を受信するたびにfnを呼ぶ。
func (r *PostgresRelay) Listen(ctx context.Context, fn func(broadcast.Event)) error {
	listener := pq.NewListener(r.databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				r.logger.Warn("postgres listener event",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		})
	defer listener.Close()

	if err := listener.Listen(notifyChannel); err != nil {
		return fmt.Errorf("failed to listen %s: %w", notifyChannel, err)
	}

	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// 再接続時はnilが届く
			if n == nil {
				continue
			}
			ev, err := decodeEvent([]byte(n.Extra))
			if err != nil {
				r.logger.Warn("invalid storage notification", slog.String("error", err.Error()))
				continue
			}
			fn(ev)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				r.logger.Warn("postgres listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

func decodeEvent(b []byte) (broadcast.Event, error) {
	var ev broadcast.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return broadcast.Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Key == "" {
		return broadcast.Event{}, fmt.Errorf("event without key")
	}
	return ev, nil
}

var (
	_ Backend = (*PostgresBackend)(nil)
	_ Relay   = (*PostgresRelay)(nil)
)
