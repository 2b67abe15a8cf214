// Package database はPostgreSQLバックエンドの接続とkv_storeスキーマのマイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	// kvStoreSource はkv_storeスキーマのマイグレーションソース名。
	kvStoreSource = "zyrae-kv-store"
	// kvStoreMigrationsDir は埋め込みFS内のマイグレーションディレクトリ。
	kvStoreMigrationsDir = "migrations"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator はバイナリに埋め込んだkv_storeテーブルのマイグレーション
// （ソース名 zyrae-kv-store）を適用するmigrateインスタンスを生成する。
// databaseURLはストアバックエンドと同じPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, kvStoreMigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load kv_store migrations from %s: %w", kvStoreMigrationsDir, err)
	}

	m, err := migrate.NewWithSourceInstance(kvStoreSource, source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create kv_store migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はkv_storeテーブルのマイグレーションをすべて適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate kv_store: %w", err)
	}

	return nil
}
