package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/leger-labs/leger/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Release Operations
// =============================================================================

// releaseRow represents a release row in the database.
type releaseRow struct {
	ID        string `db:"id"`
	UserUUID  string `db:"user_uuid"`
	Name      string `db:"name"`
	Version   int    `db:"version"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *SQLiteStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	return createRelease(ctx, s.db, release)
}

func (s *SQLiteStore) GetRelease(ctx context.Context, id string) (*domain.Release, error) {
	return getRelease(ctx, s.db, id)
}

func (s *SQLiteStore) GetReleaseByName(ctx context.Context, userUUID, name string) (*domain.Release, error) {
	return getReleaseByName(ctx, s.db, userUUID, name)
}

func (s *SQLiteStore) UpdateRelease(ctx context.Context, release *domain.Release) error {
	return updateRelease(ctx, s.db, release)
}

func (s *SQLiteStore) DeleteRelease(ctx context.Context, id string) error {
	return deleteRelease(ctx, s.db, id)
}

func (s *SQLiteStore) ListReleases(ctx context.Context, userUUID string, opts ListOptions) ([]domain.Release, error) {
	return listReleases(ctx, s.db, userUUID, opts)
}

// =============================================================================
// Configuration Snapshot Operations
// =============================================================================

// releaseConfigRow represents a config snapshot row in the database.
type releaseConfigRow struct {
	ID        string `db:"id"`
	ReleaseID string `db:"release_id"`
	Version   int    `db:"version"`
	Payload   string `db:"payload"`
	CreatedAt string `db:"created_at"`
}

func (s *SQLiteStore) SaveReleaseConfig(ctx context.Context, cfg *domain.ReleaseConfig) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.SaveReleaseConfig(ctx, cfg)
	})
}

func (s *SQLiteStore) GetReleaseConfig(ctx context.Context, releaseID string) (*domain.ReleaseConfig, error) {
	return getReleaseConfig(ctx, s.db, releaseID)
}

func (s *SQLiteStore) GetReleaseConfigVersion(ctx context.Context, releaseID string, version int) (*domain.ReleaseConfig, error) {
	return getReleaseConfigVersion(ctx, s.db, releaseID, version)
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment record row in the database.
type deploymentRow struct {
	ID           string  `db:"id"`
	ReleaseID    string  `db:"release_id"`
	UserUUID     string  `db:"user_uuid"`
	Status       string  `db:"status"`
	R2Path       string  `db:"r2_path"`
	ManifestURL  string  `db:"manifest_url"`
	ErrorMessage string  `db:"error_message"`
	StartedAt    string  `db:"started_at"`
	CompletedAt  *string `db:"completed_at"`
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return createDeployment(ctx, s.db, record)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) GetCurrentDeployment(ctx context.Context, releaseID string) (*domain.DeploymentRecord, error) {
	return getCurrentDeployment(ctx, s.db, releaseID)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return updateDeployment(ctx, s.db, record)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, releaseID string, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.db, releaseID, opts)
}

// =============================================================================
// Settings, Secrets, Marketplace Operations
// =============================================================================

func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *domain.Settings) error {
	return saveSettings(ctx, s.db, settings)
}

func (s *SQLiteStore) GetSettings(ctx context.Context, userUUID string) (*domain.Settings, error) {
	return getSettings(ctx, s.db, userUUID)
}

func (s *SQLiteStore) SaveSecret(ctx context.Context, userUUID string, secret domain.Secret) error {
	return saveSecret(ctx, s.db, userUUID, secret)
}

func (s *SQLiteStore) DeleteSecret(ctx context.Context, userUUID, name string) error {
	return deleteSecret(ctx, s.db, userUUID, name)
}

func (s *SQLiteStore) ListSecrets(ctx context.Context, userUUID string) ([]domain.Secret, error) {
	return listSecrets(ctx, s.db, userUUID)
}

func (s *SQLiteStore) SaveMarketplaceConfig(ctx context.Context, releaseID, composeYAML string) error {
	return saveMarketplaceConfig(ctx, s.db, releaseID, composeYAML)
}

func (s *SQLiteStore) GetMarketplaceConfig(ctx context.Context, releaseID string) (string, error) {
	return getMarketplaceConfig(ctx, s.db, releaseID)
}

func (s *SQLiteStore) DeleteMarketplaceConfig(ctx context.Context, releaseID string) error {
	return deleteMarketplaceConfig(ctx, s.db, releaseID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	return createRelease(ctx, s.tx, release)
}

func (s *txSQLiteStore) GetRelease(ctx context.Context, id string) (*domain.Release, error) {
	return getRelease(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetReleaseByName(ctx context.Context, userUUID, name string) (*domain.Release, error) {
	return getReleaseByName(ctx, s.tx, userUUID, name)
}

func (s *txSQLiteStore) UpdateRelease(ctx context.Context, release *domain.Release) error {
	return updateRelease(ctx, s.tx, release)
}

func (s *txSQLiteStore) DeleteRelease(ctx context.Context, id string) error {
	return deleteRelease(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListReleases(ctx context.Context, userUUID string, opts ListOptions) ([]domain.Release, error) {
	return listReleases(ctx, s.tx, userUUID, opts)
}

func (s *txSQLiteStore) SaveReleaseConfig(ctx context.Context, cfg *domain.ReleaseConfig) error {
	return saveReleaseConfig(ctx, s.tx, cfg)
}

func (s *txSQLiteStore) GetReleaseConfig(ctx context.Context, releaseID string) (*domain.ReleaseConfig, error) {
	return getReleaseConfig(ctx, s.tx, releaseID)
}

func (s *txSQLiteStore) GetReleaseConfigVersion(ctx context.Context, releaseID string, version int) (*domain.ReleaseConfig, error) {
	return getReleaseConfigVersion(ctx, s.tx, releaseID, version)
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return createDeployment(ctx, s.tx, record)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetCurrentDeployment(ctx context.Context, releaseID string) (*domain.DeploymentRecord, error) {
	return getCurrentDeployment(ctx, s.tx, releaseID)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return updateDeployment(ctx, s.tx, record)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, releaseID string, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.tx, releaseID, opts)
}

func (s *txSQLiteStore) SaveSettings(ctx context.Context, settings *domain.Settings) error {
	return saveSettings(ctx, s.tx, settings)
}

func (s *txSQLiteStore) GetSettings(ctx context.Context, userUUID string) (*domain.Settings, error) {
	return getSettings(ctx, s.tx, userUUID)
}

func (s *txSQLiteStore) SaveSecret(ctx context.Context, userUUID string, secret domain.Secret) error {
	return saveSecret(ctx, s.tx, userUUID, secret)
}

func (s *txSQLiteStore) DeleteSecret(ctx context.Context, userUUID, name string) error {
	return deleteSecret(ctx, s.tx, userUUID, name)
}

func (s *txSQLiteStore) ListSecrets(ctx context.Context, userUUID string) ([]domain.Secret, error) {
	return listSecrets(ctx, s.tx, userUUID)
}

func (s *txSQLiteStore) SaveMarketplaceConfig(ctx context.Context, releaseID, composeYAML string) error {
	return saveMarketplaceConfig(ctx, s.tx, releaseID, composeYAML)
}

func (s *txSQLiteStore) GetMarketplaceConfig(ctx context.Context, releaseID string) (string, error) {
	return getMarketplaceConfig(ctx, s.tx, releaseID)
}

func (s *txSQLiteStore) DeleteMarketplaceConfig(ctx context.Context, releaseID string) error {
	return deleteMarketplaceConfig(ctx, s.tx, releaseID)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createRelease(ctx context.Context, exec executor, release *domain.Release) error {
	// SQLite reports only one violated constraint per insert, and for a row
	// that collides on both id and (user_uuid, name) it names the latter.
	// Check the id up front so duplicate ids classify as ErrDuplicateID.
	var one int
	err := exec.GetContext(ctx, &one, `SELECT 1 FROM releases WHERE id = ?`, release.ID)
	if err == nil {
		return NewStoreError("CreateRelease", "release", release.ID, "release with this ID already exists", ErrDuplicateID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return NewStoreError("CreateRelease", "release", release.ID, err.Error(), err)
	}

	query := `
		INSERT INTO releases (id, user_uuid, name, version, created_at, updated_at)
		VALUES (:id, :user_uuid, :name, :version, :created_at, :updated_at)`

	row := map[string]any{
		"id":         release.ID,
		"user_uuid":  release.UserUUID,
		"name":       release.Name,
		"version":    release.Version,
		"created_at": release.CreatedAt.Format(time.RFC3339),
		"updated_at": release.UpdatedAt.Format(time.RFC3339),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: releases.id") {
			return NewStoreError("CreateRelease", "release", release.ID, "release with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: releases.user_uuid") {
			return NewStoreError("CreateRelease", "release", release.ID, "release with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateRelease", "release", release.ID, err.Error(), err)
	}

	return nil
}

func getRelease(ctx context.Context, exec executor, id string) (*domain.Release, error) {
	query := `SELECT * FROM releases WHERE id = ?`

	var row releaseRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRelease", "release", id, "release not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRelease", "release", id, err.Error(), err)
	}

	return rowToRelease(&row)
}

func getReleaseByName(ctx context.Context, exec executor, userUUID, name string) (*domain.Release, error) {
	query := `SELECT * FROM releases WHERE user_uuid = ? AND name = ?`

	var row releaseRow
	err := exec.GetContext(ctx, &row, query, userUUID, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetReleaseByName", "release", name, "release not found", ErrNotFound)
		}
		return nil, NewStoreError("GetReleaseByName", "release", name, err.Error(), err)
	}

	return rowToRelease(&row)
}

func updateRelease(ctx context.Context, exec executor, release *domain.Release) error {
	query := `
		UPDATE releases SET
			name = :name,
			version = :version,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":         release.ID,
		"name":       release.Name,
		"version":    release.Version,
		"updated_at": release.UpdatedAt.Format(time.RFC3339),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateRelease", "release", release.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRelease", "release", release.ID, "release not found", ErrNotFound)
	}

	return nil
}

func deleteRelease(ctx context.Context, exec executor, id string) error {
	// Config snapshots, deployments and marketplace fragments cascade.
	query := `DELETE FROM releases WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteRelease", "release", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteRelease", "release", id, "release not found", ErrNotFound)
	}

	return nil
}

func listReleases(ctx context.Context, exec executor, userUUID string, opts ListOptions) ([]domain.Release, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM releases WHERE user_uuid = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []releaseRow
	err := exec.SelectContext(ctx, &rows, query, userUUID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListReleases", "release", "", err.Error(), err)
	}

	releases := make([]domain.Release, 0, len(rows))
	for _, row := range rows {
		release, err := rowToRelease(&row)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *release)
	}

	return releases, nil
}

func saveReleaseConfig(ctx context.Context, exec executor, cfg *domain.ReleaseConfig) error {
	release, err := getRelease(ctx, exec, cfg.ReleaseID)
	if err != nil {
		return err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	cfg.Version = release.Version + 1
	cfg.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(cfg)
	if err != nil {
		return NewStoreError("SaveReleaseConfig", "release_config", cfg.ID, "failed to serialize config", ErrInvalidData)
	}

	query := `
		INSERT INTO release_configs (id, release_id, version, payload, created_at)
		VALUES (:id, :release_id, :version, :payload, :created_at)`

	row := map[string]any{
		"id":         cfg.ID,
		"release_id": cfg.ReleaseID,
		"version":    cfg.Version,
		"payload":    string(payload),
		"created_at": cfg.CreatedAt.Format(time.RFC3339),
	}
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("SaveReleaseConfig", "release_config", cfg.ID, err.Error(), err)
	}

	release.Version = cfg.Version
	release.UpdatedAt = time.Now().UTC()
	return updateRelease(ctx, exec, release)
}

func getReleaseConfig(ctx context.Context, exec executor, releaseID string) (*domain.ReleaseConfig, error) {
	query := `SELECT * FROM release_configs WHERE release_id = ? ORDER BY version DESC LIMIT 1`

	var row releaseConfigRow
	err := exec.GetContext(ctx, &row, query, releaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetReleaseConfig", "release_config", releaseID, "no saved configuration", ErrNotFound)
		}
		return nil, NewStoreError("GetReleaseConfig", "release_config", releaseID, err.Error(), err)
	}

	return rowToReleaseConfig(&row)
}

func getReleaseConfigVersion(ctx context.Context, exec executor, releaseID string, version int) (*domain.ReleaseConfig, error) {
	query := `SELECT * FROM release_configs WHERE release_id = ? AND version = ?`

	var row releaseConfigRow
	err := exec.GetContext(ctx, &row, query, releaseID, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetReleaseConfigVersion", "release_config", releaseID, "config version not found", ErrNotFound)
		}
		return nil, NewStoreError("GetReleaseConfigVersion", "release_config", releaseID, err.Error(), err)
	}

	return rowToReleaseConfig(&row)
}

func createDeployment(ctx context.Context, exec executor, record *domain.DeploymentRecord) error {
	var completedAt *string
	if record.CompletedAt != nil {
		s := record.CompletedAt.Format(time.RFC3339)
		completedAt = &s
	}

	query := `
		INSERT INTO deployments (
			id, release_id, user_uuid, status, r2_path, manifest_url,
			error_message, started_at, completed_at
		) VALUES (
			:id, :release_id, :user_uuid, :status, :r2_path, :manifest_url,
			:error_message, :started_at, :completed_at
		)`

	row := map[string]any{
		"id":            record.ID,
		"release_id":    record.ReleaseID,
		"user_uuid":     record.UserUUID,
		"status":        string(record.Status),
		"r2_path":       record.R2Path,
		"manifest_url":  record.ManifestURL,
		"error_message": record.ErrorMessage,
		"started_at":    record.StartedAt.Format(time.RFC3339),
		"completed_at":  completedAt,
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.id") {
			return NewStoreError("CreateDeployment", "deployment", record.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateDeployment", "deployment", record.ID, "release does not exist", ErrForeignKey)
		}
		return NewStoreError("CreateDeployment", "deployment", record.ID, err.Error(), err)
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.DeploymentRecord, error) {
	query := `SELECT * FROM deployments WHERE id = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func getCurrentDeployment(ctx context.Context, exec executor, releaseID string) (*domain.DeploymentRecord, error) {
	query := `SELECT * FROM deployments WHERE release_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, releaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetCurrentDeployment", "deployment", releaseID, "no deployments for release", ErrNotFound)
		}
		return nil, NewStoreError("GetCurrentDeployment", "deployment", releaseID, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func updateDeployment(ctx context.Context, exec executor, record *domain.DeploymentRecord) error {
	var completedAt *string
	if record.CompletedAt != nil {
		s := record.CompletedAt.Format(time.RFC3339)
		completedAt = &s
	}

	query := `
		UPDATE deployments SET
			status = :status,
			r2_path = :r2_path,
			manifest_url = :manifest_url,
			error_message = :error_message,
			completed_at = :completed_at
		WHERE id = :id`

	row := map[string]any{
		"id":            record.ID,
		"status":        string(record.Status),
		"r2_path":       record.R2Path,
		"manifest_url":  record.ManifestURL,
		"error_message": record.ErrorMessage,
		"completed_at":  completedAt,
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", record.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeployment", "deployment", record.ID, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, releaseID string, opts ListOptions) ([]domain.DeploymentRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments WHERE release_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query, releaseID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	records := make([]domain.DeploymentRecord, 0, len(rows))
	for _, row := range rows {
		record, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, nil
}

func saveSettings(ctx context.Context, exec executor, settings *domain.Settings) error {
	var tailscale *string
	if settings.Tailscale != nil {
		data, err := json.Marshal(settings.Tailscale)
		if err != nil {
			return NewStoreError("SaveSettings", "settings", settings.UserUUID, "failed to serialize tailscale config", ErrInvalidData)
		}
		s := string(data)
		tailscale = &s
	}

	query := `
		INSERT INTO settings (user_uuid, tailscale) VALUES (:user_uuid, :tailscale)
		ON CONFLICT (user_uuid) DO UPDATE SET tailscale = :tailscale`

	row := map[string]any{
		"user_uuid": settings.UserUUID,
		"tailscale": tailscale,
	}
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("SaveSettings", "settings", settings.UserUUID, err.Error(), err)
	}

	return nil
}

func getSettings(ctx context.Context, exec executor, userUUID string) (*domain.Settings, error) {
	query := `SELECT tailscale FROM settings WHERE user_uuid = ?`

	var tailscale *string
	err := exec.GetContext(ctx, &tailscale, query, userUUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetSettings", "settings", userUUID, "settings not found", ErrNotFound)
		}
		return nil, NewStoreError("GetSettings", "settings", userUUID, err.Error(), err)
	}

	settings := &domain.Settings{UserUUID: userUUID}
	if tailscale != nil {
		var ts domain.TailscaleConfig
		if err := json.Unmarshal([]byte(*tailscale), &ts); err != nil {
			return nil, NewStoreError("GetSettings", "settings", userUUID, "failed to deserialize tailscale config", ErrInvalidData)
		}
		settings.Tailscale = &ts
	}

	return settings, nil
}

func saveSecret(ctx context.Context, exec executor, userUUID string, secret domain.Secret) error {
	query := `
		INSERT INTO secrets (user_uuid, name, value) VALUES (:user_uuid, :name, :value)
		ON CONFLICT (user_uuid, name) DO UPDATE SET value = :value`

	row := map[string]any{
		"user_uuid": userUUID,
		"name":      secret.Name,
		"value":     secret.Value,
	}
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("SaveSecret", "secret", secret.Name, err.Error(), err)
	}

	return nil
}

func deleteSecret(ctx context.Context, exec executor, userUUID, name string) error {
	query := `DELETE FROM secrets WHERE user_uuid = ? AND name = ?`

	result, err := exec.ExecContext(ctx, query, userUUID, name)
	if err != nil {
		return NewStoreError("DeleteSecret", "secret", name, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteSecret", "secret", name, "secret not found", ErrNotFound)
	}

	return nil
}

func listSecrets(ctx context.Context, exec executor, userUUID string) ([]domain.Secret, error) {
	query := `SELECT name, value FROM secrets WHERE user_uuid = ? ORDER BY name`

	var rows []struct {
		Name  string `db:"name"`
		Value string `db:"value"`
	}
	if err := exec.SelectContext(ctx, &rows, query, userUUID); err != nil {
		return nil, NewStoreError("ListSecrets", "secret", "", err.Error(), err)
	}

	secrets := make([]domain.Secret, 0, len(rows))
	for _, row := range rows {
		secrets = append(secrets, domain.Secret{Name: row.Name, Value: row.Value})
	}

	return secrets, nil
}

func saveMarketplaceConfig(ctx context.Context, exec executor, releaseID, composeYAML string) error {
	query := `
		INSERT INTO marketplace_configs (release_id, compose_yaml, updated_at)
		VALUES (:release_id, :compose_yaml, :updated_at)
		ON CONFLICT (release_id) DO UPDATE SET compose_yaml = :compose_yaml, updated_at = :updated_at`

	row := map[string]any{
		"release_id":   releaseID,
		"compose_yaml": composeYAML,
		"updated_at":   time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("SaveMarketplaceConfig", "marketplace_config", releaseID, "release does not exist", ErrForeignKey)
		}
		return NewStoreError("SaveMarketplaceConfig", "marketplace_config", releaseID, err.Error(), err)
	}

	return nil
}

func getMarketplaceConfig(ctx context.Context, exec executor, releaseID string) (string, error) {
	query := `SELECT compose_yaml FROM marketplace_configs WHERE release_id = ?`

	var composeYAML string
	err := exec.GetContext(ctx, &composeYAML, query, releaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", NewStoreError("GetMarketplaceConfig", "marketplace_config", releaseID, "no marketplace config", ErrNotFound)
		}
		return "", NewStoreError("GetMarketplaceConfig", "marketplace_config", releaseID, err.Error(), err)
	}

	return composeYAML, nil
}

func deleteMarketplaceConfig(ctx context.Context, exec executor, releaseID string) error {
	query := `DELETE FROM marketplace_configs WHERE release_id = ?`

	result, err := exec.ExecContext(ctx, query, releaseID)
	if err != nil {
		return NewStoreError("DeleteMarketplaceConfig", "marketplace_config", releaseID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteMarketplaceConfig", "marketplace_config", releaseID, "no marketplace config", ErrNotFound)
	}

	return nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func rowToRelease(row *releaseRow) (*domain.Release, error) {
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRelease", "release", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRelease", "release", row.ID, "invalid updated_at", ErrInvalidData)
	}

	return &domain.Release{
		ID:        row.ID,
		UserUUID:  row.UserUUID,
		Name:      row.Name,
		Version:   row.Version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func rowToReleaseConfig(row *releaseConfigRow) (*domain.ReleaseConfig, error) {
	var cfg domain.ReleaseConfig
	if err := json.Unmarshal([]byte(row.Payload), &cfg); err != nil {
		return nil, NewStoreError("rowToReleaseConfig", "release_config", row.ID, "failed to deserialize config", ErrInvalidData)
	}

	// The columns are authoritative over the payload copy.
	cfg.ID = row.ID
	cfg.ReleaseID = row.ReleaseID
	cfg.Version = row.Version
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToReleaseConfig", "release_config", row.ID, "invalid created_at", ErrInvalidData)
	}
	cfg.CreatedAt = createdAt

	return &cfg, nil
}

func rowToDeployment(row *deploymentRow) (*domain.DeploymentRecord, error) {
	startedAt, err := time.Parse(time.RFC3339, row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid started_at", ErrInvalidData)
	}

	record := &domain.DeploymentRecord{
		ID:           row.ID,
		ReleaseID:    row.ReleaseID,
		UserUUID:     row.UserUUID,
		Status:       domain.DeploymentStatus(row.Status),
		R2Path:       row.R2Path,
		ManifestURL:  row.ManifestURL,
		ErrorMessage: row.ErrorMessage,
		StartedAt:    startedAt,
	}

	if row.CompletedAt != nil {
		completedAt, err := time.Parse(time.RFC3339, *row.CompletedAt)
		if err != nil {
			return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid completed_at", ErrInvalidData)
		}
		record.CompletedAt = &completedAt
	}

	return record, nil
}
