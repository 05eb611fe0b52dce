package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/models"
)

//go:embed schema.sql
var sqliteSchema string

const (
	sqliteFindQuery   = `SELECT ` + recordColumns + ` FROM phone_numbers WHERE e164_format = ?`
	sqliteInsertQuery = `INSERT INTO phone_numbers (` + recordColumns + `)
		VALUES (:country_code, :identification_code, :subscriber_number, :e164_format, :confirmation_code, :subscription_status)`
	sqliteUpdateQuery = `UPDATE phone_numbers SET subscription_status = ? WHERE e164_format = ?`
	sqliteDeleteQuery = `DELETE FROM phone_numbers WHERE e164_format = ?`
	sqliteListQuery   = `SELECT ` + recordColumns + ` FROM phone_numbers WHERE subscription_status = ? COLLATE NOCASE`
)

// SQLiteSubscriptionRepository is meant for local development and single
// instance deployments.
type SQLiteSubscriptionRepository struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

var _ SubscriptionRepository = (*SQLiteSubscriptionRepository)(nil)

// OpenSQLite opens (creating if needed) the database file and applies the
// schema. SQLite allows one writer, so the pool is limited to a single
// connection.
func OpenSQLite(path string) (*SQLiteSubscriptionRepository, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteSubscriptionRepository{
		db:     db,
		tracer: otel.Tracer("sqlite.repository"),
	}, nil
}

func (r *SQLiteSubscriptionRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteSubscriptionRepository) find(ctx context.Context, e164 string) (*models.SubscriptionRecord, error) {
	var record models.SubscriptionRecord
	if err := r.db.GetContext(ctx, &record, sqliteFindQuery, e164); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRecordNotFound
		}
		return nil, &models.StoreError{Op: "get", Key: e164, Err: err}
	}
	return &record, nil
}

func (r *SQLiteSubscriptionRepository) FindByKey(ctx context.Context, e164 string) (*models.SubscriptionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.find_by_key",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "database.read"),
		))
	defer span.End()

	record, err := r.find(ctx, e164)
	if err != nil {
		if !errors.Is(err, models.ErrRecordNotFound) {
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Bool("found", false))
		return nil, err
	}

	span.SetAttributes(attribute.Bool("found", true))
	return record, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (r *SQLiteSubscriptionRepository) CreateIfAbsent(ctx context.Context, record *models.SubscriptionRecord) (*models.SubscriptionRecord, bool, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.create_if_absent",
		trace.WithAttributes(
			attribute.String("subscription.e164", record.E164Format),
			attribute.String("operation", "database.write"),
		))
	defer span.End()

	if _, err := r.db.NamedExecContext(ctx, sqliteInsertQuery, record); err != nil {
		if isSQLiteUniqueViolation(err) {
			existing, findErr := r.find(ctx, record.E164Format)
			if findErr != nil {
				span.RecordError(findErr)
				if errors.Is(findErr, models.ErrRecordNotFound) {
					return nil, false, &models.StoreError{Op: "create", Key: record.E164Format, Err: findErr}
				}
				return nil, false, findErr
			}
			span.SetAttributes(attribute.Bool("created", false), attribute.Bool("race", true))
			return existing, false, nil
		}
		span.RecordError(err)
		return nil, false, &models.StoreError{Op: "create", Key: record.E164Format, Err: err}
	}

	span.SetAttributes(attribute.Bool("created", true))
	stored := *record
	return &stored, true, nil
}

func (r *SQLiteSubscriptionRepository) SetStatus(ctx context.Context, e164 string, status models.SubscriptionStatus) error {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.set_status",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("subscription.status", string(status)),
			attribute.String("operation", "database.write"),
		))
	defer span.End()

	result, err := r.db.ExecContext(ctx, sqliteUpdateQuery, string(status), e164)
	if err != nil {
		span.RecordError(err)
		return &models.StoreError{Op: "set_status", Key: e164, Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return &models.StoreError{Op: "set_status", Key: e164, Err: err}
	}
	if n == 0 {
		span.SetAttributes(attribute.Bool("found", false))
		return models.ErrRecordNotFound
	}

	span.SetAttributes(attribute.Bool("success", true))
	return nil
}

func (r *SQLiteSubscriptionRepository) Delete(ctx context.Context, e164 string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.delete",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "database.delete"),
		))
	defer span.End()

	result, err := r.db.ExecContext(ctx, sqliteDeleteQuery, e164)
	if err != nil {
		span.RecordError(err)
		return false, &models.StoreError{Op: "delete", Key: e164, Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return false, &models.StoreError{Op: "delete", Key: e164, Err: err}
	}

	span.SetAttributes(attribute.Bool("deleted", n > 0))
	return n > 0, nil
}

func (r *SQLiteSubscriptionRepository) ListByStatus(ctx context.Context, status models.SubscriptionStatus) ([]*models.SubscriptionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.list_by_status",
		trace.WithAttributes(
			attribute.String("subscription.status", string(status)),
			attribute.String("operation", "database.read"),
		))
	defer span.End()

	var records []*models.SubscriptionRecord
	if err := r.db.SelectContext(ctx, &records, sqliteListQuery, string(status)); err != nil {
		span.RecordError(err)
		return nil, &models.StoreError{Op: "list", Err: err}
	}

	span.SetAttributes(attribute.Int("subscription.count", len(records)))
	return records, nil
}
