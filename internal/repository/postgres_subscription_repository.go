package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/models"
)

// PgxQuerier is satisfied by *pgxpool.Pool and pgxmock pools.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const recordColumns = "country_code, identification_code, subscriber_number, e164_format, confirmation_code, subscription_status"

type PostgresSubscriptionRepository struct {
	db     PgxQuerier
	tracer trace.Tracer
	table  string

	findQuery   string
	insertQuery string
	updateQuery string
	deleteQuery string
	listQuery   string
}

var _ SubscriptionRepository = (*PostgresSubscriptionRepository)(nil)

func NewPostgresSubscriptionRepository(db PgxQuerier, table string) *PostgresSubscriptionRepository {
	quoted := pgx.Identifier{table}.Sanitize()
	return &PostgresSubscriptionRepository{
		db:          db,
		tracer:      otel.Tracer("postgres.repository"),
		table:       table,
		findQuery:   fmt.Sprintf("SELECT %s FROM %s WHERE e164_format = $1", recordColumns, quoted),
		insertQuery: fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6)", quoted, recordColumns),
		updateQuery: fmt.Sprintf("UPDATE %s SET subscription_status = $2 WHERE e164_format = $1", quoted),
		deleteQuery: fmt.Sprintf("DELETE FROM %s WHERE e164_format = $1", quoted),
		listQuery:   fmt.Sprintf("SELECT %s FROM %s WHERE subscription_status ~* $1", recordColumns, quoted),
	}
}

func (r *PostgresSubscriptionRepository) find(ctx context.Context, e164 string) (*models.SubscriptionRecord, error) {
	rows, err := r.db.Query(ctx, r.findQuery, e164)
	if err != nil {
		return nil, &models.StoreError{Op: "get", Key: e164, Err: fmt.Errorf("failed to call database: %w", err)}
	}
	record, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[models.SubscriptionRecord])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrRecordNotFound
		}
		return nil, &models.StoreError{Op: "get", Key: e164, Err: fmt.Errorf("failed to call database: %w", err)}
	}
	return &record, nil
}

func (r *PostgresSubscriptionRepository) FindByKey(ctx context.Context, e164 string) (*models.SubscriptionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.find_by_key",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "database.read"),
			attribute.String("db.table", r.table),
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

func (r *PostgresSubscriptionRepository) CreateIfAbsent(ctx context.Context, record *models.SubscriptionRecord) (*models.SubscriptionRecord, bool, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.create_if_absent",
		trace.WithAttributes(
			attribute.String("subscription.e164", record.E164Format),
			attribute.String("operation", "database.write"),
			attribute.String("db.table", r.table),
		))
	defer span.End()

	_, err := r.db.Exec(ctx, r.insertQuery,
		record.CountryCode,
		record.IdentificationCode,
		record.SubscriberNumber,
		record.E164Format,
		record.ConfirmationCode,
		string(record.SubscriptionStatus),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			existing, findErr := r.find(ctx, record.E164Format)
			if findErr != nil {
				span.RecordError(findErr)
				if errors.Is(findErr, models.ErrRecordNotFound) {
					// deleted again between the conflict and the read
					return nil, false, &models.StoreError{Op: "create", Key: record.E164Format, Err: findErr}
				}
				return nil, false, findErr
			}
			span.SetAttributes(attribute.Bool("created", false), attribute.Bool("race", true))
			return existing, false, nil
		}
		span.RecordError(err)
		return nil, false, &models.StoreError{Op: "create", Key: record.E164Format, Err: fmt.Errorf("failed to insert record: %w", err)}
	}

	span.SetAttributes(attribute.Bool("created", true))
	stored := *record
	return &stored, true, nil
}

func (r *PostgresSubscriptionRepository) SetStatus(ctx context.Context, e164 string, status models.SubscriptionStatus) error {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.set_status",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("subscription.status", string(status)),
			attribute.String("operation", "database.write"),
			attribute.String("db.table", r.table),
		))
	defer span.End()

	tag, err := r.db.Exec(ctx, r.updateQuery, e164, string(status))
	if err != nil {
		span.RecordError(err)
		return &models.StoreError{Op: "set_status", Key: e164, Err: fmt.Errorf("failed to update record: %w", err)}
	}
	if tag.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("found", false))
		return models.ErrRecordNotFound
	}

	span.SetAttributes(attribute.Bool("success", true))
	return nil
}

func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, e164 string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.delete",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "database.delete"),
			attribute.String("db.table", r.table),
		))
	defer span.End()

	tag, err := r.db.Exec(ctx, r.deleteQuery, e164)
	if err != nil {
		span.RecordError(err)
		return false, &models.StoreError{Op: "delete", Key: e164, Err: fmt.Errorf("failed to delete record: %w", err)}
	}

	deleted := tag.RowsAffected() > 0
	span.SetAttributes(attribute.Bool("deleted", deleted))
	return deleted, nil
}

func (r *PostgresSubscriptionRepository) ListByStatus(ctx context.Context, status models.SubscriptionStatus) ([]*models.SubscriptionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.list_by_status",
		trace.WithAttributes(
			attribute.String("subscription.status", string(status)),
			attribute.String("operation", "database.read"),
			attribute.String("db.table", r.table),
		))
	defer span.End()

	rows, err := r.db.Query(ctx, r.listQuery, "^"+regexp.QuoteMeta(string(status))+"$")
	if err != nil {
		span.RecordError(err)
		return nil, &models.StoreError{Op: "list", Err: fmt.Errorf("failed to call database: %w", err)}
	}
	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.SubscriptionRecord])
	if err != nil {
		span.RecordError(err)
		return nil, &models.StoreError{Op: "list", Err: fmt.Errorf("failed to call database: %w", err)}
	}

	span.SetAttributes(attribute.Int("subscription.count", len(records)))
	return records, nil
}
