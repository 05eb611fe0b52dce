package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	dapr "github.com/dapr/go-sdk/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/models"
)

// DaprStateClient is the subset of dapr.Client the repository uses.
type DaprStateClient interface {
	GetState(ctx context.Context, storeName, key string, meta map[string]string) (*dapr.StateItem, error)
	SaveStateWithETag(ctx context.Context, storeName, key string, data []byte, etag string, meta map[string]string, so ...dapr.StateOption) error
	DeleteState(ctx context.Context, storeName, key string, meta map[string]string) error
	QueryStateAlpha1(ctx context.Context, storeName, query string, meta map[string]string) (*dapr.QueryResponse, error)
}

const daprSetStatusAttempts = 3

var jsonContentType = map[string]string{"contentType": "application/json"}

type DaprSubscriptionRepository struct {
	client    DaprStateClient
	tracer    trace.Tracer
	storeName string
}

var _ SubscriptionRepository = (*DaprSubscriptionRepository)(nil)

func NewDaprSubscriptionRepository(client DaprStateClient, storeName string) *DaprSubscriptionRepository {
	return &DaprSubscriptionRepository{
		client:    client,
		tracer:    otel.Tracer("dapr.repository"),
		storeName: storeName,
	}
}

func (r *DaprSubscriptionRepository) get(ctx context.Context, e164 string) (*models.SubscriptionRecord, string, error) {
	item, err := r.client.GetState(ctx, r.storeName, e164, nil)
	if err != nil {
		return nil, "", &models.StoreError{Op: "get", Key: e164, Err: fmt.Errorf("failed to get record from dapr state store: %w", err)}
	}
	if item == nil || len(item.Value) == 0 {
		return nil, "", models.ErrRecordNotFound
	}

	var record models.SubscriptionRecord
	if err := json.Unmarshal(item.Value, &record); err != nil {
		return nil, "", &models.StoreError{Op: "get", Key: e164, Err: fmt.Errorf("failed to unmarshal record: %w", err)}
	}
	return &record, item.Etag, nil
}

func (r *DaprSubscriptionRepository) FindByKey(ctx context.Context, e164 string) (*models.SubscriptionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.find_by_key",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "database.read"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	record, _, err := r.get(ctx, e164)
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

// CreateIfAbsent saves with first-write concurrency and no ETag, which the
// state store treats as insert-only. A rejected save is resolved by reading
// back whatever record won.
func (r *DaprSubscriptionRepository) CreateIfAbsent(ctx context.Context, record *models.SubscriptionRecord) (*models.SubscriptionRecord, bool, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.create_if_absent",
		trace.WithAttributes(
			attribute.String("subscription.e164", record.E164Format),
			attribute.String("operation", "database.write"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	existing, _, err := r.get(ctx, record.E164Format)
	if err == nil {
		span.SetAttributes(attribute.Bool("created", false))
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrRecordNotFound) {
		span.RecordError(err)
		return nil, false, err
	}

	data, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		return nil, false, &models.StoreError{Op: "create", Key: record.E164Format, Err: fmt.Errorf("failed to marshal record: %w", err)}
	}

	saveErr := r.client.SaveStateWithETag(ctx, r.storeName, record.E164Format, data, "", jsonContentType,
		dapr.WithConcurrency(dapr.StateConcurrencyFirstWrite),
		dapr.WithConsistency(dapr.StateConsistencyStrong))
	if saveErr != nil {
		winner, _, err := r.get(ctx, record.E164Format)
		if err == nil {
			span.SetAttributes(attribute.Bool("created", false), attribute.Bool("race", true))
			return winner, false, nil
		}
		span.RecordError(saveErr)
		return nil, false, &models.StoreError{Op: "create", Key: record.E164Format, Err: fmt.Errorf("failed to save record to dapr state store: %w", saveErr)}
	}

	span.SetAttributes(attribute.Bool("created", true))
	stored := *record
	return &stored, true, nil
}

func (r *DaprSubscriptionRepository) SetStatus(ctx context.Context, e164 string, status models.SubscriptionStatus) error {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.set_status",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("subscription.status", string(status)),
			attribute.String("operation", "database.write"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < daprSetStatusAttempts; attempt++ {
		record, etag, err := r.get(ctx, e164)
		if err != nil {
			if !errors.Is(err, models.ErrRecordNotFound) {
				span.RecordError(err)
			}
			return err
		}

		record.SubscriptionStatus = status
		data, err := json.Marshal(record)
		if err != nil {
			span.RecordError(err)
			return &models.StoreError{Op: "set_status", Key: e164, Err: fmt.Errorf("failed to marshal record: %w", err)}
		}

		lastErr = r.client.SaveStateWithETag(ctx, r.storeName, e164, data, etag, jsonContentType,
			dapr.WithConcurrency(dapr.StateConcurrencyFirstWrite),
			dapr.WithConsistency(dapr.StateConsistencyStrong))
		if lastErr == nil {
			span.SetAttributes(attribute.Bool("success", true), attribute.Int("attempts", attempt+1))
			return nil
		}
	}

	span.RecordError(lastErr)
	return &models.StoreError{Op: "set_status", Key: e164, Err: fmt.Errorf("failed to update record in dapr state store: %w", lastErr)}
}

func (r *DaprSubscriptionRepository) Delete(ctx context.Context, e164 string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.delete",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "database.delete"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	_, _, err := r.get(ctx, e164)
	if errors.Is(err, models.ErrRecordNotFound) {
		span.SetAttributes(attribute.Bool("deleted", false))
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	if err := r.client.DeleteState(ctx, r.storeName, e164, nil); err != nil {
		span.RecordError(err)
		return false, &models.StoreError{Op: "delete", Key: e164, Err: fmt.Errorf("failed to delete record from dapr state store: %w", err)}
	}

	span.SetAttributes(attribute.Bool("deleted", true))
	return true, nil
}

// ListByStatus needs a state store component that supports the query API.
func (r *DaprSubscriptionRepository) ListByStatus(ctx context.Context, status models.SubscriptionStatus) ([]*models.SubscriptionRecord, error) {
	ctx, span := r.tracer.Start(ctx, "subscription.repository.list_by_status",
		trace.WithAttributes(
			attribute.String("subscription.status", string(status)),
			attribute.String("operation", "database.read"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	query, err := json.Marshal(map[string]any{
		"filter": map[string]any{
			"EQ": map[string]string{"subscription_status": string(status)},
		},
	})
	if err != nil {
		span.RecordError(err)
		return nil, &models.StoreError{Op: "list", Err: err}
	}

	resp, err := r.client.QueryStateAlpha1(ctx, r.storeName, string(query), jsonContentType)
	if err != nil {
		span.RecordError(err)
		return nil, &models.StoreError{Op: "list", Err: fmt.Errorf("failed to query dapr state store: %w", err)}
	}

	records := make([]*models.SubscriptionRecord, 0, len(resp.Results))
	for _, item := range resp.Results {
		if item.Error != "" {
			continue
		}
		var record models.SubscriptionRecord
		if err := json.Unmarshal(item.Value, &record); err != nil {
			span.RecordError(err)
			return nil, &models.StoreError{Op: "list", Key: item.Key, Err: fmt.Errorf("failed to unmarshal record: %w", err)}
		}
		records = append(records, &record)
	}

	span.SetAttributes(attribute.Int("subscription.count", len(records)))
	return records, nil
}
