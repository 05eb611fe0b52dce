package repository

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smsalert/internal/models"
)

// SubscriptionRepository is the record store. Implementations must make
// CreateIfAbsent atomic and resolve unique-key races by re-reading.
type SubscriptionRepository interface {
	FindByKey(ctx context.Context, e164 string) (*models.SubscriptionRecord, error)
	CreateIfAbsent(ctx context.Context, record *models.SubscriptionRecord) (*models.SubscriptionRecord, bool, error)
	SetStatus(ctx context.Context, e164 string, status models.SubscriptionStatus) error
	Delete(ctx context.Context, e164 string) (bool, error)
	ListByStatus(ctx context.Context, status models.SubscriptionStatus) ([]*models.SubscriptionRecord, error)
}

type InMemorySubscriptionRepository struct {
	mu      sync.RWMutex
	records map[string]models.SubscriptionRecord
	tracer  trace.Tracer
}

var _ SubscriptionRepository = (*InMemorySubscriptionRepository)(nil)

func NewInMemorySubscriptionRepository() *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		records: make(map[string]models.SubscriptionRecord),
		tracer:  otel.Tracer("subscription-repository"),
	}
}

func (r *InMemorySubscriptionRepository) FindByKey(ctx context.Context, e164 string) (*models.SubscriptionRecord, error) {
	_, span := r.tracer.Start(ctx, "subscription.repository.find_by_key",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "database.read"),
		))
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[e164]
	if !exists {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, models.ErrRecordNotFound
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &record, nil
}

func (r *InMemorySubscriptionRepository) CreateIfAbsent(ctx context.Context, record *models.SubscriptionRecord) (*models.SubscriptionRecord, bool, error) {
	_, span := r.tracer.Start(ctx, "subscription.repository.create_if_absent",
		trace.WithAttributes(
			attribute.String("subscription.e164", record.E164Format),
			attribute.String("subscription.status", string(record.SubscriptionStatus)),
			attribute.String("operation", "database.write"),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.records[record.E164Format]; exists {
		span.SetAttributes(attribute.Bool("created", false))
		return &existing, false, nil
	}

	stored := *record
	r.records[record.E164Format] = stored
	span.SetAttributes(attribute.Bool("created", true))
	return &stored, true, nil
}

func (r *InMemorySubscriptionRepository) SetStatus(ctx context.Context, e164 string, status models.SubscriptionStatus) error {
	_, span := r.tracer.Start(ctx, "subscription.repository.set_status",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("subscription.status", string(status)),
			attribute.String("operation", "database.write"),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[e164]
	if !exists {
		span.SetAttributes(attribute.Bool("found", false))
		return models.ErrRecordNotFound
	}

	record.SubscriptionStatus = status
	r.records[e164] = record
	span.SetAttributes(attribute.Bool("success", true))
	return nil
}

func (r *InMemorySubscriptionRepository) Delete(ctx context.Context, e164 string) (bool, error) {
	_, span := r.tracer.Start(ctx, "subscription.repository.delete",
		trace.WithAttributes(
			attribute.String("subscription.e164", e164),
			attribute.String("operation", "database.write"),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.records[e164]
	delete(r.records, e164)

	span.SetAttributes(attribute.Bool("deleted", exists))
	return exists, nil
}

func (r *InMemorySubscriptionRepository) ListByStatus(ctx context.Context, status models.SubscriptionStatus) ([]*models.SubscriptionRecord, error) {
	_, span := r.tracer.Start(ctx, "subscription.repository.list_by_status",
		trace.WithAttributes(
			attribute.String("subscription.status", string(status)),
			attribute.String("operation", "database.read"),
		))
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*models.SubscriptionRecord, 0, len(r.records))
	for _, record := range r.records {
		if strings.EqualFold(string(record.SubscriptionStatus), string(status)) {
			record := record
			records = append(records, &record)
		}
	}

	span.SetAttributes(attribute.Int("subscription.count", len(records)))
	return records, nil
}
