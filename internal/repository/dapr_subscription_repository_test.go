package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsalert/internal/models"
)

var errETagMismatch = errors.New("possible etag mismatch")

type fakeDaprState struct {
	mu      sync.Mutex
	items   map[string][]byte
	etags   map[string]int
	version int
}

func newFakeDaprState() *fakeDaprState {
	return &fakeDaprState{items: map[string][]byte{}, etags: map[string]int{}}
}

func (f *fakeDaprState) GetState(_ context.Context, _, key string, _ map[string]string) (*dapr.StateItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.items[key]
	if !ok {
		return &dapr.StateItem{Key: key}, nil
	}
	return &dapr.StateItem{Key: key, Value: value, Etag: strconv.Itoa(f.etags[key])}, nil
}

// SaveStateWithETag behaves like a first-write store: an empty ETag only
// inserts, a non-empty one must match the current version.
func (f *fakeDaprState) SaveStateWithETag(_ context.Context, _, key string, data []byte, etag string, _ map[string]string, _ ...dapr.StateOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists := f.items[key]
	if etag == "" && exists {
		return errETagMismatch
	}
	if etag != "" && (!exists || etag != strconv.Itoa(f.etags[key])) {
		return errETagMismatch
	}

	f.version++
	f.items[key] = data
	f.etags[key] = f.version
	return nil
}

func (f *fakeDaprState) DeleteState(_ context.Context, _, key string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.items, key)
	delete(f.etags, key)
	return nil
}

func (f *fakeDaprState) QueryStateAlpha1(_ context.Context, _, query string, _ map[string]string) (*dapr.QueryResponse, error) {
	var q struct {
		Filter struct {
			EQ map[string]string `json:"EQ"`
		} `json:"filter"`
	}
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	resp := &dapr.QueryResponse{}
	for key, value := range f.items {
		var record models.SubscriptionRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return nil, err
		}
		if string(record.SubscriptionStatus) == q.Filter.EQ["subscription_status"] {
			resp.Results = append(resp.Results, dapr.QueryItem{Key: key, Value: value})
		}
	}
	return resp, nil
}

func TestDaprSubscriptionRepository(t *testing.T) {
	runContractTests(t, func(t *testing.T) SubscriptionRepository {
		return NewDaprSubscriptionRepository(newFakeDaprState(), "statestore")
	})
}

type failingDaprState struct {
	*fakeDaprState
}

func (f failingDaprState) SaveStateWithETag(context.Context, string, string, []byte, string, map[string]string, ...dapr.StateOption) error {
	return errors.New("sidecar unavailable")
}

func TestDaprCreateSurfacesStoreError(t *testing.T) {
	repo := NewDaprSubscriptionRepository(failingDaprState{newFakeDaprState()}, "statestore")

	_, _, err := repo.CreateIfAbsent(context.Background(), newRecord("+14151234567", models.StatusPending))

	var storeErr *models.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "create", storeErr.Op)
}
