package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsalert/internal/models"
)

func newRecord(e164 string, status models.SubscriptionStatus) *models.SubscriptionRecord {
	parts, err := models.DecomposeE164(e164)
	if err != nil {
		panic(err)
	}
	return models.NewSubscriptionRecord(parts, status)
}

// runContractTests exercises the record store contract against any backend.
func runContractTests(t *testing.T, newRepo func(t *testing.T) SubscriptionRepository) {
	ctx := context.Background()

	t.Run("find missing record", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.FindByKey(ctx, "+14150000000")
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})

	t.Run("create then find", func(t *testing.T) {
		repo := newRepo(t)
		record := newRecord("+14151234567", models.StatusPending)

		stored, created, err := repo.CreateIfAbsent(ctx, record)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, record.E164Format, stored.E164Format)

		found, err := repo.FindByKey(ctx, record.E164Format)
		require.NoError(t, err)
		assert.Equal(t, *record, *found)
	})

	t.Run("create existing returns existing", func(t *testing.T) {
		repo := newRepo(t)
		first := newRecord("+14151234567", models.StatusSubscribed)
		_, _, err := repo.CreateIfAbsent(ctx, first)
		require.NoError(t, err)

		second := newRecord("+14151234567", models.StatusPending)
		stored, created, err := repo.CreateIfAbsent(ctx, second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, models.StatusSubscribed, stored.SubscriptionStatus)
		assert.Equal(t, first.ConfirmationCode, stored.ConfirmationCode)
	})

	t.Run("set status", func(t *testing.T) {
		repo := newRepo(t)
		record := newRecord("+14151234567", models.StatusPending)
		_, _, err := repo.CreateIfAbsent(ctx, record)
		require.NoError(t, err)

		require.NoError(t, repo.SetStatus(ctx, record.E164Format, models.StatusSubscribed))

		found, err := repo.FindByKey(ctx, record.E164Format)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSubscribed, found.SubscriptionStatus)
	})

	t.Run("set status on missing record", func(t *testing.T) {
		repo := newRepo(t)

		err := repo.SetStatus(ctx, "+14150000000", models.StatusSubscribed)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})

	t.Run("delete is a no-op when absent", func(t *testing.T) {
		repo := newRepo(t)
		record := newRecord("+14151234567", models.StatusSubscribed)
		_, _, err := repo.CreateIfAbsent(ctx, record)
		require.NoError(t, err)

		deleted, err := repo.Delete(ctx, record.E164Format)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, record.E164Format)
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = repo.FindByKey(ctx, record.E164Format)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})

	t.Run("list by status", func(t *testing.T) {
		repo := newRepo(t)
		for _, r := range []*models.SubscriptionRecord{
			newRecord("+14151111111", models.StatusSubscribed),
			newRecord("+14152222222", models.StatusPending),
			newRecord("+14153333333", models.StatusSubscribed),
		} {
			_, _, err := repo.CreateIfAbsent(ctx, r)
			require.NoError(t, err)
		}

		records, err := repo.ListByStatus(ctx, models.StatusSubscribed)
		require.NoError(t, err)

		numbers := make([]string, 0, len(records))
		for _, r := range records {
			numbers = append(numbers, r.E164Format)
		}
		assert.ElementsMatch(t, []string{"+14151111111", "+14153333333"}, numbers)
	})

	t.Run("concurrent creates persist one record", func(t *testing.T) {
		repo := newRepo(t)
		const callers = 8

		var wg sync.WaitGroup
		results := make([]*models.SubscriptionRecord, callers)
		created := make([]bool, callers)
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], created[i], errs[i] = repo.CreateIfAbsent(ctx, newRecord("+14151234567", models.StatusPending))
			}(i)
		}
		wg.Wait()

		createdCount := 0
		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			if created[i] {
				createdCount++
			}
			assert.Equal(t, results[0].ConfirmationCode, results[i].ConfirmationCode)
		}
		assert.Equal(t, 1, createdCount)

		records, err := repo.ListByStatus(ctx, models.StatusPending)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestInMemorySubscriptionRepository(t *testing.T) {
	runContractTests(t, func(t *testing.T) SubscriptionRepository {
		return NewInMemorySubscriptionRepository()
	})
}

func TestStoreErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&models.StoreError{Op: "get", Key: "+14151234567", Err: cause})

	var storeErr *models.StoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.ErrorIs(t, err, cause)
}
