package repository_test

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock/v4"

	"smsalert/internal/models"
	"smsalert/internal/repository"
)

var columns = []string{"country_code", "identification_code", "subscriber_number", "e164_format", "confirmation_code", "subscription_status"}

var _ = Describe("PostgresSubscriptionRepository", func() {
	var (
		mock pgxmock.PgxPoolIface
		repo *repository.PostgresSubscriptionRepository
		ctx  context.Context
	)

	const e164 = "+14151234567"

	BeforeEach(func() {
		var err error
		mock, err = pgxmock.NewPool()
		Expect(err).NotTo(HaveOccurred())

		repo = repository.NewPostgresSubscriptionRepository(mock, "phone_numbers")
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
		mock.Close()
	})

	Describe("FindByKey", func() {
		It("returns the stored record", func() {
			mock.ExpectQuery(`SELECT (.+) FROM "phone_numbers" WHERE e164_format`).
				WithArgs(e164).
				WillReturnRows(pgxmock.NewRows(columns).AddRow("1", "415", "1234567", e164, "abc123", "Subscribed"))

			record, err := repo.FindByKey(ctx, e164)
			Expect(err).NotTo(HaveOccurred())
			Expect(record.E164Format).To(Equal(e164))
			Expect(record.SubscriptionStatus.Is(models.StatusSubscribed)).To(BeTrue())
		})

		It("reports absence with ErrRecordNotFound", func() {
			mock.ExpectQuery(`SELECT (.+) FROM "phone_numbers"`).
				WithArgs(e164).
				WillReturnRows(pgxmock.NewRows(columns))

			_, err := repo.FindByKey(ctx, e164)
			Expect(err).To(MatchError(models.ErrRecordNotFound))
		})

		It("wraps driver failures in a StoreError", func() {
			mock.ExpectQuery(`SELECT (.+) FROM "phone_numbers"`).
				WithArgs(e164).
				WillReturnError(errors.New("connection refused"))

			_, err := repo.FindByKey(ctx, e164)
			var storeErr *models.StoreError
			Expect(errors.As(err, &storeErr)).To(BeTrue())
		})
	})

	Describe("CreateIfAbsent", func() {
		var record *models.SubscriptionRecord

		BeforeEach(func() {
			record = &models.SubscriptionRecord{
				CountryCode:        "1",
				IdentificationCode: "415",
				SubscriberNumber:   "1234567",
				E164Format:         e164,
				ConfirmationCode:   "abc123",
				SubscriptionStatus: models.StatusPending,
			}
		})

		It("inserts a new record", func() {
			mock.ExpectExec(`INSERT INTO "phone_numbers"`).
				WithArgs("1", "415", "1234567", e164, "abc123", "pending").
				WillReturnResult(pgxmock.NewResult("INSERT", 1))

			stored, created, err := repo.CreateIfAbsent(ctx, record)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(stored.E164Format).To(Equal(e164))
		})

		When("a concurrent insert won the race", func() {
			It("re-reads and returns the existing record", func() {
				mock.ExpectExec(`INSERT INTO "phone_numbers"`).
					WithArgs("1", "415", "1234567", e164, "abc123", "pending").
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
				mock.ExpectQuery(`SELECT (.+) FROM "phone_numbers"`).
					WithArgs(e164).
					WillReturnRows(pgxmock.NewRows(columns).AddRow("1", "415", "1234567", e164, "zzz999", "subscribed"))

				stored, created, err := repo.CreateIfAbsent(ctx, record)
				Expect(err).NotTo(HaveOccurred())
				Expect(created).To(BeFalse())
				Expect(stored.ConfirmationCode).To(Equal("zzz999"))
				Expect(stored.SubscriptionStatus).To(Equal(models.StatusSubscribed))
			})
		})

		It("surfaces other failures as StoreError", func() {
			mock.ExpectExec(`INSERT INTO "phone_numbers"`).
				WithArgs("1", "415", "1234567", e164, "abc123", "pending").
				WillReturnError(&pgconn.PgError{Code: pgerrcode.CheckViolation})

			_, _, err := repo.CreateIfAbsent(ctx, record)
			var storeErr *models.StoreError
			Expect(errors.As(err, &storeErr)).To(BeTrue())
			Expect(storeErr.Op).To(Equal("create"))
		})
	})

	Describe("SetStatus", func() {
		It("updates the status", func() {
			mock.ExpectExec(`UPDATE "phone_numbers" SET subscription_status`).
				WithArgs(e164, "subscribed").
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))

			Expect(repo.SetStatus(ctx, e164, models.StatusSubscribed)).To(Succeed())
		})

		It("reports a missing record", func() {
			mock.ExpectExec(`UPDATE "phone_numbers"`).
				WithArgs(e164, "subscribed").
				WillReturnResult(pgxmock.NewResult("UPDATE", 0))

			Expect(repo.SetStatus(ctx, e164, models.StatusSubscribed)).To(MatchError(models.ErrRecordNotFound))
		})
	})

	Describe("Delete", func() {
		It("removes at most one record", func() {
			mock.ExpectExec(`DELETE FROM "phone_numbers"`).
				WithArgs(e164).
				WillReturnResult(pgxmock.NewResult("DELETE", 1))

			deleted, err := repo.Delete(ctx, e164)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())
		})

		It("is a no-op when absent", func() {
			mock.ExpectExec(`DELETE FROM "phone_numbers"`).
				WithArgs(e164).
				WillReturnResult(pgxmock.NewResult("DELETE", 0))

			deleted, err := repo.Delete(ctx, e164)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeFalse())
		})
	})

	Describe("ListByStatus", func() {
		It("matches the status case-insensitively", func() {
			mock.ExpectQuery(`SELECT (.+) FROM "phone_numbers" WHERE subscription_status ~\*`).
				WithArgs("^subscribed$").
				WillReturnRows(pgxmock.NewRows(columns).
					AddRow("1", "415", "1111111", "+14151111111", "a1", "subscribed").
					AddRow("1", "415", "2222222", "+14152222222", "b2", "SUBSCRIBED"))

			records, err := repo.ListByStatus(ctx, models.StatusSubscribed)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})
	})
})
