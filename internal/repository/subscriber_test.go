package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/hearthline/waitlist/internal/model"
)

var subscriberColumnNames = []string{
	"id", "email", "name", "phone", "postal_code", "property_type", "monthly_heating_cost", "consent",
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "referrer",
	"risk_score", "risk_flags", "status", "token_hash", "token_expires_at", "verified_at",
	"created_at", "updated_at",
}

func newMockRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func subscriberRow(rows *pgxmock.Rows, id string, status model.VerificationStatus, created time.Time) *pgxmock.Rows {
	return rows.AddRow(
		id, id+"@example.com", "Ada", "", "M5V 3L9", model.PropertyHome, nil, true,
		"google", "cpc", "winter", "", "", "",
		25, "{FAST_SUBMIT}", status, "hash-"+id, created.Add(48*time.Hour), nil,
		created, created,
	)
}

func TestUpsertSubscriber_Inserted(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	now := time.Unix(1760000000, 0).UTC()
	sub := &model.Subscriber{
		ID:             "01JTEST",
		Email:          "ada@example.com",
		PropertyType:   model.PropertyHome,
		Status:         model.StatusPending,
		TokenHash:      "abc",
		TokenExpiresAt: now.Add(48 * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	mock.ExpectQuery("INSERT INTO subscribers").
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "created_at", "inserted"}).
			AddRow("01JTEST", model.StatusPending, now, true))

	inserted, err := repo.UpsertSubscriber(context.Background(), sub)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, "01JTEST", sub.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSubscriber_ExistingVerifiedKeepsStatus(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	now := time.Unix(1760000000, 0).UTC()
	earlier := now.Add(-24 * time.Hour)
	sub := &model.Subscriber{ID: "01JNEW", Email: "ada@example.com", Status: model.StatusPending, CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery("ON CONFLICT \\(email\\) DO UPDATE").
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "created_at", "inserted"}).
			AddRow("01JOLD", model.StatusVerified, earlier, false))

	inserted, err := repo.UpsertSubscriber(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, "01JOLD", sub.ID)
	require.Equal(t, model.StatusVerified, sub.Status)
	require.True(t, sub.CreatedAt.Equal(earlier))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSubscriber_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantIs  error
		wantMsg string
	}{
		{name: "duplicate id", err: &pgconn.PgError{Code: "23505"}, wantIs: ErrDuplicateID},
		{name: "other", err: errors.New("connection reset"), wantMsg: "failed to upsert subscriber"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo, mock := newMockRepository(t)
			mock.ExpectQuery("INSERT INTO subscribers").WillReturnError(tt.err)

			_, err := repo.UpsertSubscriber(context.Background(), &model.Subscriber{ID: "x"})
			require.Error(t, err)
			if tt.wantIs != nil {
				require.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantMsg != "" {
				require.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestFindByTokenHash(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	now := time.Unix(1760000000, 0).UTC()

	mock.ExpectQuery("FROM subscribers WHERE token_hash = \\$1").
		WithArgs("hash-01JA").
		WillReturnRows(subscriberRow(pgxmock.NewRows(subscriberColumnNames), "01JA", model.StatusPending, now))

	sub, err := repo.FindByTokenHash(context.Background(), "hash-01JA")
	require.NoError(t, err)
	require.Equal(t, "01JA", sub.ID)
	require.Equal(t, model.StatusPending, sub.Status)
	require.Equal(t, []string{"FAST_SUBMIT"}, sub.RiskFlags)
	require.Nil(t, sub.MonthlyHeatingCost)
	require.Nil(t, sub.VerifiedAt)
	require.Equal(t, "google", sub.Attribution.Source)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTokenHash_NotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	mock.ExpectQuery("FROM subscribers WHERE token_hash").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindByTokenHash(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSubscriberNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkVerified(t *testing.T) {
	t.Parallel()

	now := time.Unix(1760000000, 0).UTC()
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"transitioned", 1, true},
		{"already verified or expired", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo, mock := newMockRepository(t)
			mock.ExpectExec("UPDATE subscribers\\s+SET status = 'verified'").
				WithArgs("01JA", now).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			got, err := repo.MarkVerified(context.Background(), "01JA", now)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMarkExpired(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	mock.ExpectExec("SET status = 'expired'").
		WithArgs("01JA").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.MarkExpired(context.Background(), "01JA"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSubscribers(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	now := time.Unix(1760000000, 0).UTC()

	rows := pgxmock.NewRows(subscriberColumnNames)
	subscriberRow(rows, "01JB", model.StatusVerified, now)
	subscriberRow(rows, "01JA", model.StatusVerified, now.Add(-time.Minute))

	mock.ExpectQuery("WHERE status = \\$1 ORDER BY created_at DESC, id DESC LIMIT \\$2").
		WithArgs(model.StatusVerified, 10).
		WillReturnRows(rows)

	subs, err := repo.ListSubscribers(context.Background(), SubscriberFilter{Status: model.StatusVerified, Limit: 10})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "01JB", subs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSubscribers_ClampsLimit(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	mock.ExpectQuery("ORDER BY created_at DESC, id DESC LIMIT \\$1").
		WithArgs(MaxListLimit).
		WillReturnRows(pgxmock.NewRows(subscriberColumnNames))

	subs, err := repo.ListSubscribers(context.Background(), SubscriberFilter{Limit: 100000})
	require.NoError(t, err)
	require.Empty(t, subs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) FROM subscribers GROUP BY status").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow(model.StatusPending, int64(7)).
			AddRow(model.StatusVerified, int64(3)))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusCounts{Pending: 7, Verified: 3}, counts)
	require.Equal(t, int64(10), counts.Total())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAnalyticsEvent(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepository(t)
	now := time.Unix(1760000000, 0).UTC()
	event := &model.AnalyticsEvent{
		ID:          "01JEV",
		Name:        "page_view",
		Path:        "/",
		VisitorHash: "0123456789abcdef",
		OccurredAt:  now,
		ReceivedAt:  now,
	}

	mock.ExpectExec("INSERT INTO analytics_events").
		WithArgs(
			"01JEV", "page_view", "/", "", "",
			"", "", "", "", "",
			[]byte(`{}`), "0123456789abcdef", now, now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.InsertAnalyticsEvent(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}
