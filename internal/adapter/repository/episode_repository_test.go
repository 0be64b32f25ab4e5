package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wekeepgrowing/semo-dunning/internal/adapter/repository"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/entity"
	domainErrors "github.com/wekeepgrowing/semo-dunning/internal/domain/errors"
	domainRepo "github.com/wekeepgrowing/semo-dunning/internal/domain/repository"
	"github.com/wekeepgrowing/semo-dunning/internal/infrastructure/database/dbtest"
	"go.uber.org/zap"
)

func newEpisodeRepo(t *testing.T) domainRepo.EpisodeRepository {
	t.Helper()
	return repository.NewEpisodeRepository(dbtest.Open(t), zap.NewNop())
}

func createEpisode(t *testing.T, repo domainRepo.EpisodeRepository, subscriptionID string, failedAt time.Time) *entity.Episode {
	t.Helper()
	ep, err := repo.Create(context.Background(), subscriptionID, failedAt, "card_declined", failedAt)
	require.NoError(t, err)
	return ep
}

func TestEpisodeRepository_CreateAndGet(t *testing.T) {
	repo := newEpisodeRepo(t)
	ctx := context.Background()
	failedAt := time.Date(2026, 3, 1, 9, 30, 0, 123456789, time.UTC)

	created := createEpisode(t, repo, "sub_1", failedAt)
	assert.NotZero(t, created.ID)
	assert.Equal(t, entity.StateRetrying, created.State)
	assert.Equal(t, 0, created.RetryCount)
	assert.Equal(t, failedAt.Truncate(time.Microsecond), created.FailedAt)

	got, err := repo.Get(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "card_declined", got.LastError)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(failedAt.Truncate(time.Microsecond)))
	assert.True(t, got.Version().Equal(created.Version()))
	assert.Empty(t, got.PendingEffects)
}

func TestEpisodeRepository_GetNotFound(t *testing.T) {
	repo := newEpisodeRepo(t)

	_, err := repo.Get(context.Background(), "sub_missing")
	assert.True(t, domainErrors.IsNotFound(err))
}

func TestEpisodeRepository_CreateConflictsWhileOpen(t *testing.T) {
	repo := newEpisodeRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := createEpisode(t, repo, "sub_1", now)

	_, err := repo.Create(ctx, "sub_1", now, "again", now)
	assert.True(t, domainErrors.IsConflict(err))

	// Other subscriptions are unaffected
	createEpisode(t, repo, "sub_2", now)

	// Once resolved, a new episode may open
	_, err = repo.CompareAndUpdate(ctx, "sub_1", first.Version(), entity.EpisodePatch{
		State:      entity.StatePtr(entity.StateResolved),
		ResolvedAt: &now,
	})
	require.NoError(t, err)

	second := createEpisode(t, repo, "sub_1", now.Add(time.Hour))
	assert.NotEqual(t, first.ID, second.ID)

	got, err := repo.Get(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID, "open episode is preferred over resolved history")
}

func TestEpisodeRepository_GetFallsBackToResolved(t *testing.T) {
	repo := newEpisodeRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ep := createEpisode(t, repo, "sub_1", now)
	_, err := repo.CompareAndUpdate(ctx, "sub_1", ep.Version(), entity.EpisodePatch{
		State:      entity.StatePtr(entity.StateResolved),
		ResolvedAt: &now,
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, entity.StateResolved, got.State)
	require.NotNil(t, got.ResolvedAt)
}

func TestEpisodeRepository_CompareAndUpdate(t *testing.T) {
	repo := newEpisodeRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ep := createEpisode(t, repo, "sub_1", now)

	retryCount := 1
	lastError := "insufficient_funds"
	effects := []entity.SideEffect{entity.NotifyEffect(entity.TemplatePaymentFailedWarning)}
	updated, err := repo.CompareAndUpdate(ctx, "sub_1", ep.Version(), entity.EpisodePatch{
		State:          entity.StatePtr(entity.StateWarningSent),
		RetryCount:     &retryCount,
		LastError:      &lastError,
		Metadata:       map[string]string{entity.MetaInvoiceID: "in_1"},
		PendingEffects: &effects,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StateWarningSent, updated.State)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, "insufficient_funds", updated.LastError)
	assert.Equal(t, "in_1", updated.Metadata[entity.MetaInvoiceID])
	assert.Equal(t, effects, updated.PendingEffects)
	assert.True(t, updated.Version().After(ep.Version()), "version must strictly increase")

	t.Run("stale version conflicts", func(t *testing.T) {
		_, err := repo.CompareAndUpdate(ctx, "sub_1", ep.Version(), entity.EpisodePatch{
			State: entity.StatePtr(entity.StateSuspended),
		})
		assert.True(t, domainErrors.IsConflict(err))

		got, err := repo.Get(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, entity.StateWarningSent, got.State)
	})

	t.Run("metadata merges and next retry clears", func(t *testing.T) {
		again, err := repo.CompareAndUpdate(ctx, "sub_1", updated.Version(), entity.EpisodePatch{
			Metadata:         map[string]string{entity.MetaResolvedBy: "ops"},
			ClearNextRetryAt: true,
			PendingEffects:   &[]entity.SideEffect{},
		})
		require.NoError(t, err)
		assert.Equal(t, "in_1", again.Metadata[entity.MetaInvoiceID])
		assert.Equal(t, "ops", again.Metadata[entity.MetaResolvedBy])
		assert.Nil(t, again.NextRetryAt)
		assert.Empty(t, again.PendingEffects)
	})

	t.Run("missing episode", func(t *testing.T) {
		_, err := repo.CompareAndUpdate(ctx, "sub_missing", now, entity.EpisodePatch{})
		assert.True(t, domainErrors.IsNotFound(err))
	})
}

func TestEpisodeRepository_CompareAndUpdateSingleWinner(t *testing.T) {
	repo := newEpisodeRepo(t)
	ctx := context.Background()

	ep := createEpisode(t, repo, "sub_1", time.Now().UTC())

	_, errResolve := repo.CompareAndUpdate(ctx, "sub_1", ep.Version(), entity.EpisodePatch{
		State: entity.StatePtr(entity.StateResolved),
	})
	_, errEscalate := repo.CompareAndUpdate(ctx, "sub_1", ep.Version(), entity.EpisodePatch{
		State: entity.StatePtr(entity.StateWarningSent),
	})

	require.NoError(t, errResolve)
	assert.True(t, domainErrors.IsConflict(errEscalate))
}

func TestEpisodeRepository_List(t *testing.T) {
	repo := newEpisodeRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"sub_1", "sub_2", "sub_3"} {
		createEpisode(t, repo, id, now)
	}
	ep, err := repo.Get(ctx, "sub_2")
	require.NoError(t, err)
	_, err = repo.CompareAndUpdate(ctx, "sub_2", ep.Version(), entity.EpisodePatch{
		State: entity.StatePtr(entity.StateSuspended),
	})
	require.NoError(t, err)

	all, total, err := repo.List(ctx, entity.EpisodeFilter{}, entity.PaginationParams{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 2)
	assert.Equal(t, "sub_3", all[0].SubscriptionID, "newest first")

	suspended := entity.StateSuspended
	filtered, total, err := repo.List(ctx, entity.EpisodeFilter{State: &suspended}, entity.PaginationParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, filtered, 1)
	assert.Equal(t, "sub_2", filtered[0].SubscriptionID)
}

func TestEpisodeRepository_ListOverdue(t *testing.T) {
	repo := newEpisodeRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createEpisode(t, repo, "sub_due", now.Add(-2*time.Hour))
	future := createEpisode(t, repo, "sub_future", now)
	suspended := createEpisode(t, repo, "sub_suspended", now.Add(-2*time.Hour))

	later := now.Add(48 * time.Hour)
	_, err := repo.CompareAndUpdate(ctx, "sub_future", future.Version(), entity.EpisodePatch{NextRetryAt: &later})
	require.NoError(t, err)
	_, err = repo.CompareAndUpdate(ctx, "sub_suspended", suspended.Version(), entity.EpisodePatch{
		State: entity.StatePtr(entity.StateSuspended),
	})
	require.NoError(t, err)

	overdue, err := repo.ListOverdue(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "sub_due", overdue[0].SubscriptionID)
}

func TestEpisodeRepository_ListPendingEffects(t *testing.T) {
	repo := newEpisodeRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ep := createEpisode(t, repo, "sub_1", now)
	createEpisode(t, repo, "sub_2", now)

	effects := []entity.SideEffect{entity.EffectSuspend}
	_, err := repo.CompareAndUpdate(ctx, "sub_1", ep.Version(), entity.EpisodePatch{PendingEffects: &effects})
	require.NoError(t, err)

	pending, err := repo.ListPendingEffects(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "sub_1", pending[0].SubscriptionID)
	assert.Equal(t, effects, pending[0].PendingEffects)
}
