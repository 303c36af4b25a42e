package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, path string) *SessionRepository {
	t.Helper()

	config := viper.New()
	config.Set(SessionsPathKey, path)

	repo, err := NewSessionRepository(config)
	require.NoError(t, err)
	return repo
}

func TestSessionRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "sessions.toml"))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := domain.NewSession("s-1", now)
	first.Values["counter"] = int64(3)
	first.Values["name"] = "ada"
	first.Widgets["section"] = "state"
	first.LastRunSeq = 4
	first.UpdatedAt = now.Add(time.Minute)
	second := domain.NewSession("s-2", now)

	require.NoError(t, repo.Save(context.Background(), first))
	require.NoError(t, repo.Save(context.Background(), second))

	got, err := repo.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	sessions, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Session{first, second}, sessions)
}

func TestSessionRepositoryNormalizesNumbers(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "sessions.toml"))

	session := domain.NewSession("s-1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	session.Values["counter"] = 1
	session.Values["ratio"] = 0.5
	session.Values["gone"] = nil
	require.NoError(t, repo.Save(context.Background(), session))

	got, err := repo.GetByID(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Values["counter"])
	assert.Equal(t, 0.5, got.Values["ratio"])
	_, ok := got.Values["gone"]
	assert.False(t, ok)
}

func TestSessionRepositoryDelete(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "sessions.toml"))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(context.Background(), domain.NewSession("s-1", now)))
	require.NoError(t, repo.Save(context.Background(), domain.NewSession("s-2", now)))

	require.NoError(t, repo.Delete(context.Background(), "s-1"))
	require.ErrorIs(t, repo.Delete(context.Background(), "s-1"), domain.ErrSessionNotFound)

	_, err := repo.GetByID(context.Background(), "s-1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	sessions, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.SessionID("s-2"), sessions[0].ID)
}

func TestSessionRepositoryReadsHandWrittenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.toml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"version = 1",
		"",
		"[[sessions]]",
		"id = \"s-1\"",
		"last_run_seq = 2",
		"created_at = \"2026-03-01T12:00:00Z\"",
		"updated_at = \"\"",
		"",
	}, "\n")), 0o600))

	repo := newTestRepository(t, path)

	session, err := repo.GetByID(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), session.LastRunSeq)
	assert.NotNil(t, session.Values)
	assert.NotNil(t, session.Widgets)
	assert.True(t, session.UpdatedAt.IsZero())
}

func TestSessionRepositorySaveCreatesDefaultPathAndEnforcesPermissions(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	repo, err := NewSessionRepository(viper.New())
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), domain.NewSession("s-1", time.Now())))

	path := filepath.Join(homeDir, ".pagerun", "sessions.toml")
	assert.Equal(t, path, repo.Path())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSessionRepositoryMissingFileBehaviors(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "missing", "sessions.toml"))

	sessions, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = repo.GetByID(context.Background(), "s-1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepositoryMalformedTOMLReturnsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.toml")
	require.NoError(t, os.WriteFile(path, []byte("sessions = ["), 0o600))

	repo := newTestRepository(t, path)

	_, err := repo.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode sessions file")
}

func TestSessionRepositorySaveCanceledContextReturnsContextError(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "sessions.toml"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Save(ctx, domain.NewSession("s-1", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSessionRepositoryConcurrentSavesAcrossInstancesPreserveBothSessions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.toml")
	repoA := newTestRepository(t, path)
	repoB := newTestRepository(t, path)

	const perRepoWrites = 50
	start := make(chan struct{})
	errCh := make(chan error, perRepoWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	write := func(repo *SessionRepository, prefix string) {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			errCh <- repo.Save(context.Background(), domain.NewSession(domain.SessionID(prefix+strconv.Itoa(i)), time.Now()))
		}
	}
	go write(repoA, "a-")
	go write(repoB, "b-")

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	sessions, err := repoA.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, perRepoWrites*2)
}

func TestSessionRepositorySerializedTOMLIncludesVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.toml")
	repo := newTestRepository(t, path)

	require.NoError(t, repo.Save(context.Background(), domain.NewSession("s-1", time.Now())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
}

func TestSessionRepositoryFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 999\n\nsessions = []\n"), 0o600))

	repo := newTestRepository(t, path)

	_, err := repo.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported sessions schema version")
}
