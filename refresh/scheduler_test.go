package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/config"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

type fakeRemote struct {
	calls atomic.Int32
	fn    func(ctx context.Context, refreshToken string) (*api.Tokens, error)
}

func (f *fakeRemote) Refresh(ctx context.Context, refreshToken string) (*api.Tokens, error) {
	f.calls.Add(1)
	return f.fn(ctx, refreshToken)
}

type recorder struct {
	mu        sync.Mutex
	successes []session.Record
	errors    []string
	expired   int
}

func (r *recorder) callbacks() refresh.Callbacks {
	return refresh.Callbacks{
		OnRefreshSuccess: func(rec session.Record) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.successes = append(r.successes, rec)
		},
		OnRefreshError: func(message string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, message)
		},
		OnSessionExpired: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.expired++
		},
	}
}

type fixture struct {
	store     *session.Store
	remote    *fakeRemote
	recorder  *recorder
	scheduler *refresh.Scheduler
}

func freezeTime(t *testing.T) {
	t.Helper()
	now := func() time.Time { return fixedNow }
	prevRefresh, prevSession, prevToken := refresh.NowTimeFunc, session.NowTimeFunc, token.NowTimeFunc
	refresh.NowTimeFunc, session.NowTimeFunc, token.NowTimeFunc = now, now, now
	t.Cleanup(func() {
		refresh.NowTimeFunc, session.NowTimeFunc, token.NowTimeFunc = prevRefresh, prevSession, prevToken
	})
}

func newFixture(t *testing.T, cfg config.RefreshConfig, fn func(context.Context, string) (*api.Tokens, error)) *fixture {
	t.Helper()
	freezeTime(t)
	f := &fixture{
		store:    session.NewStore(storage.NewWithBackend(storage.NewMemoryBackend(0), "app_")),
		remote:   &fakeRemote{fn: fn},
		recorder: &recorder{},
	}
	f.scheduler = refresh.New(f.store, f.remote, cfg,
		refresh.WithCallbacks(f.recorder.callbacks()),
		refresh.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	return f
}

func (f *fixture) seed(expiresIn time.Duration) session.Session {
	sess := session.Session{
		ID:           "s1",
		UserID:       "u1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    fixedNow.Add(expiresIn).UnixMilli(),
		CreatedAt:    fixedNow.Add(-time.Hour),
	}
	f.store.Save(sess, session.User{ID: "u1", Email: "a@b.com"})
	return sess
}

func defaultConfig() config.RefreshConfig {
	return config.RefreshConfig{
		Threshold:   5 * time.Minute,
		Interval:    10 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func renewed(_ context.Context, refreshToken string) (*api.Tokens, error) {
	return &api.Tokens{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    fixedNow.Add(time.Hour).UnixMilli(),
	}, nil
}

func networkDown(context.Context, string) (*api.Tokens, error) {
	return nil, errors.New("dial tcp 127.0.0.1:443: connect: connection refused")
}

func TestScheduler_RefreshTokenSuccess(t *testing.T) {
	f := newFixture(t, defaultConfig(), renewed)
	sess := f.seed(time.Minute)

	require.True(t, f.scheduler.RefreshToken(context.Background()))

	record, ok := f.store.Get()
	require.True(t, ok)
	require.Equal(t, sess.ID, record.Session.ID)
	require.Equal(t, "access-2", record.Session.AccessToken)
	require.Equal(t, "refresh-2", record.Session.RefreshToken)

	access, _ := f.store.AccessToken()
	require.Equal(t, "access-2", access)

	require.Len(t, f.recorder.successes, 1)
	require.Equal(t, *record, f.recorder.successes[0])
	require.Empty(t, f.recorder.errors)
}

func TestScheduler_RefreshTokenNetworkError(t *testing.T) {
	f := newFixture(t, defaultConfig(), networkDown)
	sess := f.seed(time.Minute)

	require.False(t, f.scheduler.RefreshToken(context.Background()))

	record, ok := f.store.Get()
	require.True(t, ok)
	require.Equal(t, sess, record.Session, "stored tokens unchanged")
	refreshToken, _ := f.store.RefreshToken()
	require.Equal(t, "refresh-1", refreshToken)

	require.Equal(t, []string{"dial tcp 127.0.0.1:443: connect: connection refused"}, f.recorder.errors)
	require.Empty(t, f.recorder.successes)

	// A later manual retry still works.
	f.remote.fn = renewed
	require.True(t, f.scheduler.RefreshToken(context.Background()))
}

func TestScheduler_RefreshTokenWithoutSession(t *testing.T) {
	f := newFixture(t, defaultConfig(), renewed)

	require.False(t, f.scheduler.RefreshToken(context.Background()))
	require.Zero(t, f.remote.calls.Load())
	require.Len(t, f.recorder.errors, 1)
}

func TestScheduler_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	f := newFixture(t, defaultConfig(), func(context.Context, string) (*api.Tokens, error) {
		return &api.Tokens{AccessToken: "access-2", ExpiresAt: fixedNow.Add(time.Hour).UnixMilli()}, nil
	})
	f.seed(time.Minute)

	require.True(t, f.scheduler.RefreshToken(context.Background()))
	refreshToken, _ := f.store.RefreshToken()
	require.Equal(t, "refresh-1", refreshToken)
}

func TestScheduler_ExpiryFromAccessToken(t *testing.T) {
	exp := fixedNow.Add(2 * time.Hour).Truncate(time.Second)
	access, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	f := newFixture(t, defaultConfig(), func(context.Context, string) (*api.Tokens, error) {
		return &api.Tokens{AccessToken: access, RefreshToken: "refresh-2"}, nil
	})
	f.seed(time.Minute)

	require.True(t, f.scheduler.RefreshToken(context.Background()))
	expiresAt, ok := f.store.ExpiresAt()
	require.True(t, ok)
	require.Equal(t, exp.UnixMilli(), expiresAt)
}

func TestScheduler_ConcurrentRefreshesShareOneCall(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, defaultConfig(), func(ctx context.Context, rt string) (*api.Tokens, error) {
		<-release
		return renewed(ctx, rt)
	})
	f.seed(time.Minute)

	const callers = 5
	results := make(chan bool, callers)
	for range callers {
		go func() { results <- f.scheduler.RefreshToken(context.Background()) }()
	}

	require.Eventually(t, func() bool { return f.remote.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range callers {
		require.True(t, <-results)
	}
	require.Equal(t, int32(1), f.remote.calls.Load())
}

func TestScheduler_CallerCancelStillStoresResult(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, defaultConfig(), func(ctx context.Context, rt string) (*api.Tokens, error) {
		<-release
		return renewed(ctx, rt)
	})
	f.seed(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan bool, 1)
	go func() { result <- f.scheduler.RefreshToken(ctx) }()

	require.Eventually(t, func() bool { return f.remote.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.False(t, <-result)

	close(release)
	require.Eventually(t, func() bool {
		access, _ := f.store.AccessToken()
		return access == "access-2"
	}, time.Second, time.Millisecond)
}

func TestScheduler_Check(t *testing.T) {
	t.Run("outside threshold does nothing", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), renewed)
		f.seed(time.Hour)

		f.scheduler.Check(context.Background())
		require.Zero(t, f.remote.calls.Load())
	})

	t.Run("no session does nothing", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), renewed)
		f.scheduler.Check(context.Background())
		require.Zero(t, f.remote.calls.Load())
	})

	t.Run("inside threshold refreshes", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), renewed)
		f.seed(4 * time.Minute)

		f.scheduler.Check(context.Background())
		require.Equal(t, int32(1), f.remote.calls.Load())
		access, _ := f.store.AccessToken()
		require.Equal(t, "access-2", access)
	})

	t.Run("failure before expiry keeps session", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), networkDown)
		f.seed(4 * time.Minute)

		f.scheduler.Check(context.Background())
		require.Equal(t, int32(3), f.remote.calls.Load())
		require.Len(t, f.recorder.errors, 3)
		require.Zero(t, f.recorder.expired)

		_, ok := f.store.Get()
		require.True(t, ok)
	})

	t.Run("failure after expiry clears session", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), networkDown)
		f.seed(-time.Second)

		f.scheduler.Check(context.Background())
		require.Equal(t, int32(3), f.remote.calls.Load())
		require.Equal(t, 1, f.recorder.expired)

		_, ok := f.store.ExpiresAt()
		require.False(t, ok)
		_, ok = f.store.AccessToken()
		require.False(t, ok)
	})

	t.Run("rejection is not retried", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), func(context.Context, string) (*api.Tokens, error) {
			return nil, &api.Error{Message: "refresh token revoked", Code: "INVALID_REFRESH_TOKEN", Status: 401}
		})
		f.seed(-time.Second)

		f.scheduler.Check(context.Background())
		require.Equal(t, int32(1), f.remote.calls.Load())
		require.Equal(t, 1, f.recorder.expired)
	})

	t.Run("throttling is retried", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), func(context.Context, string) (*api.Tokens, error) {
			return nil, &api.Error{Message: "slow down", Code: "RATE_LIMITED", Status: 429}
		})
		f.seed(-time.Second)

		f.scheduler.Check(context.Background())
		require.Equal(t, int32(3), f.remote.calls.Load())
		require.Equal(t, 1, f.recorder.expired)
	})

	t.Run("cancelled check keeps session", func(t *testing.T) {
		release := make(chan struct{})
		f := newFixture(t, defaultConfig(), func(ctx context.Context, rt string) (*api.Tokens, error) {
			<-release
			return renewed(ctx, rt)
		})
		f.seed(-time.Minute)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			f.scheduler.Check(ctx)
		}()

		require.Eventually(t, func() bool { return f.remote.calls.Load() == 1 }, time.Second, time.Millisecond)
		cancel()
		<-done

		f.recorder.mu.Lock()
		require.Zero(t, f.recorder.expired)
		f.recorder.mu.Unlock()
		_, ok := f.store.Get()
		require.True(t, ok, "session survives a cancelled check")

		close(release)
		require.Eventually(t, func() bool {
			access, _ := f.store.AccessToken()
			return access == "access-2"
		}, time.Second, time.Millisecond)

		f.recorder.mu.Lock()
		defer f.recorder.mu.Unlock()
		require.Zero(t, f.recorder.expired)
		require.Empty(t, f.recorder.errors)
	})

	t.Run("late success after expiry restores session", func(t *testing.T) {
		var attempts atomic.Int32
		f := newFixture(t, defaultConfig(), func(ctx context.Context, rt string) (*api.Tokens, error) {
			if attempts.Add(1) < 3 {
				return networkDown(ctx, rt)
			}
			return renewed(ctx, rt)
		})
		f.seed(-time.Second)

		f.scheduler.Check(context.Background())
		require.Zero(t, f.recorder.expired)
		record, ok := f.store.Get()
		require.True(t, ok)
		require.Equal(t, "access-2", record.Session.AccessToken)
	})
}

func TestScheduler_StartStop(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, defaultConfig(), renewed)
		f.scheduler.Start(context.Background())
		require.False(t, f.scheduler.Running())
		f.scheduler.Stop()
	})

	t.Run("monitors until stopped", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.AutoRefresh = true
		f := newFixture(t, cfg, renewed)
		f.seed(time.Minute)

		f.scheduler.Start(context.Background())
		f.scheduler.Start(context.Background())
		require.True(t, f.scheduler.Running())

		require.Eventually(t, func() bool {
			access, _ := f.store.AccessToken()
			return access == "access-2"
		}, time.Second, 5*time.Millisecond)

		f.scheduler.Stop()
		require.False(t, f.scheduler.Running())
		require.Equal(t, int32(1), f.remote.calls.Load(), "fresh session is not refreshed again")
	})
}
