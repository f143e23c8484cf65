package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	value   *string
	err     error
	release chan struct{} // when set, GetParameter waits for it

	mu    sync.Mutex
	calls int
	input *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	f.calls++
	f.input = in
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: f.value}}, nil
}

// Static

func TestStatic_Authorize(t *testing.T) {
	a := NewStatic("letmein")
	require.NoError(t, a.Authorize(t.Context(), "letmein"))
	require.ErrorIs(t, a.Authorize(t.Context(), "wrong"), ErrUnauthorized)
	require.ErrorIs(t, a.Authorize(t.Context(), ""), ErrUnauthorized)
}

func TestStatic_EmptySecretRejects(t *testing.T) {
	a := NewStatic("")
	require.ErrorIs(t, a.Authorize(t.Context(), ""), ErrUnavailable)
	require.ErrorIs(t, a.Authorize(t.Context(), "anything"), ErrUnavailable)
}

func TestAllowAll(t *testing.T) {
	require.NoError(t, AllowAll().Authorize(t.Context(), ""))
}

// SSMSecret

func TestNewSSMSecret_Validation(t *testing.T) {
	_, err := NewSSMSecret(nil, "/p", 0)
	require.Error(t, err)
	_, err = NewSSMSecret(&fakeSSM{}, "", 0)
	require.Error(t, err)

	s, err := NewSSMSecret(&fakeSSM{}, "/p", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSSMCacheTTL, s.ttl)
}

func TestSSMSecret_AuthorizeAndCache(t *testing.T) {
	f := &fakeSSM{value: aws.String("  s3cret\n")}
	s, err := NewSSMSecret(f, "/arcade/upload-password", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Authorize(t.Context(), "s3cret"))
	require.ErrorIs(t, s.Authorize(t.Context(), "nope"), ErrUnauthorized)

	assert.Equal(t, 1, f.calls, "second call should be served from cache")
	assert.Equal(t, "/arcade/upload-password", aws.ToString(f.input.Name))
	assert.True(t, aws.ToBool(f.input.WithDecryption))
}

func TestSSMSecret_RefreshAfterTTL(t *testing.T) {
	f := &fakeSSM{value: aws.String("old")}
	s, _ := NewSSMSecret(f, "/p", time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Authorize(t.Context(), "old"))

	f.value = aws.String("new")
	now = now.Add(2 * time.Minute)

	require.NoError(t, s.Authorize(t.Context(), "new"))
	require.ErrorIs(t, s.Authorize(t.Context(), "old"), ErrUnauthorized)
	assert.Equal(t, 2, f.calls)
}

func TestSSMSecret_StaleOnRefreshFailure(t *testing.T) {
	f := &fakeSSM{value: aws.String("keep")}
	s, _ := NewSSMSecret(f, "/p", time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Authorize(t.Context(), "keep"))

	f.err = errors.New("throttled")
	now = now.Add(time.Hour)
	require.NoError(t, s.Authorize(t.Context(), "keep"))
}

func TestSSMSecret_FailedRefreshBacksOff(t *testing.T) {
	f := &fakeSSM{value: aws.String("keep")}
	s, _ := NewSSMSecret(f, "/p", time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Authorize(t.Context(), "keep"))

	f.err = errors.New("throttled")
	now = now.Add(time.Hour)
	for range 100 {
		require.NoError(t, s.Authorize(t.Context(), "keep"))
	}
	require.NoError(t, s.Check(t.Context()))
	assert.Equal(t, 2, f.calls, "only one refresh attempt inside the backoff window")

	// SSM is asked again once the backoff has passed, and recovery clears it
	now = now.Add(maxRetryBackoff)
	f.err = nil
	f.value = aws.String("rotated")
	require.NoError(t, s.Authorize(t.Context(), "rotated"))
	assert.Equal(t, 3, f.calls)
}

func TestSSMSecret_FailureWithoutCacheBacksOff(t *testing.T) {
	f := &fakeSSM{err: errors.New("access denied")}
	s, _ := NewSSMSecret(f, "/p", time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for range 10 {
		require.ErrorIs(t, s.Authorize(t.Context(), "x"), ErrUnavailable)
	}
	assert.Equal(t, 1, f.calls)
}

func TestSSMSecret_ConcurrentRefreshSharesOneCall(t *testing.T) {
	f := &fakeSSM{value: aws.String("s3cret"), release: make(chan struct{})}
	s, _ := NewSSMSecret(f, "/p", time.Minute)

	const callers = 20
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Authorize(t.Context(), "s3cret")
		}()
	}

	// let the callers pile up on the in-flight fetch
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.calls == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.calls)
}

func TestSSMSecret_CallerCancelDoesNotWaitForFetch(t *testing.T) {
	f := &fakeSSM{value: aws.String("s3cret"), release: make(chan struct{})}
	defer close(f.release)
	s, _ := NewSSMSecret(f, "/p", time.Minute)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, s.Authorize(ctx, "s3cret"), ErrUnavailable)
}

func TestSSMSecret_UnavailableWithoutCache(t *testing.T) {
	f := &fakeSSM{err: errors.New("access denied")}
	s, _ := NewSSMSecret(f, "/p", time.Minute)

	err := s.Authorize(t.Context(), "x")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Error(t, s.Check(t.Context()))
}

func TestSSMSecret_EmptyParameter(t *testing.T) {
	s, _ := NewSSMSecret(&fakeSSM{value: aws.String("   ")}, "/p", time.Minute)
	require.ErrorIs(t, s.Authorize(t.Context(), ""), ErrUnavailable)

	s, _ = NewSSMSecret(&fakeSSM{}, "/p", time.Minute)
	require.ErrorIs(t, s.Authorize(t.Context(), ""), ErrUnavailable)
}
