// Package credential checks the shared upload secret presented with each
// publish request.
//
// The secret is either configured directly ([Static]) or read from an SSM
// SecureString parameter ([SSMSecret]) and cached so rotation takes effect
// without a restart.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/sync/singleflight"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/xerrors"
)

var (
	// ErrUnauthorized means the presented token does not match the secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable means the expected secret could not be determined.
	ErrUnavailable = errors.New("upload credential unavailable")
)

// Authorizer verifies an upload token.
type Authorizer interface {
	Authorize(ctx context.Context, token string) error
}

// AuthorizerFunc adapts a function into an Authorizer.
type AuthorizerFunc func(ctx context.Context, token string) error

func (f AuthorizerFunc) Authorize(ctx context.Context, token string) error { return f(ctx, token) }

// AllowAll accepts every token. Only for local runs and tests.
func AllowAll() Authorizer {
	return AuthorizerFunc(func(context.Context, string) error { return nil })
}

// Static compares tokens against a fixed secret.
type Static struct {
	secret string
}

// NewStatic returns a Static authorizer. An empty secret rejects everything.
func NewStatic(secret string) *Static {
	return &Static{secret: secret}
}

func (s *Static) Authorize(_ context.Context, token string) error {
	return check(token, s.secret)
}

func check(token, secret string) error {
	if secret == "" {
		return ErrUnavailable
	}
	if token == "" || !cryptoutil.SecretEqual(token, secret) {
		return ErrUnauthorized
	}
	return nil
}

// SSMAPI is the subset of *ssm.Client used by SSMSecret.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// DefaultSSMCacheTTL is how long a fetched secret is reused.
const DefaultSSMCacheTTL = 5 * time.Minute

const (
	// maxRetryBackoff bounds how long a failed refresh is remembered before
	// SSM is asked again.
	maxRetryBackoff = 30 * time.Second

	fetchTimeout = 10 * time.Second
)

// SSMSecret reads the secret from an SSM parameter, caching it for ttl.
// When a refresh fails the previous value keeps being used, and SSM is not
// retried until the backoff passes. Concurrent refreshes share one call.
type SSMSecret struct {
	client  SSMAPI
	param   string
	ttl     time.Duration
	backoff time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu        sync.Mutex
	secret    string
	fetchedAt time.Time
	retryAt   time.Time
	lastErr   error
}

// NewSSMSecret returns an SSMSecret for param. ttl <= 0 uses DefaultSSMCacheTTL.
func NewSSMSecret(client SSMAPI, param string, ttl time.Duration) (*SSMSecret, error) {
	if client == nil {
		return nil, xerrors.New("credential: SSM client is required")
	}
	if param == "" {
		return nil, xerrors.New("credential: SSM parameter name is required")
	}
	if ttl <= 0 {
		ttl = DefaultSSMCacheTTL
	}
	return &SSMSecret{
		client:  client,
		param:   param,
		ttl:     ttl,
		backoff: min(ttl, maxRetryBackoff),
		now:     time.Now,
	}, nil
}

func (s *SSMSecret) Authorize(ctx context.Context, token string) error {
	secret, err := s.current(ctx)
	if err != nil {
		return err
	}
	return check(token, secret)
}

// Check reports whether the secret can be loaded. Used as a readiness probe.
func (s *SSMSecret) Check(ctx context.Context) error {
	_, err := s.current(ctx)
	return err
}

// cached returns the value to use without calling SSM, and whether that is
// the final answer.
func (s *SSMSecret) cached() (v string, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.secret != "" && now.Sub(s.fetchedAt) < s.ttl {
		return s.secret, true, nil
	}
	if now.Before(s.retryAt) {
		if s.secret != "" {
			return s.secret, true, nil
		}
		return "", true, errors.Join(ErrUnavailable, s.lastErr)
	}
	return "", false, nil
}

func (s *SSMSecret) current(ctx context.Context) (string, error) {
	if v, done, err := s.cached(); done {
		return v, err
	}

	ch := s.group.DoChan(s.param, func() (any, error) {
		// detached so one caller giving up does not fail the others
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		v, err := s.fetch(fctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.retryAt = s.now().Add(s.backoff)
			s.lastErr = err
			if s.secret != "" {
				return s.secret, nil
			}
			return "", errors.Join(ErrUnavailable, err)
		}
		s.secret = v
		s.fetchedAt = s.now()
		s.retryAt = time.Time{}
		s.lastErr = nil
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", errors.Join(ErrUnavailable, ctx.Err())
	}
}

func (s *SSMSecret) fetch(ctx context.Context) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", s.param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", s.param)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", s.param)
	}
	return v, nil
}
