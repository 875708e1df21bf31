package config

import (
	"os"
	"strings"
	"time"

	"clonetest/remote"
)

// RetryPolicy converts the retry section into the remote client's policy.
// Unset fields keep the client defaults.
func (r Retry) RetryPolicy() remote.RetryPolicy {
	policy := remote.DefaultRetryPolicy()
	if r.InitialIntervalMs > 0 {
		policy.InitialInterval = millis(r.InitialIntervalMs)
	}
	if r.MaxIntervalMs > 0 {
		policy.MaxInterval = millis(r.MaxIntervalMs)
	}
	if r.Multiplier > 0 {
		policy.Multiplier = r.Multiplier
	}
	if r.MaxRetries > 0 {
		policy.MaxRetries = r.MaxRetries
	}
	if r.MaxElapsedMs > 0 {
		policy.MaxElapsed = millis(r.MaxElapsedMs)
	}
	return policy
}

// CallTimeout returns the per-attempt timeout, zero when unset.
func (r Remote) CallTimeout() time.Duration { return millis(r.CallTimeoutMs) }

// Token returns the bearer token, preferring the environment variable named
// by AuthTokenEnv when it is set.
func (r Remote) Token() string {
	if name := strings.TrimSpace(r.AuthTokenEnv); name != "" {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.AuthToken)
}

// ClientOptions returns the remote client options described by r.
func (r Remote) ClientOptions() []remote.Option {
	opts := []remote.Option{
		remote.WithRetryPolicy(r.Retry.RetryPolicy()),
		remote.WithRateLimit(r.RateLimitRPS, r.RateLimitBurst),
	}
	if timeout := r.CallTimeout(); timeout > 0 {
		opts = append(opts, remote.WithCallTimeout(timeout))
	}
	if token := r.Token(); token != "" {
		opts = append(opts, remote.WithAuthToken(token))
	}
	return opts
}

func millis(ms uint64) time.Duration { return time.Duration(ms) * time.Millisecond }
