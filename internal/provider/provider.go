// Package provider dispatches prompts to interchangeable text-generation
// backends in a fixed priority order, rotating on rate limits and retrying
// transport failures in place.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"quizforge/internal/logger"
)

var (
	// ErrExhausted is returned once every configured provider has signaled
	// a rate limit within the current session.
	ErrExhausted = errors.New("all providers rate-limited for this session")

	// ErrNoProviders indicates a dispatcher built with an empty provider list.
	ErrNoProviders = errors.New("no providers configured")
)

// Outcome tags a dispatch result so callers never have to guess what a
// failure means.
type Outcome int

const (
	// OutcomeOK: text was generated.
	OutcomeOK Outcome = iota
	// OutcomeRetryable: this attempt failed but further attempts may succeed.
	OutcomeRetryable
	// OutcomeExhausted: the session is out of provider quota; stop calling.
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Provider is one text-generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
	Healthy(ctx context.Context) bool
}

// Session holds the mutable dispatch state for one generation run. It is
// passed into every dispatcher call instead of living on the dispatcher, so
// one dispatcher serves concurrent sessions safely.
type Session struct {
	mu          sync.Mutex
	activeIndex int
	exhausted   bool
}

func NewSession() *Session {
	return &Session{}
}

// Exhausted reports whether every provider rate-limited in this session.
func (s *Session) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// ActiveIndex returns the provider the next call starts from.
func (s *Session) ActiveIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeIndex
}

func (s *Session) markExhausted() {
	s.mu.Lock()
	s.exhausted = true
	s.mu.Unlock()
}

func (s *Session) setActive(idx int) {
	s.mu.Lock()
	s.activeIndex = idx
	s.mu.Unlock()
}

// Dispatcher tries providers in priority order. Transport failures retry the
// same provider; rate limits rotate to the next one; anything else skips
// ahead without burning the retry budget.
type Dispatcher struct {
	providers  []Provider
	retries    int
	retryDelay time.Duration
	timeout    time.Duration
	log        *logger.Logger
}

// NewDispatcher builds a dispatcher over the given priority-ordered backends.
func NewDispatcher(providers []Provider, retries int, retryDelay, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		providers:  providers,
		retries:    retries,
		retryDelay: retryDelay,
		timeout:    timeout,
		log:        log,
	}
}

// Providers returns the configured backend count.
func (d *Dispatcher) Providers() int {
	return len(d.providers)
}

// Generate sends the prompt to the session's active provider, walking the
// priority order as failures demand. The session records rotation and
// exhaustion so later calls skip known-limited providers.
func (d *Dispatcher) Generate(ctx context.Context, sess *Session, prompt string) (string, Outcome, error) {
	if len(d.providers) == 0 {
		return "", OutcomeRetryable, ErrNoProviders
	}
	if sess.Exhausted() {
		return "", OutcomeExhausted, ErrExhausted
	}

	start := sess.ActiveIndex()
	rateLimited := 0
	var lastErr error

	for step := 0; step < len(d.providers); step++ {
		idx := (start + step) % len(d.providers)
		p := d.providers[idx]

		text, err := d.generateWithRetry(ctx, p, prompt)
		if err == nil {
			sess.setActive(idx)
			return text, OutcomeOK, nil
		}
		lastErr = err

		if isRateLimit(err) {
			rateLimited++
			d.log.Warn("provider rate-limited, rotating", "provider", p.Name())
			sess.setActive((idx + 1) % len(d.providers))
			continue
		}
		if ctx.Err() != nil {
			return "", OutcomeRetryable, ctx.Err()
		}
		// Non-network, non-quota failure: skip ahead without touching the
		// session's rotation point.
		d.log.Warn("provider failed, trying next", "provider", p.Name(), "error", err)
	}

	if rateLimited == len(d.providers) {
		sess.markExhausted()
		d.log.Warn("all providers rate-limited; session exhausted")
		return "", OutcomeExhausted, ErrExhausted
	}
	return "", OutcomeRetryable, fmt.Errorf("all providers failed: %w", lastErr)
}

// generateWithRetry retries transport-level failures against one provider.
// Rate limits and other HTTP errors surface immediately: network flakiness
// must not burn the alternate-provider budget, and quota signals must not
// burn the retry budget.
func (d *Dispatcher) generateWithRetry(ctx context.Context, p Provider, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			d.log.Debug("retrying provider after transport failure",
				"provider", p.Name(), "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * d.retryDelay):
			}
		}

		text, err := d.attemptGenerate(ctx, p, prompt)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				lastErr = fmt.Errorf("provider %s returned empty output", p.Name())
				continue
			}
			return text, nil
		}
		lastErr = err

		if !isTransport(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("provider %s failed after %d attempts: %w", p.Name(), d.retries+1, lastErr)
}

// attemptGenerate runs a single call under the per-call timeout, releasing
// the timeout context as soon as the attempt finishes rather than when the
// whole retry loop returns.
func (d *Dispatcher) attemptGenerate(ctx context.Context, p Provider, prompt string) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return p.Generate(ctx, prompt)
}

// isRateLimit recognizes a definitive quota signal from any backend.
func isRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "too many requests")
}

// isTransport recognizes network-level failures worth retrying in place.
func isTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof")
}

// HTTPError carries a non-200 status from the raw HTTP backends so the
// dispatcher can classify it.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}
