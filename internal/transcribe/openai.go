// Package transcribe adapts the backend.SpeechBackend capability contract
// onto concrete model clients. OpenAIBackend binds it to an OpenAI-compatible
// speech endpoint via the go-openai SDK; NullBackend is a deterministic fake
// for engine tests.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Acclerate/video-transcriber/internal/apierr"
	"github.com/Acclerate/video-transcriber/internal/backend"
)

// Default retry configuration, mirrored from the reference CLI's transcriber.
const (
	defaultMaxRetries = 2
	defaultBaseDelay  = 2 * time.Second
	defaultMaxDelay   = 30 * time.Second
	defaultJitterMin  = 0.5
	defaultJitterMax  = 1.0
)

// Compile-time interface compliance check.
var _ backend.SpeechBackend = (*OpenAIBackend)(nil)

// OpenAIBackend transcribes audio via an OpenAI-compatible transcription
// endpoint. Load is a one-shot, mutex-guarded initializer: concurrent
// first-callers block on the same sync.Once rather than racing to
// initialize the underlying client twice.
type OpenAIBackend struct {
	apiKey     string
	baseURL    string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	loadOnce sync.Once
	loadErr  error
	client   *openai.Client
	modelID  string
}

// OpenAIBackendOption configures an OpenAIBackend.
type OpenAIBackendOption func(*OpenAIBackend)

// WithMaxRetries sets the maximum retry attempts per transcribe call.
func WithMaxRetries(n int) OpenAIBackendOption {
	return func(b *OpenAIBackend) {
		if n >= 0 {
			b.maxRetries = n
		}
	}
}

// WithRetryDelays sets the base and max backoff delays.
func WithRetryDelays(base, maxDelay time.Duration) OpenAIBackendOption {
	return func(b *OpenAIBackend) {
		if base > 0 {
			b.baseDelay = base
		}
		if maxDelay > 0 {
			b.maxDelay = maxDelay
		}
	}
}

// WithBaseURL points the client at a custom base URL (proxies, testing).
func WithBaseURL(url string) OpenAIBackendOption {
	return func(b *OpenAIBackend) {
		b.baseURL = strings.TrimSuffix(url, "/")
	}
}

// NewOpenAIBackend creates a backend bound to apiKey. The underlying client
// is not constructed until Load is called.
func NewOpenAIBackend(apiKey string, opts ...OpenAIBackendOption) *OpenAIBackend {
	b := &OpenAIBackend{
		apiKey:     apiKey,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load constructs the OpenAI client exactly once, regardless of how many
// goroutines call Load concurrently before the first completes.
func (b *OpenAIBackend) Load(_ context.Context, modelID string) error {
	b.loadOnce.Do(func() {
		cfg := openai.DefaultConfig(b.apiKey)
		if b.baseURL != "" {
			cfg.BaseURL = b.baseURL
		}
		b.client = openai.NewClientWithConfig(cfg)
		b.modelID = modelID
	})
	return b.loadErr
}

// Unload releases the client reference. Safe to call when never loaded.
func (b *OpenAIBackend) Unload(_ context.Context) error {
	b.client = nil
	return nil
}

// Describe reports capabilities of the currently loaded model.
func (b *OpenAIBackend) Describe() backend.Capabilities {
	return backend.Capabilities{
		ModelID:              b.modelID,
		NeedsAccelerator:     false,
		ApproximateMemoryMB:  0,
		ThreadSafeTranscribe: true,
	}
}

// Transcribe sends audioPath to the OpenAI transcription endpoint, retrying
// transient and rate-limit failures with jittered exponential backoff.
func (b *OpenAIBackend) Transcribe(ctx context.Context, audioPath string, opts backend.Options) (backend.ChunkResult, error) {
	if b.client == nil {
		return backend.ChunkResult{}, &backend.Error{Kind: backend.ErrKindInternal, Err: errors.New("backend not loaded")}
	}

	cfg := apierr.RetryConfig{
		MaxRetries: b.maxRetries,
		BaseDelay:  b.baseDelay,
		MaxDelay:   b.maxDelay,
		JitterMin:  defaultJitterMin,
		JitterMax:  defaultJitterMax,
	}

	return apierr.RetryWithBackoff(ctx, cfg, func() (backend.ChunkResult, error) {
		if opts.CancelToken != nil && opts.CancelToken.Err() != nil {
			return backend.ChunkResult{}, &backend.Error{Kind: backend.ErrKindCancelled, Err: opts.CancelToken.Err()}
		}
		result, err := b.transcribeOnce(ctx, audioPath, opts)
		if err != nil {
			return backend.ChunkResult{}, classifyError(err)
		}
		return result, nil
	}, isRetryableBackendError)
}

func (b *OpenAIBackend) transcribeOnce(ctx context.Context, audioPath string, opts backend.Options) (backend.ChunkResult, error) {
	req := openai.AudioRequest{
		Model:       b.modelID,
		FilePath:    audioPath,
		Temperature: float32(opts.Temperature),
		Format:      openai.AudioResponseFormatVerboseJSON,
	}
	if opts.Language != "" && opts.Language != "auto" {
		req.Language = opts.Language
	}

	resp, err := b.client.CreateTranscription(ctx, req)
	if err != nil {
		return backend.ChunkResult{}, err
	}

	segments := make([]backend.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, backend.Segment{
			StartSeconds: s.Start,
			EndSeconds:   s.End,
			Text:         text,
			// The verbose_json response does not expose a usable
			// log-probability; 0.5 is the documented adapter-local
			// default for "no confidence signal available".
			Confidence: 0.5,
		})
	}

	return backend.ChunkResult{
		Text:             resp.Text,
		DetectedLanguage: resp.Language,
		Segments:         segments,
	}, nil
}

// classifyError maps go-openai/HTTP failures onto the shared backend
// taxonomy. Unrecognized errors are classified Internal rather than
// silently treated as retryable.
func classifyError(err error) *backend.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			if strings.Contains(apiErr.Message, "quota") || strings.Contains(apiErr.Message, "billing") {
				return &backend.Error{Kind: backend.ErrKindInternal, Err: fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrQuotaExceeded)}
			}
			return &backend.Error{Kind: backend.ErrKindTransient, Err: fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrRateLimit)}
		case http.StatusUnauthorized:
			return &backend.Error{Kind: backend.ErrKindInternal, Err: fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrAuthFailed)}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &backend.Error{Kind: backend.ErrKindTransient, Err: fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrTimeout)}
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return &backend.Error{Kind: backend.ErrKindTransient, Err: fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrTimeout)}
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
			return &backend.Error{Kind: backend.ErrKindInputUnreadable, Err: fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrBadRequest)}
		}
	}

	if errors.Is(err, context.Canceled) {
		return &backend.Error{Kind: backend.ErrKindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &backend.Error{Kind: backend.ErrKindTransient, Err: fmt.Errorf("request timed out: %w", apierr.ErrTimeout)}
	}

	return &backend.Error{Kind: backend.ErrKindInternal, Err: err}
}

func isRetryableBackendError(err error) bool {
	var be *backend.Error
	if errors.As(err, &be) {
		return be.Kind.Retryable()
	}
	return false
}
