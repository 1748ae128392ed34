// Package postprocess cleans backend meta-tokens from transcribed text and
// optionally re-punctuates it through a secondary model.
package postprocess

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// metaTokenPattern matches bracketed backend meta-tokens such as language,
// emotion, or event tags: <|en|>, <|laughter|>, <|nospeech|>.
var metaTokenPattern = regexp.MustCompile(`<\|[^|>]*\|>`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Clean removes meta-tokens and collapses repeated whitespace. Idempotent.
func Clean(text string) string {
	cleaned := metaTokenPattern.ReplaceAllString(text, "")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// PunctuationModel is the capability Punctuate routes through. Backends
// that can re-punctuate text (typically a secondary LLM call) implement
// this; kept separate from backend.SpeechBackend so the core is not tied to
// running punctuation on the same backend used for transcription.
type PunctuationModel interface {
	Punctuate(ctx context.Context, text, language string) (string, error)
}

// SupportedLanguages restricts Punctuate to languages the configured model
// actually handles. A nil set is treated as "all languages supported".
type SupportedLanguages map[string]struct{}

// Postprocessor runs the clean and optional punctuate steps.
type Postprocessor struct {
	model     PunctuationModel
	supported SupportedLanguages
	logger    *slog.Logger
}

// Option configures a Postprocessor.
type Option func(*Postprocessor)

// WithPunctuationModel enables the punctuate step using model.
func WithPunctuationModel(model PunctuationModel) Option {
	return func(p *Postprocessor) { p.model = model }
}

// WithSupportedLanguages restricts punctuation to the given language codes.
func WithSupportedLanguages(langs ...string) Option {
	return func(p *Postprocessor) {
		set := make(SupportedLanguages, len(langs))
		for _, l := range langs {
			set[l] = struct{}{}
		}
		p.supported = set
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Postprocessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Postprocessor. With no options, Punctuate is a no-op that
// returns the cleaned text unchanged — clean is always run regardless.
func New(opts ...Option) *Postprocessor {
	p := &Postprocessor{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs clean, then punctuate if configured and the language is
// supported. Punctuation failures are logged and absorbed — the cleaned
// text is always returned, never an error from this step.
func (p *Postprocessor) Process(ctx context.Context, text, language string) string {
	cleaned := Clean(text)
	if cleaned == "" {
		return cleaned
	}
	return p.Punctuate(ctx, cleaned, language)
}

// Punctuate routes text through the configured PunctuationModel. Returns
// text unchanged if no model is configured, the language is unsupported,
// or the model call fails.
func (p *Postprocessor) Punctuate(ctx context.Context, text, language string) string {
	if p.model == nil {
		return text
	}
	if p.supported != nil {
		if _, ok := p.supported[language]; !ok {
			return text
		}
	}

	result, err := p.model.Punctuate(ctx, text, language)
	if err != nil {
		p.logger.WarnContext(ctx, "punctuation failed, returning original text",
			slog.String("language", language), slog.Any("error", err))
		return text
	}
	return result
}
