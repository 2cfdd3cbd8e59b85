// Package relay turns a chat message carrying a video link into a delivered
// video, a direct-link fallback, or a failure reply.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"vidrelay/internal/domain"
	"vidrelay/internal/messages"
	"vidrelay/internal/metrics"
)

// Telegram rejects captions longer than this many characters.
const maxCaptionRunes = 1024

// Pipeline runs one independent resolve-and-deliver sequence per message.
// It holds only read-only configuration and is safe for concurrent use.
type Pipeline struct {
	transport domain.ChatTransport
	resolver  domain.Resolver
	messages  *messages.Catalog
	validator LinkValidator

	followRedirects bool
	headers         http.Header
	readTimeout     time.Duration
	filenameStem    string

	logger *slog.Logger
}

type Config struct {
	Transport domain.ChatTransport
	Resolver  domain.Resolver
	Messages  *messages.Catalog
	Validator LinkValidator

	FollowRedirects   bool
	Headers           http.Header
	UploadReadTimeout time.Duration
	FilenameStem      string

	Logger *slog.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.Messages == nil {
		cfg.Messages = messages.Default()
	}
	if cfg.FilenameStem == "" {
		cfg.FilenameStem = "video"
	}
	if cfg.UploadReadTimeout <= 0 {
		cfg.UploadReadTimeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		transport:       cfg.Transport,
		resolver:        cfg.Resolver,
		messages:        cfg.Messages,
		validator:       cfg.Validator,
		followRedirects: cfg.FollowRedirects,
		headers:         cfg.Headers,
		readTimeout:     cfg.UploadReadTimeout,
		filenameStem:    cfg.FilenameStem,
		logger:          cfg.Logger,
	}
}

// HandleText implements domain.MessageHandler.
func (p *Pipeline) HandleText(ctx context.Context, msg domain.IncomingMessage) {
	p.Run(ctx, msg)
}

// HandleStart replies with the fixed welcome text.
func (p *Pipeline) HandleStart(ctx context.Context, msg domain.IncomingMessage) {
	p.reply(ctx, p.logger, msg.Chat, p.messages.Welcome, domain.FormatPlain)
}

func (p *Pipeline) HandleHelp(ctx context.Context, msg domain.IncomingMessage) {
	p.reply(ctx, p.logger, msg.Chat, p.messages.Help, domain.FormatPlain)
}

// Run drives a message through validation, resolution and delivery and
// returns the terminal outcome. Every path that shows a placeholder retires
// it before returning, and every path sends the user exactly one terminal
// response.
func (p *Pipeline) Run(ctx context.Context, msg domain.IncomingMessage) (outcome domain.Outcome) {
	log := p.logger.With("run_id", uuid.NewString(), "chat_id", msg.Chat.ChatID)
	start := time.Now()
	metrics.InFlightRuns.Inc()

	var ph *placeholder

	defer func() {
		metrics.InFlightRuns.Dec()
		metrics.ObserveSince(metrics.PipelineDuration, start)
		metrics.PipelineRuns.WithLabelValues(string(outcome)).Inc()
		log.Info("pipeline finished", "outcome", outcome, "elapsed", time.Since(start).Round(time.Millisecond))
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected error", "kind", domain.OutcomeUnclassified, "panic", r, "stack", string(debug.Stack()))
			ph.Release(ctx)
			p.reply(ctx, log, msg.Chat, p.messages.UnexpectedError, domain.FormatPlain)
			outcome = domain.OutcomeUnclassified
		}
	}()

	sourceURL, ok := p.validator.Check(msg.Text)
	if !ok {
		log.Info("message rejected", "kind", domain.OutcomeInvalidInput, "text_len", len(msg.Text))
		p.reply(ctx, log, msg.Chat, p.messages.InvalidLink, domain.FormatPlain)
		return domain.OutcomeInvalidInput
	}

	ph = p.showPlaceholder(ctx, log, msg.Chat)
	defer ph.Release(ctx)

	video, err := p.resolver.Resolve(ctx, sourceURL)
	if err != nil {
		return p.failResolution(ctx, log, msg.Chat, ph, err)
	}
	log.Info("video resolved", "title", video.Title, "duration", video.DurationSeconds, "ext", video.Extension)

	finalURL := video.DirectURL
	if p.followRedirects {
		finalURL = p.resolver.ResolveFinalURL(ctx, video.DirectURL, p.headers)
	}

	attempt := p.deliver(ctx, log, msg.Chat, video, finalURL)
	ph.Release(ctx)

	if attempt.Outcome == domain.Delivered {
		log.Info("video delivered")
		return domain.OutcomeDelivered
	}

	log.Warn("video upload failed, sending direct link", "kind", "delivery_upload", "err", attempt.Reason)
	p.reply(ctx, log, msg.Chat, p.messages.FallbackLinkText(video.Title, video.DirectURL), domain.FormatMarkdown)
	return domain.OutcomeFallbackLink
}

func (p *Pipeline) showPlaceholder(ctx context.Context, log *slog.Logger, chat domain.ChatRef) *placeholder {
	handle, err := p.transport.SendText(ctx, chat, p.messages.Placeholder, domain.FormatPlain)
	if err != nil {
		log.Warn("placeholder send failed", "err", err)
	}
	return &placeholder{transport: p.transport, handle: handle, logger: log}
}

func (p *Pipeline) failResolution(ctx context.Context, log *slog.Logger, chat domain.ChatRef, ph *placeholder, err error) domain.Outcome {
	ph.Release(ctx)

	var re *domain.ResolutionError
	if !errors.As(err, &re) {
		log.Error("unexpected error", "kind", domain.OutcomeUnclassified, "err", err)
		p.reply(ctx, log, chat, p.messages.UnexpectedError, domain.FormatPlain)
		return domain.OutcomeUnclassified
	}

	if re.Kind == domain.FailureApplication {
		log.Warn("backend reported failure", "kind", domain.OutcomeBackendApplication, "detail", re.Detail, "err", re.Err)
		p.reply(ctx, log, chat, p.messages.BackendFailureText(re.Detail), domain.FormatPlain)
		return domain.OutcomeBackendApplication
	}

	log.Error("backend unreachable", "kind", domain.OutcomeBackendTransport, "err", re.Err)
	p.reply(ctx, log, chat, p.messages.BackendUnreachable, domain.FormatPlain)
	return domain.OutcomeBackendTransport
}

func (p *Pipeline) deliver(ctx context.Context, log *slog.Logger, chat domain.ChatRef, video domain.ResolvedVideo, finalURL string) domain.DeliveryAttempt {
	if err := p.transport.SendAction(ctx, chat, domain.ActionUploadVideo); err != nil {
		log.Debug("chat action failed", "err", err)
	}

	upload := domain.VideoUpload{
		URL:               finalURL,
		Caption:           caption(video.Title),
		DurationSeconds:   video.DurationSeconds,
		SupportsStreaming: true,
		Filename:          p.filenameStem + "." + video.Extension,
		Headers:           p.headers.Clone(),
		ReadTimeout:       p.readTimeout,
	}
	attempt := domain.DeliveryAttempt{FinalURL: finalURL, Headers: upload.Headers}

	start := time.Now()
	err := p.transport.SendVideo(ctx, chat, upload)
	metrics.ObserveSince(metrics.UploadLatency, start)

	if err != nil {
		attempt.Outcome = domain.UploadFailed
		attempt.Reason = err
		return attempt
	}
	attempt.Outcome = domain.Delivered
	return attempt
}

func (p *Pipeline) reply(ctx context.Context, log *slog.Logger, chat domain.ChatRef, text string, format domain.TextFormat) {
	if _, err := p.transport.SendText(ctx, chat, text, format); err != nil {
		log.Error("reply failed", "err", err)
	}
}

func caption(title string) string {
	if utf8.RuneCountInString(title) <= maxCaptionRunes {
		return title
	}
	r := []rune(title)
	return string(r[:maxCaptionRunes-1]) + "…"
}
