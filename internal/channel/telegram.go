package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vidrelay/internal/config"
	"vidrelay/internal/domain"
)

const (
	telegramAPITimeout       = 30 * time.Second
	telegramDefaultReadLimit = 120 * time.Second
)

// Telegram is the chat transport backed by the Telegram Bot API. It polls for
// updates and hands every text message to a MessageHandler on its own
// goroutine.
type Telegram struct {
	token            string
	apiEndpoint      string
	allowFrom        []int64 // empty = allow all
	parseMode        string
	pollTimeout      int
	uploadMode       string
	unauthorizedText string

	transport *http.Transport
	bot       *tgbotapi.BotAPI
	logger    *slog.Logger

	inflight sync.WaitGroup
}

type TelegramConfig struct {
	Token            string
	APIEndpoint      string // defaults to tgbotapi.APIEndpoint
	AllowFrom        []int64
	ParseMode        string
	PollTimeout      int
	UploadMode       string // config.UploadModeURL | config.UploadModeProxy
	UnauthorizedText string
	Logger           *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.UploadMode == "" {
		cfg.UploadMode = config.UploadModeURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:            cfg.Token,
		apiEndpoint:      cfg.APIEndpoint,
		allowFrom:        cfg.AllowFrom,
		parseMode:        cfg.ParseMode,
		pollTimeout:      cfg.PollTimeout,
		uploadMode:       cfg.UploadMode,
		unauthorizedText: cfg.UnauthorizedText,
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates the bot token against the API.
func (t *Telegram) Connect() error {
	client := &http.Client{Transport: t.transport, Timeout: telegramAPITimeout + time.Duration(t.pollTimeout)*time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.apiEndpoint, client)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Username returns the bot's @handle once connected.
func (t *Telegram) Username() string {
	if t.bot == nil {
		return ""
	}
	return t.bot.Self.UserName
}

// Start polls for updates until ctx is cancelled. Each update runs on its own
// goroutine with a context that is not cancelled by shutdown; use Wait to
// let in-flight runs finish.
func (t *Telegram) Start(ctx context.Context, handler domain.MessageHandler) error {
	if t.bot == nil {
		if err := t.Connect(); err != nil {
			return err
		}
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	runCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.inflight.Add(1)
			go func() {
				defer t.inflight.Done()
				t.handleUpdate(runCtx, handler, update)
			}()
		}
	}
}

// Wait blocks until every dispatched update has been handled or timeout
// elapses. It reports whether all runs finished.
func (t *Telegram) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, handler domain.MessageHandler, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}

	msg := domain.IncomingMessage{
		Text: m.Text,
		Chat: domain.ChatRef{ChatID: m.Chat.ID, MessageID: m.MessageID, SenderID: m.From.ID},
	}

	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", m.From.ID,
			"username", m.From.UserName,
		)
		if t.unauthorizedText != "" {
			if _, err := t.SendText(ctx, msg.Chat, t.unauthorizedText, domain.FormatPlain); err != nil {
				t.logger.Error("unauthorized reply failed", "err", err)
			}
		}
		return
	}

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			handler.HandleStart(ctx, msg)
		case "help":
			handler.HandleHelp(ctx, msg)
		default:
			t.logger.Debug("ignoring unknown command", "command", m.Command())
		}
		return
	}

	// Only text events are subscribed; media and service messages are dropped.
	if strings.TrimSpace(m.Text) == "" {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", m.From.ID,
		"chat_id", m.Chat.ID,
		"text_len", len(m.Text),
	)
	handler.HandleText(ctx, msg)
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// SendText replies to the chat. Markdown that Telegram refuses to parse is
// resent once as plain text.
func (t *Telegram) SendText(ctx context.Context, chat domain.ChatRef, text string, format domain.TextFormat) (domain.MessageHandle, error) {
	msg := tgbotapi.NewMessage(chat.ChatID, text)
	msg.ReplyToMessageID = chat.MessageID
	msg.AllowSendingWithoutReply = true
	msg.DisableWebPagePreview = true
	if format == domain.FormatMarkdown {
		msg.ParseMode = t.parseMode
	}

	sent, err := t.bot.Send(msg)
	if err != nil && msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram markdown parse error, retrying as plain text",
			"err", err, "parseMode", msg.ParseMode,
		)
		msg.ParseMode = ""
		sent, err = t.bot.Send(msg)
	}
	if err != nil {
		return domain.MessageHandle{}, fmt.Errorf("telegram send message: %w", err)
	}
	return domain.MessageHandle{ChatID: chat.ChatID, MessageID: sent.MessageID}, nil
}

func (t *Telegram) DeleteMessage(ctx context.Context, h domain.MessageHandle) error {
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(h.ChatID, h.MessageID)); err != nil {
		return fmt.Errorf("telegram delete message: %w", err)
	}
	return nil
}

func (t *Telegram) SendAction(ctx context.Context, chat domain.ChatRef, action domain.ChatAction) error {
	_, err := t.bot.Request(tgbotapi.NewChatAction(chat.ChatID, string(action)))
	return err
}

// SendVideo delivers the video by URL. In url mode Telegram fetches the file
// itself; in proxy mode the relay opens the URL with the supplied headers and
// streams the body to Telegram. Any failure wraps domain.ErrUploadFailed.
func (t *Telegram) SendVideo(ctx context.Context, chat domain.ChatRef, video domain.VideoUpload) error {
	readTimeout := video.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = telegramDefaultReadLimit
	}
	client := &http.Client{Transport: t.transport, Timeout: readTimeout}

	var file tgbotapi.RequestFileData = tgbotapi.FileURL(video.URL)
	if t.uploadMode == config.UploadModeProxy {
		body, err := t.openSource(ctx, client, video)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
		}
		defer body.Close()
		file = tgbotapi.FileReader{Name: video.Filename, Reader: body}
	}

	cfg := tgbotapi.NewVideo(chat.ChatID, file)
	cfg.Caption = video.Caption
	cfg.Duration = video.DurationSeconds
	cfg.SupportsStreaming = video.SupportsStreaming
	cfg.ReplyToMessageID = chat.MessageID
	cfg.AllowSendingWithoutReply = true

	// Uploads get their own read budget; the shared bot client keeps the
	// shorter API timeout.
	uploader := *t.bot
	uploader.Client = client

	if _, err := uploader.Send(cfg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
	}
	return nil
}

func (t *Telegram) openSource(ctx context.Context, client *http.Client, video domain.VideoUpload) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, video.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build source request: %w", err)
	}
	for k, vs := range video.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errors.New("fetch source: " + resp.Status)
	}
	return resp.Body, nil
}
