package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidrelay/internal/domain"
	"vidrelay/internal/messages"
)

// --- fakes ---

type sentText struct {
	handle domain.MessageHandle
	text   string
	format domain.TextFormat
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	texts   []sentText
	deleted []domain.MessageHandle
	videos  []domain.VideoUpload
	events  []string

	sendTextErr  error
	deleteErr    error
	videoErr     error
	panicOnVideo bool
}

func (f *fakeTransport) SendText(_ context.Context, chat domain.ChatRef, text string, format domain.TextFormat) (domain.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "text")
	if f.sendTextErr != nil {
		return domain.MessageHandle{}, f.sendTextErr
	}
	f.nextID++
	h := domain.MessageHandle{ChatID: chat.ChatID, MessageID: f.nextID}
	f.texts = append(f.texts, sentText{handle: h, text: text, format: format})
	return h, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, msg domain.MessageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "delete")
	f.deleted = append(f.deleted, msg)
	return f.deleteErr
}

func (f *fakeTransport) SendVideo(_ context.Context, _ domain.ChatRef, video domain.VideoUpload) error {
	f.mu.Lock()
	f.events = append(f.events, "video")
	f.videos = append(f.videos, video)
	f.mu.Unlock()
	if f.panicOnVideo {
		panic("transport exploded")
	}
	return f.videoErr
}

func (f *fakeTransport) SendAction(context.Context, domain.ChatRef, domain.ChatAction) error {
	return nil
}

type fakeResolver struct {
	video       domain.ResolvedVideo
	err         error
	finalURL    string
	resolves    int
	redirects   int
	lastHeaders http.Header
}

func (r *fakeResolver) Resolve(context.Context, string) (domain.ResolvedVideo, error) {
	r.resolves++
	return r.video, r.err
}

func (r *fakeResolver) ResolveFinalURL(_ context.Context, candidate string, headers http.Header) string {
	r.redirects++
	r.lastHeaders = headers
	if r.finalURL == "" {
		return candidate
	}
	return r.finalURL
}

// --- helpers ---

var catsVideo = domain.ResolvedVideo{
	Title:           "Cats",
	DirectURL:       "https://cdn.example/v.mp4",
	DurationSeconds: 12,
	Extension:       "mp4",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(tr *fakeTransport, res *fakeResolver) *Pipeline {
	return New(Config{
		Transport:         tr,
		Resolver:          res,
		Messages:          messages.Default(),
		Validator:         NewLinkValidator("facebook.com"),
		FollowRedirects:   true,
		Headers:           http.Header{"User-Agent": {"test-agent"}},
		UploadReadTimeout: 90 * time.Second,
		Logger:            testLogger(),
	})
}

func incoming(text string) domain.IncomingMessage {
	return domain.IncomingMessage{Text: text, Chat: domain.ChatRef{ChatID: 77, MessageID: 5, SenderID: 9}}
}

func requirePlaceholderRetired(t *testing.T, tr *fakeTransport) {
	t.Helper()
	require.NotEmpty(t, tr.texts, "placeholder was never sent")
	require.Len(t, tr.deleted, 1)
	assert.Equal(t, tr.texts[0].handle, tr.deleted[0])
	assert.Equal(t, messages.Default().Placeholder, tr.texts[0].text)
}

// --- properties ---

func TestRun_InvalidInputMakesNoOutboundCalls(t *testing.T) {
	for _, text := range []string{"not a link", "", "https://youtube.com/watch?v=1", "   "} {
		t.Run(text, func(t *testing.T) {
			tr := &fakeTransport{}
			res := &fakeResolver{video: catsVideo}

			outcome := newPipeline(tr, res).Run(context.Background(), incoming(text))

			assert.Equal(t, domain.OutcomeInvalidInput, outcome)
			require.Len(t, tr.texts, 1)
			assert.True(t, strings.HasPrefix(tr.texts[0].text, "الرجاء إرسال رابط صحيح"))
			assert.Empty(t, tr.deleted)
			assert.Empty(t, tr.videos)
			assert.Zero(t, res.resolves)
			assert.Zero(t, res.redirects)
		})
	}
}

func TestRun_SuccessfulDelivery(t *testing.T) {
	tr := &fakeTransport{}
	res := &fakeResolver{video: catsVideo}

	outcome := newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))

	assert.Equal(t, domain.OutcomeDelivered, outcome)
	requirePlaceholderRetired(t, tr)
	require.Len(t, tr.texts, 1, "no text besides the placeholder may be sent")
	require.Len(t, tr.videos, 1)

	v := tr.videos[0]
	assert.Contains(t, v.Caption, "Cats")
	assert.Equal(t, "https://cdn.example/v.mp4", v.URL)
	assert.Equal(t, 12, v.DurationSeconds)
	assert.True(t, v.SupportsStreaming)
	assert.Equal(t, "video.mp4", v.Filename)
	assert.Equal(t, "test-agent", v.Headers.Get("User-Agent"))
	assert.Equal(t, 90*time.Second, v.ReadTimeout)

	assert.Equal(t, []string{"text", "video", "delete"}, tr.events)
}

func TestRun_UsesRedirectResolvedURLForUpload(t *testing.T) {
	tr := &fakeTransport{}
	res := &fakeResolver{video: catsVideo, finalURL: "https://edge.cdn.example/final.mp4"}

	newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))

	require.Len(t, tr.videos, 1)
	assert.Equal(t, "https://edge.cdn.example/final.mp4", tr.videos[0].URL)
	assert.Equal(t, 1, res.redirects)
	assert.Equal(t, "test-agent", res.lastHeaders.Get("User-Agent"))
}

func TestRun_RedirectsDisabled(t *testing.T) {
	tr := &fakeTransport{}
	res := &fakeResolver{video: catsVideo, finalURL: "https://edge.cdn.example/final.mp4"}
	p := newPipeline(tr, res)
	p.followRedirects = false

	p.Run(context.Background(), incoming("https://facebook.com/video/123"))

	assert.Zero(t, res.redirects)
	assert.Equal(t, catsVideo.DirectURL, tr.videos[0].URL)
}

func TestRun_UploadFailureSendsFallbackLink(t *testing.T) {
	tr := &fakeTransport{videoErr: errors.New("Bad Request: failed to get HTTP URL content")}
	res := &fakeResolver{video: catsVideo, finalURL: "https://edge.cdn.example/final.mp4"}

	outcome := newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))

	assert.Equal(t, domain.OutcomeFallbackLink, outcome)
	requirePlaceholderRetired(t, tr)
	require.Len(t, tr.texts, 2)
	fallback := tr.texts[1]
	assert.Contains(t, fallback.text, "https://cdn.example/v.mp4", "fallback must carry the literal direct url")
	assert.Contains(t, fallback.text, "Cats")
	assert.Equal(t, domain.FormatMarkdown, fallback.format)

	assert.Equal(t, []string{"text", "video", "delete", "text"}, tr.events)
}

func TestRun_BackendApplicationFailure(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		want   string
	}{
		{"with detail", "Video is private", "Video is private"},
		{"without detail", "", messages.Default().UnknownBackendError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{}
			res := &fakeResolver{err: &domain.ResolutionError{Kind: domain.FailureApplication, Detail: tt.detail}}

			outcome := newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))

			assert.Equal(t, domain.OutcomeBackendApplication, outcome)
			requirePlaceholderRetired(t, tr)
			require.Len(t, tr.texts, 2)
			assert.Contains(t, tr.texts[1].text, tt.want)
			assert.Empty(t, tr.videos, "upload must never be attempted after a backend failure")
			assert.Zero(t, res.redirects)
			assert.Equal(t, []string{"text", "delete", "text"}, tr.events)
		})
	}
}

func TestRun_BackendTimeoutIsTransportError(t *testing.T) {
	tr := &fakeTransport{}
	res := &fakeResolver{err: &domain.ResolutionError{
		Kind: domain.FailureTransport,
		Err:  context.DeadlineExceeded,
	}}

	outcome := newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))

	assert.Equal(t, domain.OutcomeBackendTransport, outcome)
	requirePlaceholderRetired(t, tr)
	require.Len(t, tr.texts, 2)
	assert.Equal(t, messages.Default().BackendUnreachable, tr.texts[1].text)
	assert.Empty(t, tr.videos)
}

func TestRun_UnclassifiedResolverError(t *testing.T) {
	tr := &fakeTransport{}
	res := &fakeResolver{err: errors.New("something odd")}

	outcome := newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))

	assert.Equal(t, domain.OutcomeUnclassified, outcome)
	requirePlaceholderRetired(t, tr)
	assert.Equal(t, messages.Default().UnexpectedError, tr.texts[len(tr.texts)-1].text)
}

func TestRun_PanicIsRecovered(t *testing.T) {
	tr := &fakeTransport{panicOnVideo: true}
	res := &fakeResolver{video: catsVideo}

	var outcome domain.Outcome
	require.NotPanics(t, func() {
		outcome = newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))
	})

	assert.Equal(t, domain.OutcomeUnclassified, outcome)
	requirePlaceholderRetired(t, tr)
	assert.Equal(t, messages.Default().UnexpectedError, tr.texts[len(tr.texts)-1].text)
}

func TestRun_PlaceholderDeleteFailureDoesNotBlock(t *testing.T) {
	tr := &fakeTransport{deleteErr: errors.New("message to delete not found")}
	res := &fakeResolver{video: catsVideo}

	outcome := newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))

	assert.Equal(t, domain.OutcomeDelivered, outcome)
	assert.Len(t, tr.deleted, 1)
}

func TestRun_PlaceholderSendFailureStillDelivers(t *testing.T) {
	tr := &fakeTransport{sendTextErr: errors.New("chat not found")}
	res := &fakeResolver{video: catsVideo}

	outcome := newPipeline(tr, res).Run(context.Background(), incoming("https://facebook.com/video/123"))

	assert.Equal(t, domain.OutcomeDelivered, outcome)
	assert.Empty(t, tr.deleted, "nothing to delete when the placeholder was never shown")
	assert.Len(t, tr.videos, 1)
}

func TestRun_RedirectFailureDoesNotChangeOutcome(t *testing.T) {
	// A resolver whose redirect step fails returns the candidate unchanged,
	// which must be indistinguishable from not following redirects at all.
	run := func(follow bool, videoErr error) (domain.Outcome, []string, string) {
		tr := &fakeTransport{videoErr: videoErr}
		p := newPipeline(tr, &fakeResolver{video: catsVideo})
		p.followRedirects = follow
		outcome := p.Run(context.Background(), incoming("https://facebook.com/video/123"))
		return outcome, tr.events, tr.videos[0].URL
	}

	for _, videoErr := range []error{nil, errors.New("upload failed")} {
		o1, e1, u1 := run(true, videoErr)
		o2, e2, u2 := run(false, videoErr)
		assert.Equal(t, o2, o1)
		assert.Equal(t, e2, e1)
		assert.Equal(t, u2, u1)
	}
}

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	res := &fakeResolver{video: catsVideo}
	var wg sync.WaitGroup
	transports := make([]*fakeTransport, 16)
	for i := range transports {
		transports[i] = &fakeTransport{}
	}

	for _, tr := range transports {
		wg.Add(1)
		go func(tr *fakeTransport) {
			defer wg.Done()
			p := newPipeline(tr, &fakeResolver{video: res.video})
			p.Run(context.Background(), incoming("https://facebook.com/video/123"))
		}(tr)
	}
	wg.Wait()

	for _, tr := range transports {
		assert.Equal(t, []string{"text", "video", "delete"}, tr.events)
	}
}

func TestHandleStartAndHelp(t *testing.T) {
	tr := &fakeTransport{}
	p := newPipeline(tr, &fakeResolver{})

	p.HandleStart(context.Background(), incoming("/start"))
	p.HandleHelp(context.Background(), incoming("/help"))

	require.Len(t, tr.texts, 2)
	assert.Equal(t, messages.Default().Welcome, tr.texts[0].text)
	assert.Equal(t, messages.Default().Help, tr.texts[1].text)
}

func TestCaption_Truncates(t *testing.T) {
	long := strings.Repeat("ك", 2000)
	got := caption(long)
	assert.Equal(t, maxCaptionRunes, len([]rune(got)))
	assert.Equal(t, "Cats", caption("Cats"))
}
