package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/events"
	"github.com/zulandar/switchyard/internal/logging"
)

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	msgs []Message
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingSink) sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func TestFormat(t *testing.T) {
	failed := Format(events.AIFailed("c-1", "AI service failed after maximum retries"))
	assert.Equal(t, "Call c-1 enrichment failed", failed.Title)
	assert.Equal(t, ColorError, failed.Color)
	assert.Equal(t, "AI service failed after maximum retries", failed.Body)

	done := Format(events.AICompleted("c-2", "hello", "positive"))
	assert.Equal(t, ColorSuccess, done.Color)
	require.Len(t, done.Fields, 2)
	assert.Equal(t, "positive", done.Fields[1].Value)

	changed := Format(events.StateChanged("c-3", "PROCESSING_AI", "FAILED"))
	assert.Equal(t, "Call c-3 is now FAILED", changed.Title)
	assert.Equal(t, ColorWarning, changed.Color)

	pkt := Format(events.PacketReceived("c-4", 5, 4, []int{3, 4}))
	assert.Equal(t, "Call c-4 received packet 5", pkt.Title)
	assert.Equal(t, "3, 4", pkt.Fields[1].Value)

	none := Format(events.PacketReceived("c-4", 0, 1, nil))
	assert.Equal(t, "none", none.Fields[1].Value)
}

func TestMessage_Fallback(t *testing.T) {
	assert.Equal(t, "T", Message{Title: "T"}.Fallback())
	assert.Equal(t, "T: B", Message{Title: "T", Body: "B"}.Fallback())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}

func TestNewForwarder_Validation(t *testing.T) {
	_, err := NewForwarder(ForwarderOpts{})
	assert.ErrorContains(t, err, "hub is required")

	_, err = NewForwarder(ForwarderOpts{Hub: events.NewHub()})
	assert.ErrorContains(t, err, "sink")
}

func TestForwarder_FiltersAndFansOut(t *testing.T) {
	hub := events.NewHub()
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("down")}
	f, err := NewForwarder(ForwarderOpts{Hub: hub, Sinks: []Sink{a, b}, Logger: logging.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(events.PacketReceived("c-1", 0, 1, nil))
	hub.Publish(events.AICompleted("c-1", "t", "neutral"))
	hub.Publish(events.AIFailed("c-2", "gave up"))

	require.Eventually(t, func() bool { return len(a.sent()) == 1 && len(b.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Call c-2 enrichment failed", a.sent()[0].Title)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, hub.Len())
}

func TestForwarder_CustomEventsAndHubClose(t *testing.T) {
	hub := events.NewHub()
	a := &recordingSink{name: "a"}
	f, err := NewForwarder(ForwarderOpts{Hub: hub, Sinks: []Sink{a}, Events: []string{events.TypeAICompleted}, Logger: logging.Discard()})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		f.Run(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(events.AIFailed("c-1", "x"))
	hub.Publish(events.AICompleted("c-1", "t", "positive"))
	require.Eventually(t, func() bool { return len(a.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ColorSuccess, a.sent()[0].Color)

	hub.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after hub close")
	}
}

type fakeSlack struct {
	calls int
	errs  []error
	opts  []slackapi.MsgOption
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	f.calls++
	f.opts = options
	if len(f.errs) >= f.calls {
		return "", "", f.errs[f.calls-1]
	}
	return channelID, "1700000000.000100", nil
}

func TestSlack_Send(t *testing.T) {
	fake := &fakeSlack{}
	s := &Slack{client: fake, channelID: "C01"}
	require.NoError(t, s.Send(context.Background(), Format(events.AIFailed("c-1", "x"))))
	assert.Equal(t, 1, fake.calls)
	assert.Len(t, fake.opts, 2)
	assert.Equal(t, "slack", s.Name())
}

func TestSlack_RetriesRateLimit(t *testing.T) {
	fake := &fakeSlack{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s := &Slack{client: fake, channelID: "C01"}
	require.NoError(t, s.Send(context.Background(), Message{Title: "t"}))
	assert.Equal(t, 2, fake.calls)
}

func TestSlack_NonRateLimitErrorNotRetried(t *testing.T) {
	fake := &fakeSlack{errs: []error{errors.New("channel_not_found")}}
	s := &Slack{client: fake, channelID: "C01"}
	err := s.Send(context.Background(), Message{Title: "t"})
	assert.ErrorContains(t, err, "channel_not_found")
	assert.Equal(t, 1, fake.calls)
}

func TestToAttachment(t *testing.T) {
	att := toAttachment(Message{Title: "T", Body: "B", Color: ColorError, Fields: []Field{{Name: "Call", Value: "c-1", Short: true}}})
	assert.Equal(t, "T", att.Title)
	assert.Equal(t, "B", att.Text)
	assert.Equal(t, "T: B", att.Fallback)
	require.Len(t, att.Fields, 1)
	assert.Equal(t, "c-1", att.Fields[0].Value)
	assert.True(t, att.Fields[0].Short)
}

type fakeDiscord struct {
	calls  int
	errs   []error
	embeds []*discordgo.MessageEmbed
}

func (f *fakeDiscord) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.calls++
	f.embeds = append(f.embeds, embed)
	if len(f.errs) >= f.calls {
		return nil, f.errs[f.calls-1]
	}
	return &discordgo.Message{ChannelID: channelID}, nil
}

func TestDiscord_Send(t *testing.T) {
	fake := &fakeDiscord{}
	d := &Discord{sess: fake, channelID: "123", baseBackoff: time.Millisecond}
	require.NoError(t, d.Send(context.Background(), Format(events.AICompleted("c-1", "hi", "positive"))))
	require.Len(t, fake.embeds, 1)
	assert.Equal(t, parseHexColor(ColorSuccess), fake.embeds[0].Color)
	assert.Len(t, fake.embeds[0].Fields, 2)
	assert.Equal(t, "discord", d.Name())
}

func TestDiscord_RetriesRateLimit(t *testing.T) {
	rateLimited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	fake := &fakeDiscord{errs: []error{rateLimited, rateLimited}}
	d := &Discord{sess: fake, channelID: "123", baseBackoff: time.Millisecond}
	require.NoError(t, d.Send(context.Background(), Message{Title: "t"}))
	assert.Equal(t, 3, fake.calls)
}

func TestDiscord_GivesUp(t *testing.T) {
	rateLimited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	fake := &fakeDiscord{errs: []error{rateLimited, rateLimited, rateLimited, rateLimited, rateLimited}}
	d := &Discord{sess: fake, channelID: "123", baseBackoff: time.Millisecond}
	err := d.Send(context.Background(), Message{Title: "t"})
	require.Error(t, err)
	assert.Equal(t, maxRetries+1, fake.calls)
}

func TestParseHexColor(t *testing.T) {
	assert.Equal(t, 0x36a64f, parseHexColor("#36a64f"))
	assert.Equal(t, 0xE53935, parseHexColor("E53935"))
	assert.Equal(t, 0, parseHexColor(""))
}

func TestSinksFromConfig(t *testing.T) {
	sinks, err := SinksFromConfig(config.NotifyConfig{})
	require.NoError(t, err)
	assert.Empty(t, sinks)

	sinks, err = SinksFromConfig(config.NotifyConfig{
		Slack:   config.ChannelConfig{BotToken: "xoxb-1", ChannelID: "C01"},
		Discord: config.ChannelConfig{BotToken: "abc", ChannelID: "123"},
	})
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.Equal(t, "slack", sinks[0].Name())
	assert.Equal(t, "discord", sinks[1].Name())
}
