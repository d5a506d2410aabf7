package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	failures int
	calls    int
	sent     []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

type fakeStatus struct {
	stats models.Stats
	last  *models.Candidate
}

func (f *fakeStatus) Stats() models.Stats                   { return f.stats }
func (f *fakeStatus) ByInstrument() map[string]models.Stats { return map[string]models.Stats{"NIFTY": f.stats} }
func (f *fakeStatus) Status() string                        { return "running <3 instruments>" }
func (f *fakeStatus) LastCandidate() (models.Candidate, bool) {
	if f.last == nil {
		return models.Candidate{}, false
	}
	return *f.last, true
}

func testCandidate() models.Candidate {
	return models.Candidate{
		ID:         "c1",
		Snapshot:   models.Snapshot{Instrument: "NIFTY", Price: 24512.35, Indicators: models.Indicators{RSI: 64.2, VolumeRatio: 1.3}},
		Profile:    "default",
		Direction:  models.Bullish,
		Confidence: 82,
		Strike:     decimal.RequireFromString("24500"),
		OptionType: models.Call,
		Entry:      decimal.RequireFromString("24512.35"),
		Target:     decimal.RequireFromString("24659.42"),
		StopLoss:   decimal.RequireFromString("24414.3"),
		Accepted:   true,
		CreatedAt:  time.Date(2026, 1, 5, 4, 0, 0, 0, time.UTC),
	}
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"a < b", "a &lt; b"},
		{"a > b", "a &gt; b"},
		{"P&L", "P&amp;L"},
		{"<b>&</b>", "&lt;b&gt;&amp;&lt;/b&gt;"},
		{"Price: 100.50 (ok)", "Price: 100.50 (ok)"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeHTML(tt.input))
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := NewClient("", "not-a-number", 3, time.Second, nil)
	assert.Error(t, err)
}

func TestSendHTML_RetriesThenSucceeds(t *testing.T) {
	fs := &fakeSender{failures: 2}
	c := newClient(fs, 42, 3, time.Millisecond, nil)

	require.NoError(t, c.SendHTML(context.Background(), "<b>hi</b>"))
	assert.Equal(t, 3, fs.calls)
	require.Len(t, fs.sent, 1)
	assert.Equal(t, tgbotapi.ModeHTML, fs.sent[0].ParseMode)
	assert.Equal(t, int64(42), fs.sent[0].ChatID)
}

func TestSendHTML_GivesUp(t *testing.T) {
	fs := &fakeSender{failures: 10}
	c := newClient(fs, 42, 2, time.Millisecond, nil)

	err := c.SendHTML(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 2, fs.calls)
}

func TestSendError_EscapesMessage(t *testing.T) {
	fs := &fakeSender{}
	c := newClient(fs, 1, 1, time.Millisecond, nil)
	require.NoError(t, c.SendError(context.Background(), errors.New("status <502>")))
	require.Len(t, fs.sent, 1)
	assert.Contains(t, fs.sent[0].Text, "status &lt;502&gt;")
}

func TestSendStats(t *testing.T) {
	fs := &fakeSender{}
	c := newClient(fs, 7, 1, time.Millisecond, nil)
	st := models.Stats{Total: 4, Wins: 3, Losses: 1, WinRate: 75, TotalPnL: decimal.NewFromInt(900)}

	require.NoError(t, c.SendStats(context.Background(), "Daily digest 2026-01-05", st, map[string]models.Stats{"NIFTY": st}))
	require.Len(t, fs.sent, 1)
	assert.Contains(t, fs.sent[0].Text, "Daily digest 2026-01-05")
	assert.Contains(t, fs.sent[0].Text, "win rate 75.0%")
}

func TestFormatCandidate(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	msg := FormatCandidate(testCandidate(), ist)

	for _, want := range []string{
		"<b>NIFTY 24500 CE</b> BULLISH",
		"Confidence: <b>82.0%</b>",
		"Entry: 24512.35 | Target: 24659.42 | SL: 24414.30",
		"2026-01-05 09:30:00 IST",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestFormatOutcome(t *testing.T) {
	o := models.Outcome{Instrument: "NIFTY", Direction: models.Bearish, Win: true, PnL: decimal.NewFromInt(1100)}
	msg := FormatOutcome(o, nil)
	assert.Contains(t, msg, "<b>WIN</b> NIFTY BEARISH")
	assert.Contains(t, msg, "P&amp;L: <b>+1100.00</b>")

	o.Win = false
	o.PnL = decimal.NewFromInt(-735)
	msg = FormatOutcome(o, nil)
	assert.Contains(t, msg, "<b>LOSS</b>")
	assert.Contains(t, msg, "<b>-735.00</b>")
}

func TestFormatStats_Empty(t *testing.T) {
	assert.Contains(t, FormatStats("Daily", models.Stats{}, nil), "No outcomes yet.")
}

func TestCommandReply(t *testing.T) {
	const chat = 1
	c := newClient(&fakeSender{}, chat, 1, time.Millisecond, nil)
	status := &fakeStatus{stats: models.Stats{Total: 2, Wins: 1, Losses: 1, WinRate: 50}}

	tests := []struct {
		command string
		from    int64
		want    string
		ok      bool
	}{
		{"ping", chat, "Pong", true},
		{"stats", chat, "win rate 50.0%", true},
		{"last", chat, "No accepted candidate yet.", true},
		{"status", chat, "running &lt;3 instruments&gt;", true},
		{"unknown", chat, "", false},
		{"ping", 999, "Pong", true},
		{"stats", 999, "", false},
		{"last", 999, "", false},
		{"status", 999, "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s from %d", tt.command, tt.from), func(t *testing.T) {
			got, ok := c.commandReply(tt.command, tt.from, status)
			require.Equal(t, tt.ok, ok)
			assert.Contains(t, got, tt.want)
		})
	}

	cand := testCandidate()
	status.last = &cand
	got, _ := c.commandReply("last", chat, status)
	assert.Contains(t, got, "NIFTY 24500 CE")
}

func commandMessage(text string, chatID int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}
}

func TestHandleCommand_AnswersOnlyConfiguredChat(t *testing.T) {
	fs := &fakeSender{}
	c := newClient(fs, 42, 1, time.Millisecond, nil)
	status := &fakeStatus{stats: models.Stats{Total: 1, Wins: 1, WinRate: 100}}

	c.handleCommand(commandMessage("/stats", 999), status)
	assert.Empty(t, fs.sent, "stats must not leak to another chat")

	c.handleCommand(commandMessage("/ping", 999), status)
	require.Len(t, fs.sent, 1)
	assert.Equal(t, int64(999), fs.sent[0].ChatID)
	assert.Equal(t, "Pong", fs.sent[0].Text)

	c.handleCommand(commandMessage("/stats", 42), status)
	require.Len(t, fs.sent, 2)
	assert.Equal(t, int64(42), fs.sent[1].ChatID)
	assert.Contains(t, fs.sent[1].Text, "win rate 100.0%")
}
