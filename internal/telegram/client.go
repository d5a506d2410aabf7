// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/strikewatch/internal/logger"
	"github.com/rewired-gh/strikewatch/internal/models"
)

// sender is the part of *tgbotapi.BotAPI the client needs to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StatusProvider answers bot commands.
type StatusProvider interface {
	Stats() models.Stats
	ByInstrument() map[string]models.Stats
	LastCandidate() (models.Candidate, bool)
	Status() string
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	send           sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	loc            *time.Location
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, loc *time.Location) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase, loc)
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration, loc *time.Location) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		send:           s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		loc:            loc,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, p StatusProvider) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, p)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, p StatusProvider) {
	text, ok := c.commandReply(msg.Command(), msg.Chat.ID, p)
	if !ok {
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = tgbotapi.ModeHTML
	if _, err := c.send.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// commandReply renders the answer to a bot command. Unknown commands are
// ignored, and only the configured chat gets anything beyond /ping.
func (c *Client) commandReply(command string, fromChat int64, p StatusProvider) (string, bool) {
	if command == "ping" {
		return "Pong", true
	}
	if fromChat != c.chatID {
		logger.Warn("Ignoring /%s from unknown chat %d", command, fromChat)
		return "", false
	}
	switch command {
	case "stats":
		return FormatStats("Performance", p.Stats(), p.ByInstrument()), true
	case "last":
		cand, ok := p.LastCandidate()
		if !ok {
			return "No accepted candidate yet.", true
		}
		return FormatCandidate(cand, c.loc), true
	case "status":
		return escapeHTML(p.Status()), true
	}
	return "", false
}

// SendHTML sends an HTML message with linear-backoff retry.
func (c *Client) SendHTML(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.send.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram send cancelled: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ <b>Monitoring error</b>\n<code>%s</code>", escapeHTML(cycleErr.Error()))
	return c.SendHTML(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ <b>Monitoring recovered</b> after %d consecutive failure(s)", failureCount)
	return c.SendHTML(ctx, text)
}

// SendCandidate announces an accepted candidate.
func (c *Client) SendCandidate(ctx context.Context, cand models.Candidate) error {
	return c.SendHTML(ctx, FormatCandidate(cand, c.loc))
}

// SendOutcome announces a simulated outcome.
func (c *Client) SendOutcome(ctx context.Context, o models.Outcome) error {
	return c.SendHTML(ctx, FormatOutcome(o, c.loc))
}

// SendStats sends a performance summary.
func (c *Client) SendStats(ctx context.Context, title string, total models.Stats, byInstrument map[string]models.Stats) error {
	return c.SendHTML(ctx, FormatStats(title, total, byInstrument))
}

func directionEmoji(d models.Direction) string {
	switch d {
	case models.Bullish:
		return "📈"
	case models.Bearish:
		return "📉"
	}
	return "➖"
}

// FormatCandidate renders a candidate as a Telegram HTML message.
func FormatCandidate(c models.Candidate, loc *time.Location) string {
	var b strings.Builder
	leg := c.Strike.String()
	if c.OptionType != models.None {
		leg += " " + string(c.OptionType)
	}
	fmt.Fprintf(&b, "%s <b>%s %s</b> %s\n", directionEmoji(c.Direction),
		escapeHTML(c.Instrument()), escapeHTML(leg), c.Direction)
	fmt.Fprintf(&b, "Confidence: <b>%.1f%%</b> (%s)\n", c.Confidence, escapeHTML(c.Profile))
	fmt.Fprintf(&b, "Entry: %s | Target: %s | SL: %s\n",
		c.Entry.StringFixed(2), c.Target.StringFixed(2), c.StopLoss.StringFixed(2))
	ind := c.Snapshot.Indicators
	fmt.Fprintf(&b, "RSI %.1f · MACD %.2f/%.2f · Mom %.2f%% · Vol x%.2f\n",
		ind.RSI, ind.MACD, ind.MACDSignal, ind.Momentum, ind.VolumeRatio)
	if !c.Accepted && c.RejectReason != "" {
		fmt.Fprintf(&b, "<i>Rejected: %s</i>\n", escapeHTML(c.RejectReason))
	}
	fmt.Fprintf(&b, "🕒 %s", formatTime(c.CreatedAt, loc))
	return b.String()
}

// FormatOutcome renders an outcome as a Telegram HTML message.
func FormatOutcome(o models.Outcome, loc *time.Location) string {
	emoji := "❌"
	if o.Win {
		emoji = "✅"
	}
	sign := ""
	if o.PnL.IsPositive() {
		sign = "+"
	}
	return fmt.Sprintf("%s <b>%s</b> %s %s\nP&amp;L: <b>%s%s</b>\nConfidence %.1f%% · p=%.2f · draw=%.3f\n🕒 %s",
		emoji, o.Result(), escapeHTML(o.Instrument), o.Direction,
		sign, o.PnL.StringFixed(2),
		o.Confidence, o.SuccessProbability, o.Draw,
		formatTime(o.ResolvedAt, loc))
}

// FormatStats renders overall and per-instrument statistics.
func FormatStats(title string, total models.Stats, byInstrument map[string]models.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>%s</b>\n", escapeHTML(title))
	if total.Total == 0 {
		b.WriteString("No outcomes yet.")
		return b.String()
	}
	writeStatsLine(&b, "All", total)

	names := make([]string, 0, len(byInstrument))
	for name := range byInstrument {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeStatsLine(&b, name, byInstrument[name])
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeStatsLine(b *strings.Builder, label string, s models.Stats) {
	fmt.Fprintf(b, "<b>%s</b>: %d calls, %d W / %d L, win rate %.1f%%, P&amp;L %s (avg %s)\n",
		escapeHTML(label), s.Total, s.Wins, s.Losses, s.WinRate,
		s.TotalPnL.StringFixed(2), s.AvgPnL.StringFixed(2))
}

func formatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04:05 MST")
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escapeHTML escapes the characters Telegram's HTML parse mode reserves.
func escapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}
