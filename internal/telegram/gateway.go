// Package telegram adapts the bot API: outbound delivery, the typing
// indicator, attachment downloads, and the inbound long-poll listener.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxMessageLength = 4096

// BotAPI is the slice of *tgbotapi.BotAPI the gateway uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Gateway delivers outbound messages and fetches attachment bytes. Every
// operation is best-effort from the turn's point of view: a delivery
// failure is logged by the caller but never reopens the turn.
type Gateway struct {
	bot    BotAPI
	client *http.Client
	logger *slog.Logger
}

func NewGateway(log *slog.Logger, bot BotAPI) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		bot:    bot,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: log.With(slog.String("service", "telegram")),
	}
}

// SendText sends one text message and returns the platform message id.
func (g *Gateway) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := g.bot.Send(tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text))))
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	return int64(sent.MessageID), nil
}

// SendTyping emits one "typing" chat action. The platform clears the
// indicator on its own after a few seconds.
func (g *Gateway) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("send typing action: %w", err)
	}
	return nil
}

// DownloadAttachment resolves a file reference and fetches its bytes.
func (g *Gateway) DownloadAttachment(ctx context.Context, fileRef string) ([]byte, error) {
	url, err := g.bot.GetFileDirectURL(fileRef)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("download attachment status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment body: %w", err)
	}
	return data, nil
}

// sanitizeText ensures text is valid UTF-8 for the bot API.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText is the last-resort guard against oversized payloads; the
// splitter upstream keeps chunks under the platform limit already. The
// platform limit counts characters, so the guard counts runes, never bytes.
func truncateText(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	runes := []rune(text)
	return string(runes[:maxMessageLength-len(suffix)]) + suffix
}
