package telegram

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/medassistai/medassist/internal/history"
	"github.com/medassistai/medassist/internal/inbound"
)

// Handler receives mapped inbound traffic. HandleTurn owns the turn end to
// end, including delivering the reply or the apology; it reports nothing
// back to the listener.
type Handler interface {
	HandleTurn(ctx context.Context, unit inbound.Unit, sender history.Profile)
	ResetThread(ctx context.Context, chatID int64) error
}

// UpdateSource is the long-poll surface of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Listener long-polls for updates, answers the /start and /new commands
// inline, and dispatches everything else to the handler as its own
// goroutine so one slow turn never blocks another chat.
type Listener struct {
	source  UpdateSource
	gateway *Gateway
	handler Handler
	logger  *slog.Logger
}

func NewListener(log *slog.Logger, source UpdateSource, gateway *Gateway, handler Handler) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		source:  source,
		gateway: gateway,
		handler: handler,
		logger:  log.With(slog.String("service", "listener")),
	}
}

// Run consumes updates until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := l.source.GetUpdatesChan(updateConfig)
	l.logger.Info("listening for updates")

	for {
		select {
		case <-ctx.Done():
			l.source.StopReceivingUpdates()
			// Drain so the library's polling goroutine can finish its
			// in-flight long-poll request and exit.
			for range updates {
			}
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				l.logger.Info("updates channel closed")
				return nil
			}
			if update.Message == nil {
				continue
			}
			l.dispatch(ctx, update.Message)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		// Commands run off the update loop too: the /start pause must
		// not stall dispatch for other chats.
		go l.handleCommand(ctx, chatID, msg.Command())
		return
	}

	unit := MapUnit(msg)
	sender := mapSender(msg)
	l.logger.Info("inbound received",
		slog.Int64("chat_id", chatID),
		slog.String("content_type", unit.ContentType()))
	go l.handler.HandleTurn(ctx, unit, sender)
}

func (l *Listener) handleCommand(ctx context.Context, chatID int64, command string) {
	switch command {
	case "start":
		l.reply(ctx, chatID, WelcomeText)
		time.Sleep(300 * time.Millisecond)
		l.reply(ctx, chatID, DisclaimerText)
	case "new":
		if err := l.handler.ResetThread(ctx, chatID); err != nil {
			l.logger.Error("reset failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
			l.reply(ctx, chatID, ResetFailedText)
			return
		}
		l.reply(ctx, chatID, ResetDoneText)
	default:
		l.logger.Info("ignoring unknown command",
			slog.Int64("chat_id", chatID), slog.String("command", command))
	}
}

func (l *Listener) reply(ctx context.Context, chatID int64, text string) {
	if _, err := l.gateway.SendText(ctx, chatID, text); err != nil {
		l.logger.Error("send failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

// MapUnit converts a platform message into the closed inbound shape. The
// caption, when present, rides along as the unit's text.
func MapUnit(msg *tgbotapi.Message) inbound.Unit {
	unit := inbound.Unit{
		ChatID:    msg.Chat.ID,
		MessageID: int64(msg.MessageID),
		Text:      msg.Text,
	}
	if unit.Text == "" {
		unit.Text = msg.Caption
	}
	switch {
	case msg.Voice != nil:
		unit.Voice = &inbound.Voice{FileRef: msg.Voice.FileID}
	case msg.Audio != nil:
		unit.Audio = &inbound.Audio{FileRef: msg.Audio.FileID, Name: msg.Audio.FileName}
	case msg.Document != nil:
		unit.Document = &inbound.Document{
			FileRef: msg.Document.FileID,
			Name:    msg.Document.FileName,
			Mime:    msg.Document.MimeType,
		}
	case len(msg.Photo) > 0:
		best := pickPhoto(msg.Photo)
		unit.Photo = &inbound.Photo{FileRef: best.FileID}
	}
	return unit
}

func mapSender(msg *tgbotapi.Message) history.Profile {
	profile := history.Profile{ChatID: msg.Chat.ID}
	if msg.From != nil {
		profile.Username = msg.From.UserName
		profile.FirstName = msg.From.FirstName
		profile.LastName = msg.From.LastName
		profile.LanguageCode = msg.From.LanguageCode
	}
	return profile
}

// pickPhoto selects the largest rendition of a photo.
func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}
