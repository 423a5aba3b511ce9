// Package orchestrator runs the per-turn pipeline: record, acknowledge,
// normalize, lock, execute, postprocess, deliver. Every chat turn runs as
// its own goroutine; turns on the same chat serialize on the thread lock.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/medassistai/medassist/internal/assistant"
	"github.com/medassistai/medassist/internal/config"
	"github.com/medassistai/medassist/internal/history"
	"github.com/medassistai/medassist/internal/inbound"
	"github.com/medassistai/medassist/internal/lock"
	"github.com/medassistai/medassist/internal/reply"
	"github.com/medassistai/medassist/internal/runner"
	"github.com/medassistai/medassist/internal/typing"
)

// User-facing texts for the turn pipeline itself.
const (
	// AckText is the cooldown-gated early acknowledgment.
	AckText = "Your request has been received. A reply usually takes a couple of minutes; please wait."

	// ApologyText is the single terminal message for any failed turn. The
	// diagnostic detail is logged only, never shown to the user.
	ApologyText = "Internal processing error. Please try again later."
)

// Gateway is the chat-platform surface the pipeline delivers through.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	SendTyping(ctx context.Context, chatID int64) error
}

// Registry resolves and resets per-chat thread handles.
type Registry interface {
	GetOrCreate(ctx context.Context, chatID int64) (string, error)
	Reset(ctx context.Context, chatID int64) (string, error)
}

// AckGate limits the early acknowledgment to once per cooldown window.
type AckGate interface {
	ShouldAck(ctx context.Context, chatID int64, cooldown time.Duration) (bool, error)
}

// Recorder is the write-only persistence sink.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
	UpsertProfile(ctx context.Context, p history.Profile) error
}

// Classifier normalizes an inbound unit into a canonical request.
type Classifier interface {
	Classify(ctx context.Context, unit inbound.Unit) (inbound.Request, error)
}

// Executor drives one turn's run to a terminal state. *runner.Controller
// is the production implementation.
type Executor interface {
	Execute(ctx context.Context, threadID string, msg assistant.UserMessage) (runner.Outcome, error)
}

// Orchestrator wires the turn pipeline together.
type Orchestrator struct {
	cfg        config.TurnConfig
	registry   Registry
	classifier Classifier
	locker     lock.Locker
	controller Executor
	gateway    Gateway
	signaler   *typing.Signaler
	ackGate    AckGate
	recorder   Recorder
	logger     *slog.Logger
}

func New(
	log *slog.Logger,
	cfg config.TurnConfig,
	registry Registry,
	classifier Classifier,
	locker lock.Locker,
	controller Executor,
	gateway Gateway,
	signaler *typing.Signaler,
	ackGate AckGate,
	recorder Recorder,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		classifier: classifier,
		locker:     locker,
		controller: controller,
		gateway:    gateway,
		signaler:   signaler,
		ackGate:    ackGate,
		recorder:   recorder,
		logger:     log.With(slog.String("service", "orchestrator")),
	}
}

// HandleTurn processes one inbound unit end to end. It never returns an
// error: the user receives either the chunked answer or the fixed apology,
// and diagnostics go to the log.
func (o *Orchestrator) HandleTurn(ctx context.Context, unit inbound.Unit, sender history.Profile) {
	chatID := unit.ChatID
	log := o.logger.With(slog.Int64("chat_id", chatID))

	o.recordInbound(ctx, unit, sender)
	o.acknowledge(ctx, chatID)
	o.preReplyDelay(ctx, chatID)

	answer, ok := o.process(ctx, unit, log)
	if !ok || answer == "" {
		o.deliver(ctx, chatID, []string{ApologyText})
		return
	}

	chunks := reply.SplitForDelivery(answer, reply.Limits{
		First:  o.cfg.FirstChunkLimit,
		Second: o.cfg.SecondChunkLimit,
		Hard:   o.cfg.HardChunkLimit,
	})
	if len(chunks) == 0 {
		chunks = []string{ApologyText}
	}
	o.deliver(ctx, chatID, chunks)
}

// ResetThread starts a fresh conversation for the chat.
func (o *Orchestrator) ResetThread(ctx context.Context, chatID int64) error {
	_, err := o.registry.Reset(ctx, chatID)
	return err
}

// process runs the fallible middle of the pipeline and reports whether a
// completed answer was produced. The thread lock is held only around the
// run execution and is released before delivery begins.
func (o *Orchestrator) process(ctx context.Context, unit inbound.Unit, log *slog.Logger) (string, bool) {
	threadID, err := o.registry.GetOrCreate(ctx, unit.ChatID)
	if err != nil {
		log.Error("resolve thread failed", slog.Any("error", err))
		return "", false
	}
	log = log.With(slog.String("thread_id", threadID))

	req, err := o.classifier.Classify(ctx, unit)
	if err != nil {
		log.Error("classify failed", slog.Any("error", err))
		return "", false
	}
	log.Info("turn normalized", slog.String("kind", string(req.Kind)))

	lease, err := o.locker.Acquire(ctx, threadID)
	if err != nil {
		log.Error("lock acquisition failed", slog.Any("error", err))
		return "", false
	}
	stopTyping := o.signaler.Start(ctx, unit.ChatID)

	outcome, err := o.controller.Execute(ctx, threadID, req.Message())

	// The lock covers only the thread-mutating phase. Delivery happens
	// unlocked so a slow send cannot wedge the next turn.
	stopTyping()
	if releaseErr := lease.Release(ctx); releaseErr != nil {
		log.Warn("lock release failed", slog.Any("error", releaseErr))
	}

	if err != nil {
		log.Error("run execution failed", slog.Any("error", err))
		return "", false
	}
	if !outcome.Completed() {
		log.Warn("run did not complete",
			slog.String("status", string(outcome.Status)),
			slog.Bool("timed_out", outcome.TimedOut))
		return "", false
	}
	return reply.Sanitize(outcome.Answer), true
}

func (o *Orchestrator) recordInbound(ctx context.Context, unit inbound.Unit, sender history.Profile) {
	if err := o.recorder.UpsertProfile(ctx, sender); err != nil {
		o.logger.Warn("profile upsert failed", slog.Int64("chat_id", unit.ChatID), slog.Any("error", err))
	}
	text := ""
	if unit.ContentType() == "text" {
		text = unit.Text
	}
	err := o.recorder.Record(ctx, history.Entry{
		ChatID:         unit.ChatID,
		Direction:      history.DirectionInbound,
		MessageID:      unit.MessageID,
		ContentType:    unit.ContentType(),
		AttachmentName: unit.AttachmentName(),
		Text:           text,
	})
	if err != nil {
		o.logger.Warn("record inbound failed", slog.Int64("chat_id", unit.ChatID), slog.Any("error", err))
	}
}

// acknowledge sends the early "received" notice at most once per cooldown
// window per chat.
func (o *Orchestrator) acknowledge(ctx context.Context, chatID int64) {
	ok, err := o.ackGate.ShouldAck(ctx, chatID, o.cfg.AckCooldown())
	if err != nil {
		o.logger.Warn("ack gate failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	if err := o.gateway.SendTyping(ctx, chatID); err != nil {
		o.logger.Debug("typing before ack failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
	if id, err := o.gateway.SendText(ctx, chatID, AckText); err != nil {
		o.logger.Warn("ack send failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	} else {
		o.recordOutbound(ctx, chatID, id, AckText)
	}
}

// preReplyDelay holds the turn for the configured delay, showing the typing
// indicator through the tail of the wait so the chat looks attended.
func (o *Orchestrator) preReplyDelay(ctx context.Context, chatID int64) {
	delay := o.cfg.ReplyDelay()
	if delay <= 0 {
		return
	}
	typingWindow := time.Minute
	if delay < typingWindow {
		typingWindow = delay
	}
	if quiet := delay - typingWindow; quiet > 0 {
		o.wait(ctx, quiet)
	}
	stop := o.signaler.Start(ctx, chatID)
	o.wait(ctx, typingWindow)
	stop()
}

func (o *Orchestrator) deliver(ctx context.Context, chatID int64, chunks []string) {
	for _, chunk := range chunks {
		if err := o.gateway.SendTyping(ctx, chatID); err != nil {
			o.logger.Debug("typing before chunk failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
		}
		id, err := o.gateway.SendText(ctx, chatID, chunk)
		if err != nil {
			// Best effort: log and keep going, the turn is not reopened.
			o.logger.Error("chunk delivery failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
			continue
		}
		o.recordOutbound(ctx, chatID, id, chunk)
	}
}

func (o *Orchestrator) recordOutbound(ctx context.Context, chatID, messageID int64, text string) {
	err := o.recorder.Record(ctx, history.Entry{
		ChatID:      chatID,
		Direction:   history.DirectionOutbound,
		MessageID:   messageID,
		ContentType: "text",
		Text:        text,
	})
	if err != nil {
		o.logger.Warn("record outbound failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
