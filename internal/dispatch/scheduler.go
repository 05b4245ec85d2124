// Package dispatch delays and sends replies without blocking other conversations.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/autoreply/internal/autoreply"
	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/tracing"
)

// Sink delivers an outbound message to a channel.
type Sink interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Target is where a reply goes.
type Target struct {
	Channel     string
	ChatID      string
	ReplyTo     string // message id to quote, optional
	LinkPreview bool
}

// Message builds the outbound message for reply.
func (t Target) Message(reply *autoreply.Reply) bus.OutboundMessage {
	meta := map[string]string{
		bus.MetaLinkPreview: strconv.FormatBool(t.LinkPreview),
	}
	if t.ReplyTo != "" {
		meta[bus.MetaReplyTo] = t.ReplyTo
	}
	return bus.OutboundMessage{
		Channel:  t.Channel,
		ChatID:   t.ChatID,
		Content:  reply.Content,
		Metadata: meta,
	}
}

// Scheduler sends replies after a delay. Each send runs once; failures are
// recorded on the reply and never retried.
type Scheduler struct {
	sink Sink
	wg   sync.WaitGroup
}

func NewScheduler(sink Sink) *Scheduler {
	return &Scheduler{sink: sink}
}

// Dispatch waits delay (negative means none), sends reply once and records
// the outcome on it. The returned error mirrors reply.SendError.
func (s *Scheduler) Dispatch(ctx context.Context, reply *autoreply.Reply, target Target, delay time.Duration) (err error) {
	ctx, span := tracing.Start(ctx, tracing.SpanDispatch,
		attribute.String(tracing.AttrChannel, target.Channel),
		attribute.String(tracing.AttrReplyKind, string(reply.Kind)),
	)
	defer func() { tracing.End(span, err) }()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			err = fmt.Errorf("dispatch cancelled: %w", ctx.Err())
			reply.MarkFailed(err)
			return err
		}
	}

	if s.sink == nil {
		err = errors.New("no outbound sink")
	} else {
		err = s.sink.Send(ctx, target.Message(reply))
	}
	if err != nil {
		reply.MarkFailed(err)
		slog.Warn("reply dispatch failed",
			"reply_id", reply.ID,
			"channel", target.Channel,
			"chat_id", target.ChatID,
			"kind", reply.Kind,
			"error", err,
		)
		return err
	}

	reply.MarkSent()
	slog.Debug("reply sent", "reply_id", reply.ID, "channel", target.Channel, "chat_id", target.ChatID, "kind", reply.Kind)
	return nil
}

// Go runs Dispatch on its own goroutine, detached from ctx cancellation so an
// in-flight delayed send still completes during shutdown. done, if non-nil,
// is called with the outcome after the reply has been updated.
func (s *Scheduler) Go(ctx context.Context, reply *autoreply.Reply, target Target, delay time.Duration, done func(*autoreply.Reply, error)) {
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.Dispatch(detached, reply, target, delay)
		if done != nil {
			done(reply, err)
		}
	}()
}

// Wait blocks until every dispatch started with Go has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pending dispatches not drained: %w", ctx.Err())
	}
}
