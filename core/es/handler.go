package es

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// MsgCtx provides context for handling a single event: the decoded event,
// its envelope, and whether it is delivered as part of a rebuild.
type MsgCtx struct {
	ctx     context.Context
	log     *slog.Logger
	ev      Envelope
	evt     any
	rebuild bool
}

// NewMsgCtx builds a MsgCtx, mainly for calling handlers directly in tests.
func NewMsgCtx(ctx context.Context, ev Envelope, evt any) MsgCtx {
	return MsgCtx{ctx: ctx, log: slog.Default(), ev: ev, evt: evt}
}

func (c *MsgCtx) Log() *slog.Logger        { return c.log }
func (c *MsgCtx) Context() context.Context { return c.ctx }
func (c *MsgCtx) Event() any               { return c.evt }
func (c *MsgCtx) Rebuilding() bool         { return c.rebuild }

func (c *MsgCtx) Seq() uint64           { return c.ev.Seq }
func (c *MsgCtx) Envelope() Envelope    { return c.ev }
func (c *MsgCtx) Version() Version      { return c.ev.Version }
func (c *MsgCtx) AggregateID() string   { return c.ev.AggregateID }
func (c *MsgCtx) AggregateType() string { return c.ev.AggregateType }
func (c *MsgCtx) Data() json.RawMessage { return c.ev.Data }
func (c *MsgCtx) Type() string          { return c.ev.Type }
func (c *MsgCtx) OccurredAt() time.Time { return c.ev.OccurredAt }
func (c *MsgCtx) Metadata() Metadata    { return c.ev.Metadata }

type (
	Handler interface {
		Handle(msgCtx MsgCtx) error
	}
	HandleFunc           func(ctx MsgCtx) error
	HandlerMiddleware    func(next Handler) Handler
	MiddlewareHandleFunc func(ctx MsgCtx, next Handler) error
)

func applyMiddlewares(h Handler, middlewares []HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// === handler func ===

func (f HandleFunc) Handle(ctx MsgCtx) error { return f(ctx) }

// === middleware ===

type middleware struct {
	next Handler
	mw   MiddlewareHandleFunc
}

func (m *middleware) Handle(msgCtx MsgCtx) error { return m.mw(msgCtx, m.next) }

func MiddlewareHandle(mw MiddlewareHandleFunc) HandlerMiddleware {
	return func(next Handler) Handler {
		return &middleware{next: next, mw: mw}
	}
}

// === log ===

func NewLogMiddleware(attrs ...any) HandlerMiddleware {
	return MiddlewareHandle(func(ctx MsgCtx, next Handler) (err error) {
		handleAt := time.Now()

		log := ctx.Log().With(attrs...)

		err = next.Handle(ctx)
		if err != nil {
			log.Error("failed", slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
		} else {
			log.Debug("handled", slog.Duration("duration", time.Since(handleAt)))
		}

		return err
	})
}

// === type filter ===

// OnlyAggregates drops events of other aggregate types before they reach
// the handler.
func OnlyAggregates(aggTypes ...string) HandlerMiddleware {
	allowed := make(map[string]struct{}, len(aggTypes))
	for _, t := range aggTypes {
		allowed[t] = struct{}{}
	}
	return MiddlewareHandle(func(ctx MsgCtx, next Handler) error {
		if _, ok := allowed[ctx.AggregateType()]; !ok {
			return nil
		}
		return next.Handle(ctx)
	})
}
