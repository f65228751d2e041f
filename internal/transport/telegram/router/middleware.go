package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	logx "enel/pkg/logx"
)

// Handler processes one parsed command.
type Handler func(ctx context.Context, req *Request) error

type layer func(Handler) Handler

// stack wraps h so the first layer runs outermost.
func stack(h Handler, layers ...layer) Handler {
	for _, l := range slices.Backward(layers) {
		h = l(h)
	}
	return h
}

func recoverPanics(next Handler) Handler {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if r := recover(); r != nil {
				req.Logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(ctx, req)
	}
}

// ownersOnly silently drops commands from anyone not in owners.
func ownersOnly(owners map[int64]bool) layer {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			if owners[req.FromID] {
				return next(ctx, req)
			}
			req.Logger.Debug("request from non-owner ignored")
			return nil
		}
	}
}

func logRequests(next Handler) Handler {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := logx.Duration("dur", time.Since(start))
		if err != nil {
			req.Logger.Warn("request failed", took, logx.Err(err))
		} else {
			req.Logger.Debug("request ok", took)
		}
		return err
	}
}

func deadline(d time.Duration) layer {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
