// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.astrophena.name/hush/internal/logger"

	"golang.org/x/sync/singleflight"
)

// DefaultCallTimeout bounds every call to a collaborator.
const DefaultCallTimeout = 10 * time.Second

// Config configures an [Engine].
type Config struct {
	Cache      *AdminCache
	Ledger     *Ledger
	Privileges PrivilegeChecker
	Executor   Executor
	// Notifier is optional.
	Notifier Notifier
	// Groups, if not empty, limits moderation to these group IDs.
	Groups []int64
	// CallTimeout defaults to DefaultCallTimeout.
	CallTimeout time.Duration
}

// Engine decides whether to mute message authors and carries out the
// decisions.
type Engine struct {
	cache       *AdminCache
	ledger      *Ledger
	privileges  PrivilegeChecker
	executor    Executor
	notifier    Notifier
	groups      map[int64]bool
	callTimeout time.Duration

	lookups singleflight.Group
}

// NewEngine returns a new Engine.
func NewEngine(c Config) *Engine {
	e := &Engine{
		cache:       c.Cache,
		ledger:      c.Ledger,
		privileges:  c.Privileges,
		executor:    c.Executor,
		notifier:    c.Notifier,
		callTimeout: c.CallTimeout,
	}
	if e.callTimeout <= 0 {
		e.callTimeout = DefaultCallTimeout
	}
	if len(c.Groups) > 0 {
		e.groups = make(map[int64]bool, len(c.Groups))
		for _, id := range c.Groups {
			e.groups[id] = true
		}
	}
	return e
}

// Decide evaluates ev. It may look up the author's privileges, but never
// mutes anyone: when the author should be muted, the returned Decision
// carries a [MuteCommand].
func (e *Engine) Decide(ctx context.Context, ev MessageEvent) Decision {
	switch {
	case ev.UserID == 0 || ev.GroupID == 0:
		return Decision{Outcome: OutcomeInapplicable}
	case ev.IsBot:
		return Decision{Outcome: OutcomeBot}
	case ev.ChatKind != ChatGroup:
		return Decision{Outcome: OutcomeNotGroup}
	case e.groups != nil && !e.groups[ev.GroupID]:
		return Decision{Outcome: OutcomeNotMonitored}
	case !ev.IsReply:
		return Decision{Outcome: OutcomeNotReply}
	}

	key := ev.Key()
	if e.isAdmin(ctx, key) {
		return Decision{Outcome: OutcomeAdmin}
	}
	if e.ledger.Contains(key) {
		return Decision{Outcome: OutcomeAlreadyMuted}
	}
	return Decision{Outcome: OutcomeMute, Mute: &MuteCommand{Key: key}}
}

// Handle evaluates ev and mutes its author if needed. It never fails: all
// errors are logged and reported as the returned Outcome.
func (e *Engine) Handle(ctx context.Context, ev MessageEvent) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic while handling event",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
				slog.Int64("user_id", ev.UserID),
				slog.Int64("group_id", ev.GroupID),
			)
			out = OutcomeSkipped
		}
		eventsHandled.WithLabelValues(out.String()).Inc()
	}()

	d := e.Decide(ctx, ev)
	if d.Mute == nil {
		logger.Debug(ctx, "no action", slog.String("outcome", d.Outcome.String()), slog.Int64("user_id", ev.UserID), slog.Int64("group_id", ev.GroupID))
		return d.Outcome
	}

	out = e.execute(ctx, *d.Mute)
	if out == OutcomeMuted && e.notifier != nil {
		nctx, cancel := e.callContext(ctx)
		defer cancel()
		if err := e.notifier.NotifyMuted(nctx, ev); err != nil {
			logger.Warn(ctx, "failed to send mute notice", slog.Int64("group_id", ev.GroupID), slog.Any("err", err))
		}
	}
	return out
}

func (e *Engine) execute(ctx context.Context, cmd MuteCommand) Outcome {
	key := cmd.Key
	if !e.ledger.TryReserve(key) {
		return OutcomeInFlight
	}
	committed := false
	defer func() {
		if !committed {
			e.ledger.Release(key)
		}
	}()

	attrs := []slog.Attr{slog.Int64("user_id", key.UserID), slog.Int64("group_id", key.GroupID)}

	mctx, cancel := e.callContext(ctx)
	defer cancel()
	start := time.Now()
	err := e.executor.Mute(mctx, key.UserID, key.GroupID)
	muteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error(ctx, "failed to mute user", append(attrs, slog.Any("err", err))...)
		return OutcomeMuteFailed
	}

	committed = true
	if err := e.ledger.Commit(context.WithoutCancel(ctx), key); err != nil {
		persistErrors.WithLabelValues("mutes").Inc()
		logger.Error(ctx, "failed to persist mute", append(attrs, slog.Any("err", err))...)
	}
	logger.Info(ctx, "muted user", attrs...)
	return OutcomeMuted
}

// isAdmin resolves the admin flag of key, consulting the cache first.
// Lookup failures resolve to false.
func (e *Engine) isAdmin(ctx context.Context, key Key) bool {
	if isAdmin, ok := e.cache.Lookup(key); ok {
		privilegeLookups.WithLabelValues("cache").Inc()
		return isAdmin
	}

	// Concurrent misses for the same key share one remote lookup.
	v, err, _ := e.lookups.Do(key.String(), func() (any, error) {
		lctx, cancel := e.callContext(ctx)
		defer cancel()
		isAdmin, err := e.privileges.IsAdmin(lctx, key.UserID, key.GroupID)
		if err != nil {
			return false, err
		}
		if err := e.cache.Record(context.WithoutCancel(ctx), key, isAdmin); err != nil {
			persistErrors.WithLabelValues("admins").Inc()
			logger.Error(ctx, "failed to persist admin status", slog.Any("err", err))
		}
		return isAdmin, nil
	})
	if err != nil {
		privilegeLookups.WithLabelValues("error").Inc()
		logger.Warn(ctx, "privilege lookup failed, treating user as non-admin",
			slog.Int64("user_id", key.UserID),
			slog.Int64("group_id", key.GroupID),
			slog.Any("err", err),
		)
		return false
	}
	privilegeLookups.WithLabelValues("remote").Inc()
	return adminFlag(ctx, key, v)
}

// adminFlag converts a shared lookup result to the admin flag. Anything but a
// bool resolves to false.
func adminFlag(ctx context.Context, key Key, v any) bool {
	isAdmin, ok := v.(bool)
	if !ok {
		logger.Error(ctx, "unexpected privilege lookup result, treating user as non-admin",
			slog.String("key", key.String()),
			slog.String("type", fmt.Sprintf("%T", v)),
		)
		return false
	}
	return isAdmin
}

// callContext returns a context for a collaborator call. It outlives the
// cancellation of ctx, so a dropped webhook connection doesn't abort a mute
// halfway, but is bounded by the call timeout.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
}
