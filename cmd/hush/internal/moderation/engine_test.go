// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package moderation

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.astrophena.name/hush/internal/logger"
	"go.astrophena.name/hush/internal/store"
	"go.astrophena.name/hush/internal/testutil"
)

type fakePlatform struct {
	mu      sync.Mutex
	admins  map[Key]bool
	lookups int
	mutes   []Key
	notices []MessageEvent

	lookupErr error
	muteErr   error
	mutePanic bool

	// If set, Mute waits for it to be closed.
	muteGate chan struct{}
}

func (p *fakePlatform) IsAdmin(ctx context.Context, userID, groupID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups++
	if p.lookupErr != nil {
		return false, p.lookupErr
	}
	return p.admins[Key{userID, groupID}], nil
}

func (p *fakePlatform) Mute(ctx context.Context, userID, groupID int64) error {
	if p.muteGate != nil {
		<-p.muteGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mutePanic {
		panic("boom")
	}
	if p.muteErr != nil {
		return p.muteErr
	}
	p.mutes = append(p.mutes, Key{userID, groupID})
	return nil
}

func (p *fakePlatform) NotifyMuted(ctx context.Context, ev MessageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, ev)
	return nil
}

func (p *fakePlatform) counts() (lookups, mutes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookups, len(p.mutes)
}

type testEnv struct {
	platform *fakePlatform
	clock    *fakeClock
	mutes    store.Store
	admins   store.Store
	cache    *AdminCache
	ledger   *Ledger
	engine   *Engine
	reopen   func(t *testing.T) // opens the stores again, if set
}

func newTestEnv(t *testing.T, p *fakePlatform) *testEnv {
	t.Helper()
	e := &testEnv{
		platform: p,
		clock:    newFakeClock(),
		mutes:    store.NewMemStore(),
		admins:   store.NewMemStore(),
	}
	e.restart(t)
	return e
}

// newFileTestEnv is like newTestEnv, but keeps the state in JSON files that
// are opened again on every restart.
func newFileTestEnv(t *testing.T, p *fakePlatform) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		platform: p,
		clock:    newFakeClock(),
	}
	e.reopen = func(t *testing.T) {
		var err error
		if e.mutes, err = store.NewJSONFile(filepath.Join(dir, "mutes.json")); err != nil {
			t.Fatal(err)
		}
		if e.admins, err = store.NewJSONFile(filepath.Join(dir, "admins.json")); err != nil {
			t.Fatal(err)
		}
	}
	e.restart(t)
	return e
}

// restart reloads the state from the stores, like a process restart would.
func (e *testEnv) restart(t *testing.T, groups ...int64) {
	t.Helper()
	if e.reopen != nil {
		e.reopen(t)
	}
	var err error
	e.cache, err = LoadAdminCache(t.Context(), e.admins, e.clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	e.ledger, err = LoadLedger(t.Context(), e.mutes, e.clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	e.engine = NewEngine(Config{
		Cache:      e.cache,
		Ledger:     e.ledger,
		Privileges: e.platform,
		Executor:   e.platform,
		Notifier:   e.platform,
		Groups:     groups,
	})
}

func reply(userID, groupID int64) MessageEvent {
	return MessageEvent{UserID: userID, GroupID: groupID, ChatKind: ChatGroup, IsReply: true}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		ev          MessageEvent
		admins      map[Key]bool
		lookupErr   error
		muted       []Key
		wantOutcome Outcome
		wantMute    bool
		wantLookups int
	}{
		"no user": {
			ev:          MessageEvent{GroupID: 7, ChatKind: ChatGroup, IsReply: true},
			wantOutcome: OutcomeInapplicable,
		},
		"no chat": {
			ev:          MessageEvent{UserID: 42, ChatKind: ChatGroup, IsReply: true},
			wantOutcome: OutcomeInapplicable,
		},
		"bot": {
			ev:          MessageEvent{UserID: 42, GroupID: 7, IsBot: true, ChatKind: ChatGroup, IsReply: true},
			wantOutcome: OutcomeBot,
		},
		"direct chat": {
			ev:          MessageEvent{UserID: 42, GroupID: 42, ChatKind: ChatDirect, IsReply: true},
			wantOutcome: OutcomeNotGroup,
		},
		"broadcast": {
			ev:          MessageEvent{UserID: 42, GroupID: 7, ChatKind: ChatBroadcast, IsReply: true},
			wantOutcome: OutcomeNotGroup,
		},
		"not a reply": {
			ev:          MessageEvent{UserID: 42, GroupID: 7, ChatKind: ChatGroup},
			wantOutcome: OutcomeNotReply,
		},
		"admin": {
			ev:          reply(42, 7),
			admins:      map[Key]bool{{42, 7}: true},
			wantOutcome: OutcomeAdmin,
			wantLookups: 1,
		},
		"admin elsewhere": {
			ev:          reply(42, 7),
			admins:      map[Key]bool{{42, 8}: true},
			wantOutcome: OutcomeMute,
			wantMute:    true,
			wantLookups: 1,
		},
		"already muted": {
			ev:          reply(42, 7),
			muted:       []Key{{42, 7}},
			wantOutcome: OutcomeAlreadyMuted,
			wantLookups: 1,
		},
		"lookup error": {
			ev:          reply(42, 7),
			admins:      map[Key]bool{{42, 7}: true},
			lookupErr:   errors.New("network is down"),
			wantOutcome: OutcomeMute,
			wantMute:    true,
			wantLookups: 1,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := &fakePlatform{admins: tc.admins, lookupErr: tc.lookupErr}
			env := newTestEnv(t, p)
			for _, k := range tc.muted {
				if err := env.ledger.Add(t.Context(), k); err != nil {
					t.Fatal(err)
				}
			}

			d := env.engine.Decide(t.Context(), tc.ev)
			testutil.AssertEqual(t, d.Outcome, tc.wantOutcome)
			if tc.wantMute {
				testutil.AssertEqual(t, d.Mute, &MuteCommand{Key: tc.ev.Key()})
			} else if d.Mute != nil {
				t.Fatalf("unexpected mute command: %+v", d.Mute)
			}

			lookups, mutes := p.counts()
			testutil.AssertEqual(t, lookups, tc.wantLookups)
			testutil.AssertEqual(t, mutes, 0)
		})
	}
}

func TestHandleMutes(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{}
	env := newTestEnv(t, p)
	ev := reply(42, 7)
	ev.MessageID = 100

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), ev), OutcomeMuted)
	testutil.AssertEqual(t, p.mutes, []Key{{42, 7}})
	testutil.AssertEqual(t, p.notices, []MessageEvent{ev})
	testutil.AssertEqual(t, env.ledger.Contains(ev.Key()), true)

	// The non-admin result is cached.
	isAdmin, ok := env.cache.Lookup(ev.Key())
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, isAdmin, false)

	// Repeated replies don't cause repeated mutes.
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), ev), OutcomeAlreadyMuted)
	lookups, mutes := p.counts()
	testutil.AssertEqual(t, lookups, 1)
	testutil.AssertEqual(t, mutes, 1)
}

func TestHandleAdminExempt(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{admins: map[Key]bool{{42, 7}: true}}
	env := newTestEnv(t, p)

	for range 3 {
		testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeAdmin)
	}
	lookups, mutes := p.counts()
	testutil.AssertEqual(t, lookups, 1)
	testutil.AssertEqual(t, mutes, 0)
	testutil.AssertEqual(t, env.ledger.Contains(Key{42, 7}), false)
}

func TestHandleLookupErrorNotCached(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{
		admins:    map[Key]bool{{42, 7}: true},
		lookupErr: errors.New("timeout"),
	}
	env := newTestEnv(t, p)

	// Fails closed: the user is treated as a regular member.
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeMuted)
	if _, ok := env.cache.Lookup(Key{42, 7}); ok {
		t.Fatal("failed lookup was cached")
	}
}

func TestHandleExpiredCacheEntry(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{admins: map[Key]bool{{42, 7}: true}}
	env := newTestEnv(t, p)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeAdmin)
	env.clock.Advance(AdminCacheTTL / 2)
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeAdmin)
	lookups, _ := p.counts()
	testutil.AssertEqual(t, lookups, 1)

	// Demoted while the cached entry was valid.
	p.mu.Lock()
	p.admins = nil
	p.mu.Unlock()
	env.clock.Advance(AdminCacheTTL / 2)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeMuted)
	lookups, mutes := p.counts()
	testutil.AssertEqual(t, lookups, 2)
	testutil.AssertEqual(t, mutes, 1)
}

func TestHandleMuteFailure(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{muteErr: errors.New("not enough rights")}
	env := newTestEnv(t, p)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeMuteFailed)
	testutil.AssertEqual(t, env.ledger.Contains(Key{42, 7}), false)
	testutil.AssertEqual(t, len(p.notices), 0)

	// The next reply retries.
	p.mu.Lock()
	p.muteErr = nil
	p.mu.Unlock()
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeMuted)
	testutil.AssertEqual(t, env.ledger.Contains(Key{42, 7}), true)
}

func TestHandleRecoversPanic(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{mutePanic: true}
	env := newTestEnv(t, p)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeSkipped)
	testutil.AssertEqual(t, env.ledger.Contains(Key{42, 7}), false)

	p.mu.Lock()
	p.mutePanic = false
	p.mu.Unlock()
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeMuted)
}

func TestHandleSurvivesRestart(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{admins: map[Key]bool{{1, 7}: true}}
	env := newTestEnv(t, p)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeMuted)
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(1, 7)), OutcomeAdmin)

	env.restart(t)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeAlreadyMuted)
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(1, 7)), OutcomeAdmin)
	lookups, mutes := p.counts()
	// Both lookups were served from the reloaded cache.
	testutil.AssertEqual(t, lookups, 2)
	testutil.AssertEqual(t, mutes, 1)
}

func TestHandleSurvivesRestartFromFiles(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{admins: map[Key]bool{{1, 7}: true}}
	env := newFileTestEnv(t, p)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeMuted)
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(1, 7)), OutcomeAdmin)

	env.restart(t)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeAlreadyMuted)
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(1, 7)), OutcomeAdmin)
	lookups, mutes := p.counts()
	testutil.AssertEqual(t, lookups, 2)
	testutil.AssertEqual(t, mutes, 1)

	// Duplicates for a new user after the restart still mute once.
	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.engine.Handle(t.Context(), reply(43, 7))
		}()
	}
	wg.Wait()
	_, mutes = p.counts()
	testutil.AssertEqual(t, mutes, 2)

	env.restart(t)
	testutil.AssertEqual(t, env.ledger.Contains(Key{UserID: 43, GroupID: 7}), true)
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(43, 7)), OutcomeAlreadyMuted)
}

func TestAdminFlag(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := logger.Put(t.Context(), logger.New(&buf))
	key := Key{UserID: 42, GroupID: 7}

	testutil.AssertEqual(t, adminFlag(ctx, key, true), true)
	testutil.AssertEqual(t, adminFlag(ctx, key, false), false)
	testutil.AssertEqual(t, buf.Len(), 0)

	testutil.AssertEqual(t, adminFlag(ctx, key, "administrator"), false)
	if !strings.Contains(buf.String(), "type=string") {
		t.Fatalf("unexpected log output: %q", buf.String())
	}
}

func TestHandleGroupAllowList(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{}
	env := newTestEnv(t, p)
	env.restart(t, 7)

	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 8)), OutcomeNotMonitored)
	testutil.AssertEqual(t, env.engine.Handle(t.Context(), reply(42, 7)), OutcomeMuted)
}

func TestHandleConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	const n = 32
	p := &fakePlatform{muteGate: make(chan struct{})}
	env := newTestEnv(t, p)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[Outcome]int)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := env.engine.Handle(t.Context(), reply(42, 7))
			mu.Lock()
			outcomes[out]++
			mu.Unlock()
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(p.muteGate)
	wg.Wait()

	_, mutes := p.counts()
	testutil.AssertEqual(t, mutes, 1)
	testutil.AssertEqual(t, outcomes[OutcomeMuted], 1)
	testutil.AssertEqual(t, outcomes[OutcomeInFlight]+outcomes[OutcomeAlreadyMuted], n-1)
}

func TestHandleTimeout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakePlatform{})
	blocked := &blockingExecutor{}
	env.engine = NewEngine(Config{
		Cache:       env.cache,
		Ledger:      env.ledger,
		Privileges:  env.platform,
		Executor:    blocked,
		CallTimeout: 10 * time.Millisecond,
	})

	// Cancellation of the caller's context doesn't abort the call, only
	// the timeout does.
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	testutil.AssertEqual(t, env.engine.Handle(ctx, reply(42, 7)), OutcomeMuteFailed)
	if !errors.Is(blocked.err.Load().(error), context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", blocked.err.Load())
	}
}

type blockingExecutor struct{ err atomic.Value }

func (b *blockingExecutor) Mute(ctx context.Context, userID, groupID int64) error {
	<-ctx.Done()
	b.err.Store(ctx.Err())
	return ctx.Err()
}
