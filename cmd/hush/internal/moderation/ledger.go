// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.astrophena.name/hush/internal/store"

	"github.com/puzpuzpuz/xsync/v3"
)

// MuteRecord marks a user muted in a group.
type MuteRecord struct {
	UserID  int64     `json:"user_id"`
	GroupID int64     `json:"group_id"`
	MutedAt time.Time `json:"muted_at"`
}

type ledgerState int

const (
	statePending ledgerState = iota + 1
	stateMuted
)

// Ledger is a durable set of muted users. Mutes are permanent: there is no
// way to remove a committed key short of clearing the underlying store.
type Ledger struct {
	st  store.Store
	now func() time.Time

	keys *xsync.MapOf[Key, ledgerState]
}

// LoadLedger returns a Ledger backed by st, loading all records from it. If
// now is nil, time.Now is used.
func LoadLedger(ctx context.Context, st store.Store, now func() time.Time) (*Ledger, error) {
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		st:   st,
		now:  now,
		keys: xsync.NewMapOf[Key, ledgerState](),
	}

	records, err := st.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading mute ledger: %w", err)
	}
	for id, b := range records {
		var r MuteRecord
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("mute ledger record %q: %w", id, err)
		}
		l.keys.Store(Key{UserID: r.UserID, GroupID: r.GroupID}, stateMuted)
	}
	return l, nil
}

// Contains reports whether key has been muted.
func (l *Ledger) Contains(key Key) bool {
	s, ok := l.keys.Load(key)
	return ok && s == stateMuted
}

// TryReserve atomically marks key as being muted. It returns false if key is
// already muted or reserved by someone else.
func (l *Ledger) TryReserve(key Key) bool {
	_, loaded := l.keys.LoadOrStore(key, statePending)
	return !loaded
}

// Release drops a reservation made by TryReserve, so a later event can try
// to mute key again. Muted keys are left untouched.
func (l *Ledger) Release(key Key) {
	l.keys.Compute(key, func(old ledgerState, loaded bool) (ledgerState, bool) {
		if !loaded || old == statePending {
			return old, true
		}
		return old, false
	})
}

// Commit records key as muted, turning a reservation into a permanent
// record, and persists it. The key stays muted even if persisting fails.
func (l *Ledger) Commit(ctx context.Context, key Key) error {
	l.keys.Store(key, stateMuted)

	b, err := json.Marshal(MuteRecord{
		UserID:  key.UserID,
		GroupID: key.GroupID,
		MutedAt: l.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := l.st.Set(ctx, key.String(), b); err != nil {
		return fmt.Errorf("persisting mute of %s: %w", key, err)
	}
	return nil
}

// Add records key as muted and persists it.
func (l *Ledger) Add(ctx context.Context, key Key) error { return l.Commit(ctx, key) }

// Len returns the number of muted keys.
func (l *Ledger) Len() int {
	var n int
	l.keys.Range(func(_ Key, s ledgerState) bool {
		if s == stateMuted {
			n++
		}
		return true
	})
	return n
}
