// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package syncx

import (
	"errors"
	"sync"
	"testing"

	"go.astrophena.name/hush/internal/testutil"
)

func TestProtected(t *testing.T) {
	t.Parallel()

	m := Protect(make(map[string]int))
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Access(func(m map[string]int) { m["n"]++ })
		}()
	}
	wg.Wait()

	var got int
	m.RAccess(func(m map[string]int) { got = m["n"] })
	testutil.AssertEqual(t, got, 100)
}

func TestLazy(t *testing.T) {
	t.Parallel()

	var (
		l     Lazy[int]
		calls int
	)
	for range 3 {
		testutil.AssertEqual(t, l.Get(func() int { calls++; return 42 }), 42)
	}
	testutil.AssertEqual(t, calls, 1)

	var le Lazy[string]
	wantErr := errors.New("boom")
	_, err := le.GetErr(func() (string, error) { return "", wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetErr() = %v, want %v", err, wantErr)
	}
	_, err = le.GetErr(func() (string, error) { return "ok", nil })
	if !errors.Is(err, wantErr) {
		t.Fatalf("second GetErr() = %v, want cached %v", err, wantErr)
	}
}
