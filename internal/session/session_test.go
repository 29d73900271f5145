package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/pending"
)

func TestDo_CreatesAndPersists(t *testing.T) {
	st := New(time.Minute)

	err := st.Do("s1", func(s *Session) error {
		s.Append("user", "привет")
		s.Context.Candidates = []candidates.Item{{ID: "101"}}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	st.Do("s1", func(s *Session) error {
		want := []Turn{{Role: "user", Content: "привет"}}
		if diff := cmp.Diff(want, s.History); diff != "" {
			t.Errorf("history mismatch (-want +got):\n%s", diff)
		}
		if len(s.Context.Candidates) != 1 {
			t.Errorf("candidates lost: %+v", s.Context)
		}
		return nil
	})
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}

func TestDo_ReturnsFnError(t *testing.T) {
	st := New(0)
	boom := errors.New("boom")
	if err := st.Do("s", func(*Session) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Do error = %v", err)
	}
}

func TestHistoryCapped(t *testing.T) {
	st := New(time.Minute)
	for i := range 40 {
		st.Do("s", func(s *Session) error {
			s.Append("user", fmt.Sprint(i))
			return nil
		})
	}
	st.Do("s", func(s *Session) error {
		if len(s.History) != MaxHistory {
			t.Fatalf("history = %d, want %d", len(s.History), MaxHistory)
		}
		if s.History[0].Content != "16" || s.History[MaxHistory-1].Content != "39" {
			t.Errorf("kept wrong window: first=%s last=%s", s.History[0].Content, s.History[MaxHistory-1].Content)
		}
		return nil
	})
}

func TestDo_TrimsDirectWrites(t *testing.T) {
	st := New(time.Minute)
	st.Do("s", func(s *Session) error {
		for range 30 {
			s.History = append(s.History, Turn{Role: "user"})
		}
		return nil
	})
	st.Do("s", func(s *Session) error {
		if len(s.History) != MaxHistory {
			t.Errorf("history = %d, want %d", len(s.History), MaxHistory)
		}
		return nil
	})
}

func TestRecent(t *testing.T) {
	s := &Session{}
	if s.Recent(8) != nil {
		t.Error("empty history should give nil")
	}
	for i := range 5 {
		s.Append("user", fmt.Sprint(i))
	}
	got := s.Recent(3)
	want := []Turn{{"user", "2"}, {"user", "3"}, {"user", "4"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recent mismatch (-want +got):\n%s", diff)
	}
	got[0].Content = "changed"
	if s.History[2].Content != "2" {
		t.Error("Recent must return a copy")
	}
	if len(s.Recent(100)) != 5 {
		t.Error("Recent(100) should return everything")
	}
}

func TestReset(t *testing.T) {
	s := &Session{}
	s.Append("user", "x")
	s.Context.Pending = pending.AwaitContent([]candidates.Item{{ID: "1"}})
	s.Reset()
	if len(s.History) != 0 || s.Context.Pending.Active() || s.Context.Candidates != nil {
		t.Errorf("Reset left state: %+v", s)
	}
}

func TestDo_SerializesSameSession(t *testing.T) {
	st := New(time.Minute)
	const workers = 50

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Do("shared", func(s *Session) error {
				// Read-modify-write that loses updates without the lock.
				n := len(s.Context.Candidates)
				time.Sleep(time.Microsecond)
				s.Context.Candidates = append(s.Context.Candidates[:n:n], candidates.Item{ID: fmt.Sprint(n)})
				return nil
			})
		}()
	}
	wg.Wait()

	st.Do("shared", func(s *Session) error {
		if len(s.Context.Candidates) != workers {
			t.Errorf("candidates = %d, want %d (lost updates)", len(s.Context.Candidates), workers)
		}
		return nil
	})
}

func TestDo_IndependentSessions(t *testing.T) {
	st := New(time.Minute)
	inside := make(chan struct{})
	release := make(chan struct{})

	go st.Do("a", func(*Session) error {
		close(inside)
		<-release
		return nil
	})
	<-inside

	done := make(chan struct{})
	go func() {
		st.Do("b", func(*Session) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session b blocked by session a")
	}
	close(release)
}

func TestDelete(t *testing.T) {
	st := New(time.Minute)
	st.Do("s", func(s *Session) error { s.Append("user", "x"); return nil })
	st.Delete("s")
	st.Do("s", func(s *Session) error {
		if len(s.History) != 0 {
			t.Error("deleted session came back with history")
		}
		return nil
	})
}
