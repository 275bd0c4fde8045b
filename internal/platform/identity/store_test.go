package identity

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "livepoll.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureIssuesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	calls := 0
	issue := func(ctx context.Context) (Identity, error) {
		calls++
		return Identity{UserID: "u-1", Signature: "sig-1"}, nil
	}

	id, err := s.Ensure(ctx, issue)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if id.UserID != "u-1" || id.Signature != "sig-1" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	id2, err := s.Ensure(ctx, issue)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if calls != 1 {
		t.Fatalf("issue called %d times, want 1", calls)
	}
	if id2 != id {
		t.Fatalf("identity changed between calls: %+v vs %+v", id, id2)
	}
}

func TestEnsureFallsBackToLocalIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Ensure(ctx, func(ctx context.Context) (Identity, error) {
		return Identity{}, errors.New("server unreachable")
	})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !id.Local() || !strings.HasPrefix(id.UserID, "anonymous-") {
		t.Fatalf("expected local fallback identity, got %+v", id)
	}

	// The fallback must not be persisted; a later call retries the server.
	id2, err := s.Ensure(ctx, func(ctx context.Context) (Identity, error) {
		return Identity{UserID: "u-2", Signature: "sig-2"}, nil
	})
	if err != nil {
		t.Fatalf("retry ensure: %v", err)
	}
	if id2.UserID != "u-2" {
		t.Fatalf("expected server identity after retry, got %+v", id2)
	}
}

func TestVotedPolls(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	voted, err := s.HasVoted(ctx, "P1")
	if err != nil || voted {
		t.Fatalf("fresh poll: voted=%v err=%v", voted, err)
	}

	if err := s.MarkVoted(ctx, "P1"); err != nil {
		t.Fatalf("mark voted: %v", err)
	}
	if err := s.MarkVoted(ctx, "P1"); err != nil {
		t.Fatalf("mark voted twice: %v", err)
	}

	voted, err = s.HasVoted(ctx, "P1")
	if err != nil || !voted {
		t.Fatalf("after vote: voted=%v err=%v", voted, err)
	}
}
