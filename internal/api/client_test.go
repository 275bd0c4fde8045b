package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"livepoll/internal/domain/poll"
	"livepoll/internal/platform/apperr"
	"livepoll/internal/platform/identity"
)

func newFakeServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/polls/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if id != "P1" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "poll not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(poll.Poll{
			ID: "P1", Question: "Favourite letter?", Status: poll.StatusActive,
			Options: []poll.Option{{ID: 1, Text: "A"}, {ID: 2, Text: "B"}},
		})
	})
	r.Get("/polls/shortcode/{code}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "code") != "abc123" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(poll.Poll{ID: "P1", ShortCode: "abc123", Status: poll.StatusDraft})
	})
	r.Post("/polls/{id}/vote-multiple", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("X-Voter-ID") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Header.Get("X-Voter-ID") == "voted-before" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"errorCode": "ALREADY_VOTED"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	r.Delete("/polls/{id}", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	r.Get("/polls/{id}/wait", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(poll.Poll{ID: "P1", Status: poll.StatusActive})
	})
	r.Get("/user/userId", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(identity.Identity{UserID: "u-9", Signature: "sig-9"})
	})
	r.Get("/polls/{id}/results", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"A": 4, "B": 1})
	})
	r.Get("/qrcode", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte("<svg>" + req.URL.Query().Get("content") + "</svg>"))
	})
	r.Post("/polls", func(w http.ResponseWriter, req *http.Request) {
		var p poll.Poll
		if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p.ID = "P-new"
		p.Status = poll.StatusDraft
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(p)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, "", 2*time.Second, 5*time.Second)
}

func TestGetPoll(t *testing.T) {
	_, c := newFakeServer(t)

	p, err := c.GetPoll(context.Background(), "P1")
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	if p.ID != "P1" || len(p.Options) != 2 {
		t.Fatalf("unexpected poll: %+v", p)
	}
}

func TestResolvePollFallsBackToShortCode(t *testing.T) {
	_, c := newFakeServer(t)

	p, err := c.ResolvePoll(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.ShortCode != "abc123" {
		t.Fatalf("unexpected poll: %+v", p)
	}
}

func TestVoteErrorClassification(t *testing.T) {
	_, c := newFakeServer(t)

	err := c.VoteMultiple(context.Background(), "P1", []int64{1}, identity.Identity{UserID: "voted-before", Signature: "s"})
	if apperr.KindOf(err) != apperr.KindAlreadyVoted {
		t.Fatalf("kind = %v, want already_voted (%v)", apperr.KindOf(err), err)
	}

	err = c.VoteMultiple(context.Background(), "P1", []int64{1}, identity.Identity{UserID: "u-1", Signature: "s"})
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
}

func TestForbiddenMapsToAuthorizationDenied(t *testing.T) {
	_, c := newFakeServer(t)

	err := c.DeletePoll(context.Background(), "P1")
	if apperr.KindOf(err) != apperr.KindAuthorizationDenied {
		t.Fatalf("kind = %v, want authorization_denied (%v)", apperr.KindOf(err), err)
	}
}

func TestTokenAttachedToRequests(t *testing.T) {
	srv, _ := newFakeServer(t)
	c := NewClient(srv.URL, "tok-1", 2*time.Second, 5*time.Second)

	if err := c.DeletePoll(context.Background(), "P1"); err != nil {
		t.Fatalf("delete with token: %v", err)
	}
}

func TestNetworkFailureIsTransport(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", 200*time.Millisecond, time.Second)

	_, err := c.GetPoll(context.Background(), "P1")
	if apperr.KindOf(err) != apperr.KindTransportFailure {
		t.Fatalf("kind = %v, want transport_failure (%v)", apperr.KindOf(err), err)
	}
}

func TestResults(t *testing.T) {
	_, c := newFakeServer(t)

	results, err := c.Results(context.Background(), "P1")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if results["A"] != 4 || results["B"] != 1 {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestCreatePoll(t *testing.T) {
	_, c := newFakeServer(t)

	created, err := c.CreatePoll(context.Background(), &poll.Poll{
		Question: "Favourite letter?",
		PollType: poll.SingleChoice,
		Options:  []poll.Option{{Text: "A"}, {Text: "B"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "P-new" || created.Status != poll.StatusDraft {
		t.Fatalf("unexpected poll: %+v", created)
	}
}

func TestCreatePollValidatesLocally(t *testing.T) {
	// Validation failures never reach the network; no handler would
	// answer this request anyway.
	c := NewClient("http://127.0.0.1:1", "", time.Second, time.Second)

	_, err := c.CreatePoll(context.Background(), &poll.Poll{
		Question: "Favourite letter?",
		Options:  []poll.Option{{Text: "A"}},
	})
	if apperr.KindOf(err) != apperr.KindValidationFailure {
		t.Fatalf("kind = %v, want validation_failure (%v)", apperr.KindOf(err), err)
	}
}

func TestQRCode(t *testing.T) {
	_, c := newFakeServer(t)

	svg, err := c.QRCode(context.Background(), "abc123", 300, 2)
	if err != nil {
		t.Fatalf("qrcode: %v", err)
	}
	if string(svg) != "<svg>abc123</svg>" {
		t.Fatalf("unexpected body: %q", svg)
	}
}

func TestQRCodeTruncatedResponseIsTransport(t *testing.T) {
	// The handler promises more bytes than it sends, so reading the body
	// fails mid-stream; that must surface through the taxonomy like any
	// other network failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("<svg"))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "", 2*time.Second, 5*time.Second)

	_, err := c.QRCode(context.Background(), "abc123", 300, 2)
	if apperr.KindOf(err) != apperr.KindTransportFailure {
		t.Fatalf("kind = %v, want transport_failure (%v)", apperr.KindOf(err), err)
	}
}

func TestIssueIdentity(t *testing.T) {
	_, c := newFakeServer(t)

	id, err := c.IssueIdentity(context.Background())
	if err != nil {
		t.Fatalf("issue identity: %v", err)
	}
	if id.UserID != "u-9" || id.Signature != "sig-9" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}
