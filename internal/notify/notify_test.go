package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

func TestHTTPPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewHTTP(srv.URL, srv.Client())
	job := domain.Job{ID: "job-1", OwnerID: "u1", Status: domain.JobStatusCompleted, ResultRef: "r1"}
	if err := n.JobCompleted(context.Background(), job); err != nil {
		t.Fatalf("JobCompleted: %v", err)
	}
	if got.Type != EventJobCompleted || got.Job.ID != "job-1" || got.Job.ResultRef != "r1" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestHTTPReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewHTTP(srv.URL, nil).JobFailed(context.Background(), domain.Job{ID: "job-1"}); err == nil {
		t.Fatal("expected error for 502")
	}
}

type countingNotifier struct {
	completed, failed int
	err               error
}

func (c *countingNotifier) JobCompleted(context.Context, domain.Job) error {
	c.completed++
	return c.err
}

func (c *countingNotifier) JobFailed(context.Context, domain.Job) error {
	c.failed++
	return c.err
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	boom := errors.New("boom")
	a := &countingNotifier{err: boom}
	b := &countingNotifier{}
	m := Multi{a, b, NewLog(infra.NopLogger())}

	if err := m.JobCompleted(context.Background(), domain.Job{ID: "j"}); !errors.Is(err, boom) {
		t.Fatalf("expected joined boom, got %v", err)
	}
	if err := m.JobFailed(context.Background(), domain.Job{ID: "j"}); !errors.Is(err, boom) {
		t.Fatalf("expected joined boom, got %v", err)
	}
	if a.completed != 1 || b.completed != 1 || a.failed != 1 || b.failed != 1 {
		t.Fatalf("unexpected counts a=%+v b=%+v", a, b)
	}
}
