package diag

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"
)

type fixedSource struct {
	status Status
}

func (f *fixedSource) Status() Status { return f.status }

func startServer(t *testing.T, src StatusSource) *Server {
	t.Helper()
	s := New(Config{
		Addr:   "127.0.0.1:0",
		Source: src,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	s := startServer(t, nil)
	resp, body := get(t, "http://"+s.Addr()+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"ok"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	src := &fixedSource{status: Status{
		Connected:    true,
		DC:           2,
		SessionID:    0x1122,
		PendingCalls: 3,
		UpdateSeq:    41,
	}}
	s := startServer(t, src)

	resp, body := get(t, "http://"+s.Addr()+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}

	var decoded struct {
		Session Status `json:"session"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if !decoded.Session.Connected || decoded.Session.DC != 2 || decoded.Session.PendingCalls != 3 {
		t.Fatalf("session = %+v", decoded.Session)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := startServer(t, nil)
	resp, body := get(t, "http://"+s.Addr()+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatal("prometheus exposition missing standard collectors")
	}
}

func TestStopUnbindsAddress(t *testing.T) {
	t.Parallel()

	s := startServer(t, nil)
	addr := s.Addr()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Fatal("server still answering after Stop")
	}
}
