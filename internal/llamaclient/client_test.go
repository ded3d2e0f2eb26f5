package llamaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(url string) *Client { return New(url, 0, zerolog.Nop()) }

func TestHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !testClient(srv.URL).Health(context.Background()) {
		t.Fatal("expected healthy")
	}
}

func TestHealthDownServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	if testClient(url).Health(context.Background()) {
		t.Fatal("expected unhealthy for closed server")
	}
}

func TestHealthNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if testClient(srv.URL).Health(context.Background()) {
		t.Fatal("expected unhealthy for 503")
	}
}

func TestCompleteReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if req.Prompt != "hello" {
			t.Errorf("unexpected prompt %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(completionResponse{Content: "world"})
	}))
	defer srv.Close()

	out, err := testClient(srv.URL).Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "world" {
		t.Fatalf("expected %q got %q", "world", out)
	}
}

func TestCompleteConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Complete(context.Background(), "hello")
	if !IsConnectionRefused(err) {
		t.Fatalf("expected connection refused, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatal("connection refused must be transient")
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := testClient(srv.URL).Complete(ctx, "hello")
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatal("timeout must be transient")
	}
}

func TestCompleteClientOwnedDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect;
		// otherwise r.Context() never fires and srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	// No deadline on the caller's context: the client's own per-request
	// bound must fire and classify as a timeout.
	c := New(srv.URL, 100*time.Millisecond, zerolog.Nop())
	_, err := c.Complete(context.Background(), "hello")
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatal("timeout must be transient")
	}
}

func TestStreamClientOwnedDeadlineMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		fl := w.(http.Flusher)
		io.WriteString(w, "data: {\"content\":\"first\"}\n\n")
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, 100*time.Millisecond, zerolog.Nop())
	st, err := c.StreamCompletion(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	if got, err := st.Recv(); err != nil || got != "first" {
		t.Fatalf("recv: %q %v", got, err)
	}
	if _, err := st.Recv(); !IsTimeout(err) {
		t.Fatalf("expected timeout when the stream stalls, got %v", err)
	}
}

func TestCompleteCancelPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := testClient(srv.URL).Complete(ctx, "hello")
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCompleteHTTPErrorIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), "hello")
	if !IsMalformedResponse(err) {
		t.Fatalf("expected malformed response, got %v", err)
	}
	if IsTransient(err) {
		t.Fatal("malformed response must not be transient")
	}
}

func TestCompleteBadJSONIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{not json")
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), "hello")
	if !IsMalformedResponse(err) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func sseHandler(t *testing.T, lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream=true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			fl.Flush()
		}
	}
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`data: {"content":"Hello"}`,
		`data: {"content":","}`,
		`data: {"content":" world","stop":false}`,
		`data: {"content":"","stop":true}`,
	}))
	defer srv.Close()

	st, err := testClient(srv.URL).StreamCompletion(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	want := []string{"Hello", ",", " world"}
	for i, w := range want {
		got, err := st.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("chunk %d: expected %q got %q", i, w, got)
		}
	}
	if _, err := st.Recv(); err != io.EOF {
		t.Fatalf("expected EOF after stop, got %v", err)
	}
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`: comment`,
		`data: {broken`,
		`data: {"content":"ok"}`,
		`data: {"stop":true}`,
	}))
	defer srv.Close()

	st, err := testClient(srv.URL).StreamCompletion(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer st.Close()

	got, err := st.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected %q got %q", "ok", got)
	}
	if _, err := st.Recv(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestStreamCloseMidStream(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		io.WriteString(w, "data: {\"content\":\"first\"}\n\n")
		fl.Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	st, err := testClient(srv.URL).StreamCompletion(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got, err := st.Recv(); err != nil || got != "first" {
		t.Fatalf("recv: %q %v", got, err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := st.Recv(); err != io.EOF {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}

func TestStreamHTTPErrorIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).StreamCompletion(context.Background(), "hi")
	if !IsMalformedResponse(err) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}
