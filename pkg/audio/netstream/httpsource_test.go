package netstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loopcast/loopcast/pkg/audio"
)

// streamHandler writes the given chunks and then either hangs open or
// closes, depending on stayOpen.
func streamHandler(chunks [][]byte, stayOpen bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		// Send headers immediately so Open returns before any data flows.
		w.WriteHeader(http.StatusOK)
		if flusher != nil {
			flusher.Flush()
		}
		for _, c := range chunks {
			if _, err := w.Write(c); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if stayOpen {
			<-r.Context().Done()
		}
	}
}

func TestHTTPSource_ReadsStream(t *testing.T) {
	srv := httptest.NewServer(streamHandler([][]byte{{1, 2, 3, 4}}, true))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testFormat)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chunk, err := src.ReadRaw(ctx, 4096)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if len(chunk) != 4 || chunk[0] != 1 {
		t.Errorf("chunk = %v, want [1 2 3 4]", chunk)
	}
}

func TestHTTPSource_SplitsLargeChunk(t *testing.T) {
	srv := httptest.NewServer(streamHandler([][]byte{{1, 2, 3, 4, 5, 6}}, true))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testFormat)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := src.ReadRaw(ctx, 4)
	if err != nil {
		t.Fatalf("ReadRaw 1: %v", err)
	}
	second, err := src.ReadRaw(ctx, 4)
	if err != nil {
		t.Fatalf("ReadRaw 2: %v", err)
	}
	if len(first) != 4 || len(second) != 2 {
		t.Errorf("chunk lengths = %d, %d, want 4, 2", len(first), len(second))
	}
	if second[0] != 5 {
		t.Errorf("carry-over data wrong: %v", second)
	}
}

func TestHTTPSource_EOFIsConnectionLost(t *testing.T) {
	// A live stream that ends did not end cleanly; it dropped.
	srv := httptest.NewServer(streamHandler([][]byte{{1, 2}}, false))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testFormat)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Drain the data, then expect the drop error.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := src.ReadRaw(ctx, 4096)
		if errors.Is(err, audio.ErrConnectionLost) {
			return
		}
		if err != nil {
			t.Fatalf("ReadRaw = %v, want ErrConnectionLost", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("never observed connection loss")
		}
	}
}

func TestHTTPSource_Non200IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testFormat)
	err := src.Open(context.Background())
	if !errors.Is(err, audio.ErrSourceUnavailable) {
		t.Errorf("Open = %v, want ErrSourceUnavailable", err)
	}
}

func TestHTTPSource_ConnectRefusedIsUnavailable(t *testing.T) {
	src := NewHTTPSource("http://127.0.0.1:1/stream", testFormat)
	err := src.Open(context.Background())
	if !errors.Is(err, audio.ErrSourceUnavailable) {
		t.Errorf("Open = %v, want ErrSourceUnavailable", err)
	}
}

func TestHTTPSource_ReadDeadline(t *testing.T) {
	// Connected but no data: ReadRaw must return the ctx error at deadline.
	srv := httptest.NewServer(streamHandler(nil, true))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testFormat)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.ReadRaw(ctx, 4096)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadRaw = %v, want DeadlineExceeded", err)
	}
}

func TestHTTPSource_SingleUse(t *testing.T) {
	srv := httptest.NewServer(streamHandler(nil, true))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testFormat)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Open(context.Background()); err == nil {
		t.Error("second Open should fail")
	}

	if err := src.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("repeated Close: %v", err)
	}
	if _, err := src.ReadRaw(context.Background(), 4096); !errors.Is(err, audio.ErrSourceClosed) {
		t.Errorf("ReadRaw after Close = %v, want ErrSourceClosed", err)
	}
}

func TestHTTPSource_OpenAfterClose(t *testing.T) {
	src := NewHTTPSource("http://example.invalid/stream", testFormat)
	_ = src.Close()
	if err := src.Open(context.Background()); !errors.Is(err, audio.ErrSourceClosed) {
		t.Errorf("Open after Close = %v, want ErrSourceClosed", err)
	}
}

// A consumer that stops reading must not strand the pump goroutine: Close
// has to unblock a send-blocked pump so the response body gets released.
func TestHTTPSource_CloseUnblocksPump(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		buf := make([]byte, 1024)
		for {
			if _, err := w.Write(buf); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, testFormat)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := src.ReadRaw(ctx, 4096); err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}

	// Let the server outpace the (absent) consumer so the pump parks on
	// its channel send, then close underneath it.
	time.Sleep(50 * time.Millisecond)
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The pump closes the chunk channel on its way out. Drain until then.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-src.chunks:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("pump did not exit after Close")
		}
	}
}
