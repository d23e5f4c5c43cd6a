package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/Thordata/thordata-llm-code-share/internal/logging"
)

func TestServerLifecycle(t *testing.T) {
	logger, _ := logging.NewTestLogger()
	srv := NewServer(ServerConfig{
		Bind: "127.0.0.1",
		Port: 0, // OS-assigned
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "pong")
		}),
		Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	url := fmt.Sprintf("http://%s/", srv.Addr().String())
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancel")
	}
}

func TestServerBindFailure(t *testing.T) {
	logger, _ := logging.NewTestLogger()
	first := NewServer(ServerConfig{
		Bind:    "127.0.0.1",
		Port:    0,
		Handler: http.NotFoundHandler(),
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go first.Serve(ctx)
	<-first.Ready()

	second := NewServer(ServerConfig{
		Bind:    "127.0.0.1",
		Port:    first.Addr().(*net.TCPAddr).Port,
		Handler: http.NotFoundHandler(),
		Logger:  logger,
	})
	if err := second.Serve(context.Background()); err == nil {
		t.Error("Serve succeeded on an occupied port")
	}
}
