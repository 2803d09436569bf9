package main

import (
	"errors"
	"net"
	"net/http"
	"os"
	osSignal "os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func stubSignal(t *testing.T, sig os.Signal) {
	t.Helper()
	t.Cleanup(func() {
		signalNotify = osSignal.Notify
	})
	signalNotify = func(ch chan<- os.Signal, _ ...os.Signal) {
		go func() {
			ch <- sig
		}()
	}
}

func TestShutdownSignals(t *testing.T) {
	stubSignal(t, syscall.SIGTERM)

	server := &http.Server{}
	called := make(chan struct{}, 1)
	server.RegisterOnShutdown(func() {
		called <- struct{}{}
	})

	shutdown(server, time.Millisecond, zaptest.NewLogger(t))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatalf("expected server shutdown callback to execute")
	}
}

func TestShutdownStopsRunningServer(t *testing.T) {
	stubSignal(t, os.Interrupt)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ln)
	}()

	shutdown(server, time.Second, zaptest.NewLogger(t))

	select {
	case err := <-served:
		assert.True(t, errors.Is(err, http.ErrServerClosed), "unexpected serve error: %v", err)
	case <-time.After(time.Second):
		t.Fatalf("expected server to stop serving")
	}
}
