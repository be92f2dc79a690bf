package kv

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNoAddrIsNoop(t *testing.T) {
	s := New(Options{}, testLogger())
	defer s.Close()

	s.Set(context.Background(), "working_servers", []byte("[]"), time.Minute)

	if _, ok := s.Get(context.Background(), "working_servers"); ok {
		t.Errorf("Get on a no-op store returned ok=true, want false")
	}
}

func TestUnreachableAddrDegradesToNoop(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:1"}, testLogger())
	defer s.Close()

	if _, ok := s.Get(context.Background(), "working_servers"); ok {
		t.Errorf("Get against an unreachable redis returned ok=true, want false")
	}
}
