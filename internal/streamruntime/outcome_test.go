package streamruntime

import (
	"errors"
	"testing"

	"github.com/HyphaGroup/chatsidecar/internal/transport"
)

func TestIsClosedReportsOpenChannelAsFalse(t *testing.T) {
	ch := make(chan struct{})
	if isClosed(ch) {
		t.Error("isClosed on an open channel returned true")
	}
}

func TestIsClosedReportsClosedChannelAsTrue(t *testing.T) {
	ch := make(chan struct{})
	close(ch)
	if !isClosed(ch) {
		t.Error("isClosed on a closed channel returned false")
	}
}

func TestErrMessageFallsBackWhenNil(t *testing.T) {
	if got := errMessage(nil); got == "" {
		t.Error("errMessage(nil) must not be empty; the transport closed without a cause")
	}
}

func TestErrMessageUsesUnderlyingError(t *testing.T) {
	err := errors.New("boom")
	if got := errMessage(err); got != "boom" {
		t.Errorf("errMessage = %q, want %q", got, "boom")
	}
}

func TestErrTypeNameDistinguishesTransportExit(t *testing.T) {
	exit := &transport.ExitError{ExitCode: 1}
	if got := errTypeName(exit); got != "transport_exited" {
		t.Errorf("errTypeName(ExitError) = %q, want transport_exited", got)
	}
	if got := errTypeName(errors.New("other")); got != "transport_error" {
		t.Errorf("errTypeName(generic) = %q, want transport_error", got)
	}
}
