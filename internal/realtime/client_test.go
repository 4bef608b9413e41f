package realtime

import (
	"testing"

	"github.com/gorilla/websocket"

	"chatcore/internal/apperrors"
)

func TestClientEnqueueDropsWhenSendBufferFull(t *testing.T) {
	c := &Client{userID: "alice", send: make(chan []byte, 1)}

	c.enqueue([]byte("first"), "message:new")
	// The buffer (capacity 1) is now full; a second enqueue must not block
	// forever and must not panic, it should simply be dropped after the
	// grace period.
	done := make(chan struct{})
	go func() {
		c.enqueue([]byte("second"), "message:new")
		close(done)
	}()
	<-done

	if got := <-c.send; string(got) != "first" {
		t.Errorf("buffered payload = %q, want %q (the second enqueue should have been dropped)", got, "first")
	}
}

func TestCloseCodeForAuthErrorUnauthorized(t *testing.T) {
	err := apperrors.New(apperrors.Unauthorized, "token expired")
	if got := CloseCodeForAuthError(err); got != websocket.ClosePolicyViolation {
		t.Errorf("CloseCodeForAuthError(Unauthorized) = %d, want %d", got, websocket.ClosePolicyViolation)
	}
}

func TestCloseCodeForAuthErrorOther(t *testing.T) {
	err := apperrors.New(apperrors.Internal, "unexpected")
	if got := CloseCodeForAuthError(err); got != websocket.CloseInternalServerErr {
		t.Errorf("CloseCodeForAuthError(Internal) = %d, want %d", got, websocket.CloseInternalServerErr)
	}
}

func TestCloseCodeForAuthErrorNonAppError(t *testing.T) {
	err := errPlain("boom")
	if got := CloseCodeForAuthError(err); got != websocket.CloseInternalServerErr {
		t.Errorf("CloseCodeForAuthError(plain error) = %d, want %d", got, websocket.CloseInternalServerErr)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
