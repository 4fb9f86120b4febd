package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "kind and message",
			err:  InvalidState("state token expired"),
			want: "INVALID_STATE: state token expired",
		},
		{
			name: "with cause",
			err:  SendFailed("provider rejected message", errors.New("quota exceeded")),
			want: "SEND_FAILED: provider rejected message: cause=quota exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}

	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain error) = %q, want %q", got, KindInternal)
	}

	if got := KindOf(RateLimited("acct-1")); got != KindRateLimited {
		t.Errorf("KindOf(RateLimited) = %q, want %q", got, KindRateLimited)
	}

	// Kind survives wrapping
	wrapped := fmt.Errorf("dispatch: %w", NoAccount("u1", "google"))
	if !IsKind(wrapped, KindNoAccount) {
		t.Errorf("IsKind(wrapped, NO_ACCOUNT) = false, want true")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Unauthorized("missing token"), http.StatusUnauthorized},
		{NoAccount("u1", "google"), http.StatusNotFound},
		{InvalidState("unknown token"), http.StatusBadRequest},
		{ValidationError("no recipients"), http.StatusBadRequest},
		{RateLimited("acct-1"), http.StatusTooManyRequests},
		{RefreshFailed("grant revoked", nil), http.StatusBadGateway},
		{SendFailed("rejected", nil), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("cipher: message authentication failed")
	err := DecryptionFailed(cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}
