package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorFromHTTPStatusClassification(t *testing.T) {
	cases := []struct {
		status  int
		message string
		want    any
	}{
		{400, "bad request", new(*InvalidRequestError)},
		{401, "", new(*AuthenticationError)},
		{403, "", new(*AccessDeniedError)},
		{404, "", new(*NotFoundError)},
		{413, "", new(*ContextLengthError)},
		{429, "", new(*RateLimitError)},
		{500, "", new(*ServerError)},
		{502, "", new(*ServerError)},
		{418, "", new(*UnknownHTTPError)},
		// Ambiguous statuses classified by message hints.
		{400, "request blocked by content filter", new(*ContentFilterError)},
		{422, "context length exceeded", new(*ContextLengthError)},
		{400, "model does not exist", new(*NotFoundError)},
		{422, "invalid key provided", new(*AuthenticationError)},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_%s", tc.status, tc.message), func(t *testing.T) {
			err := ErrorFromHTTPStatus("openrouter", tc.status, tc.message, nil)
			if !errors.As(err, tc.want) {
				t.Fatalf("status %d %q classified as %T", tc.status, tc.message, err)
			}
			var uerr Error
			if !errors.As(err, &uerr) {
				t.Fatalf("%T does not implement Error", err)
			}
			if uerr.Provider() != "openrouter" || uerr.StatusCode() != tc.status {
				t.Fatalf("provider=%q status=%d", uerr.Provider(), uerr.StatusCode())
			}
		})
	}
}

func TestWrapContextErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapContextError("p", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if err := WrapContextError("p", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
	if WrapContextError("p", nil) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestWrapContextErrorWrapsTransportFailures(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapContextError("openrouter", cause)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable through Unwrap")
	}
	if te.Provider() != "openrouter" {
		t.Fatalf("provider = %q", te.Provider())
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(context.Canceled) {
		t.Fatal("context.Canceled should count as cancelled")
	}
	if !IsCancelled(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Fatal("wrapped cancellation should count")
	}
	if IsCancelled(errors.New("boom")) {
		t.Fatal("plain errors are not cancellations")
	}
	if IsCancelled(nil) {
		t.Fatal("nil is not a cancellation")
	}
}

func TestIsAuthenticationError(t *testing.T) {
	err := ErrorFromHTTPStatus("p", 401, "bad key", nil)
	if !IsAuthenticationError(err) {
		t.Fatal("401 should classify as authentication error")
	}
	if IsAuthenticationError(ErrorFromHTTPStatus("p", 500, "", nil)) {
		t.Fatal("500 is not an authentication error")
	}
}
