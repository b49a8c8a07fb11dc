package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/domain"
)

const (
	// SignatureHeader carries the EIP-191 signature of SignedMessage.
	SignatureHeader = "X-Signature"
	// TimestampHeader carries the unix seconds the client signed at.
	TimestampHeader = "X-Timestamp"

	maxSignedBody = 1 << 20
)

// CallerResolver maps a recovered signer address to its vault roles.
type CallerResolver interface {
	Caller(addr common.Address) domain.Caller
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored by Signature.
func CallerFrom(ctx context.Context) (domain.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(domain.Caller)
	return c, ok
}

// SignedMessage is the byte string a client signs for a request:
// "<METHOD> <PATH>\n<timestamp>\n<body>".
func SignedMessage(method, path, timestamp string, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s\n%s\n", method, path, timestamp)
	b.Write(body)
	return b.Bytes()
}

// Signature authenticates a request by the EIP-191 signature over
// SignedMessage and stores the resolved Caller in the request context.
// Requests older than maxAge, or dated more than maxAge in the future, are
// rejected.
func Signature(resolver CallerResolver, maxAge time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	now := time.Now
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(SignatureHeader)
			ts := r.Header.Get(TimestampHeader)
			if sig == "" || ts == "" {
				writeUnauthorized(w, "missing request signature")
				return
			}
			secs, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid request timestamp")
				return
			}
			if age := now().Sub(time.Unix(secs, 0)); age > maxAge || age < -maxAge {
				writeUnauthorized(w, "request timestamp out of range")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeErrorJSON(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.RecoverAddress(SignedMessage(r.Method, r.URL.Path, ts, body), sig)
			if err != nil {
				logger.DebugContext(r.Context(), "signature rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w, "invalid request signature")
				return
			}

			caller := resolver.Caller(addr)
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
