package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/bondvault/internal/crypto"
	"github.com/alanyoungcy/bondvault/internal/domain"
)

// MaxSignedBody caps the request body read for signature verification.
const MaxSignedBody = 1 << 20

type callerKey struct{}

// Caller returns the verified caller address stored by Identity.
func Caller(ctx context.Context) (domain.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(domain.Address)
	return a, ok
}

// WithCaller returns ctx carrying addr as the verified caller.
func WithCaller(ctx context.Context, addr domain.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Identity returns middleware that verifies the X-Bond-* signature headers
// and stores the recovered address in the request context. Requests without
// a signature pass through anonymously; handlers that need a caller reject
// them. A signature whose timestamp is more than maxSkew away from now, or
// that does not recover to the claimed address, is rejected with 401.
//
// Each accepted signature is remembered in replays for twice maxSkew and a
// second request carrying it is rejected with 401. A nil replays accepts
// repeats.
func Identity(maxSkew time.Duration, replays domain.ReplayGuard, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(crypto.HeaderSignature)
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}

			claimed, err := domain.ParseAddress(r.Header.Get(crypto.HeaderAddress))
			if err != nil {
				writeUnauthorized(w, "invalid "+crypto.HeaderAddress+" header")
				return
			}
			ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid "+crypto.HeaderTimestamp+" header")
				return
			}
			if skew := now().Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeUnauthorized(w, "request timestamp outside allowed skew")
				return
			}
			nonce := r.Header.Get(crypto.HeaderNonce)
			if len(nonce) > crypto.MaxNonceLen {
				writeUnauthorized(w, crypto.HeaderNonce+" header too long")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, MaxSignedBody+1))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			if len(body) > MaxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "InvalidParameter", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, err := crypto.RecoverRequestSigner(r.Method, r.URL.RequestURI(), ts, nonce, body, sig)
			if err != nil || signer != claimed {
				writeUnauthorized(w, "signature does not match "+crypto.HeaderAddress)
				return
			}

			if replays != nil {
				id := crypto.RequestID(signer, r.Method, r.URL.RequestURI(), ts, nonce, body)
				fresh, err := replays.Remember(r.Context(), id, 2*maxSkew)
				if err != nil {
					writeError(w, http.StatusServiceUnavailable, "Busy", "replay check unavailable")
					return
				}
				if !fresh {
					writeUnauthorized(w, "signed request already used")
					return
				}
			}

			noteCaller(r.Context(), signer.Hex())
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), signer)))
		})
	}
}
