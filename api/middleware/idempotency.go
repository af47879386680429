package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/dispatch-backend/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	maxIdempotencyKeyLen   = 128
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

// replayedRoute is a dispatch write that must not run twice for one key.
// Path segments written as {name} match any single segment.
type replayedRoute struct {
	method string
	path   []string
	ttl    time.Duration
}

func route(method, path string, ttl time.Duration) replayedRoute {
	return replayedRoute{method: method, path: splitPath(path), ttl: ttl}
}

// Escalation and reopen carry pay bonuses, so their replays live longer.
var replayedRoutes = []replayedRoute{
	route(http.MethodPost, "/api/v1/assignments/{assignmentId}/bid-windows", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/v1/assignments/{assignmentId}/emergency", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/v1/assignments/{assignmentId}/reopen", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/v1/bid-windows/{windowId}/bids", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/v1/bid-windows/{windowId}/close", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/v1/onboarding/entries", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/v1/notifications/{notificationId}/read", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/v1/notifications/read-all", defaultIdempotencyTTL),
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func (rr replayedRoute) matches(method string, segments []string) bool {
	if rr.method != method || len(rr.path) != len(segments) {
		return false
	}
	for i, want := range rr.path {
		if strings.HasPrefix(want, "{") || want == segments[i] {
			continue
		}
		return false
	}
	return true
}

// replayTTL reports how long a response for method and path is replayable.
// The raw path is used because the group middleware runs before chi
// resolves the subroute.
func replayTTL(method, path string) (time.Duration, bool) {
	segments := splitPath(path)
	for _, rr := range replayedRoutes {
		if rr.matches(method, segments) {
			return rr.ttl, true
		}
	}
	return 0, false
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the first response for an Idempotency-Key on dispatch
// write routes. Keys are scoped to the caller and the exact path, so one
// driver's key never replays another driver's bid. Server errors are not
// stored, which lets the client retry them under the same key.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, replayed := replayTTL(r.Method, r.URL.Path)
			if !replayed || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			requestHash := hex.EncodeToString(sum[:])

			scope := strings.Join([]string{
				OrganizationIDFromContext(ctx),
				UserIDFromContext(ctx),
				r.Method,
				r.URL.Path,
			}, "|")
			key := store.IdempotencyKey(scope, clientKey)

			raw, err := store.Get(ctx, key)
			if err != nil && !errors.Is(err, redis.Nil) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if raw != "" {
				var prior storedResponse
				if err := json.Unmarshal([]byte(raw), &prior); err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
					return
				}
				if prior.RequestHash != requestHash {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				if prior.ContentType != "" {
					w.Header().Set("Content-Type", prior.ContentType)
				}
				w.Header().Set("Idempotent-Replay", "true")
				w.WriteHeader(prior.Status)
				_, _ = w.Write(prior.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status >= http.StatusInternalServerError {
				return
			}

			payload, err := json.Marshal(storedResponse{
				Status:      capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				RequestHash: requestHash,
			})
			if err == nil {
				_, err = store.SetNX(ctx, key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
