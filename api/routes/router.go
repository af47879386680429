package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/dispatch-backend/api/controllers"
	"github.com/angelmondragon/dispatch-backend/api/middleware"
	"github.com/angelmondragon/dispatch-backend/internal/auth"
	"github.com/angelmondragon/dispatch-backend/internal/notifications"
	"github.com/angelmondragon/dispatch-backend/pkg/auth/session"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

// RedisStore is the slice of the redis client the HTTP middleware uses.
type RedisStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// RouterParams collects everything the HTTP surface is built from.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         RedisStore
	RedisPinger   controllers.Pinger
	Sessions      sessionManager
	Gatherer      prometheus.Gatherer
	Auth          auth.Service
	Register      auth.RegisterService
	BidWindows    controllers.BidWindowService
	Reservations  controllers.SignupReservations
	Entries       controllers.SignupEntries
	Assignments   controllers.AssignmentFinder
	Notifications notifications.Service
	Now           func() time.Time
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	signupPolicy := middleware.NewAuthRateLimitPolicy(
		"signup",
		cfg.AuthRateLimit.SignupWindow,
		cfg.AuthRateLimit.SignupIPLimit,
		cfg.AuthRateLimit.SignupEmailLimit,
	)
	signupLimit := middleware.AuthRateLimit(signupPolicy, p.Redis, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"postgres": p.DB,
			"redis":    p.RedisPinger,
		}, logg))
	})
	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, p.Redis, logg)).Post("/login", controllers.AuthLogin(p.Auth, logg))
		r.With(signupLimit).Post("/register", controllers.AuthRegister(p.Register, p.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(p.Sessions, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(p.Sessions, cfg.JWT, logg))
	})

	r.With(signupLimit).Post("/api/v1/organizations", controllers.CreateOrganization(p.Register, p.Auth, logg))

	r.Route("/api/v1/signup/reservations", func(r chi.Router) {
		r.Use(signupLimit)
		r.Post("/", controllers.ReserveSignup(p.Reservations, logg))
		r.Post("/{reservationId}/finalize", controllers.FinalizeSignup(p.Reservations, logg))
		r.Post("/{reservationId}/release", controllers.ReleaseSignup(p.Reservations, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.RequireOrganization(logg))
		r.Use(middleware.Idempotency(p.Redis, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
		})

		r.Get("/v1/assignments/{assignmentId}/lifecycle", controllers.AssignmentLifecycle(p.Assignments, p.Now, logg))

		r.With(middleware.RequireRoles(logg, enums.RoleDriver)).
			Post("/v1/bid-windows/{windowId}/bids", controllers.SubmitBid(p.BidWindows, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRoles(logg, enums.RoleOwner, enums.RoleManager))

			r.Route("/v1/assignments/{assignmentId}", func(r chi.Router) {
				r.Post("/bid-windows", controllers.OpenBidWindow(p.BidWindows, logg))
				r.Post("/emergency", controllers.EscalateAssignment(p.BidWindows, logg))
				r.Post("/reopen", controllers.ReopenAssignment(p.BidWindows, logg))
			})

			r.Route("/v1/bid-windows", func(r chi.Router) {
				r.Get("/expired", controllers.ListExpiredBidWindows(p.BidWindows, logg))
				r.Post("/{windowId}/resolve", controllers.ResolveBidWindow(p.BidWindows, logg))
				r.Post("/{windowId}/close", controllers.CloseBidWindow(p.BidWindows, logg))
			})

			r.Route("/v1/onboarding/entries", func(r chi.Router) {
				r.Post("/", controllers.CreateSignupEntry(p.Entries, logg))
				r.Post("/{entryId}/revoke", controllers.RevokeSignupEntry(p.Entries, logg))
			})
		})
	})

	return r
}
