package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"fnchat/internal/pkg/auth/jwt"
	"fnchat/internal/pkg/limiter"
	"fnchat/internal/pkg/logx"
	"fnchat/internal/pkg/resp"
)

const (
	LoginRate  = 0.2
	LoginBurst = 5
	WSRate     = 1
	WSBurst    = 10
)

// Router sets up the main HTTP routing table for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
func Router(deps *AppDeps) http.Handler {
	loginLimiter := limiter.NewIPRateLimiter(rate.Limit(LoginRate), LoginBurst)
	wsLimiter := limiter.NewIPRateLimiter(rate.Limit(WSRate), WSBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)
	r.Use(jwt.SessionExtractorMiddleware(deps.Config.SessionSecret))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]string{
			"status":  "ok",
			"service": "fnchat",
		})
	})

	r.Get("/", HandleIndex(deps))
	r.Get("/chat", HandleChat(deps))
	r.Get("/relogin", HandleRelogin(deps))

	r.With(loginLimiter.Middleware).Post("/login", HandleLogin(deps))
	r.Get("/logout", HandleLogout(deps))
	r.Get("/me", HandleMe(deps))

	r.Post("/register-username", HandleRegisterUsername(deps))
	r.Get("/profile-info", HandleProfileInfo(deps))
	r.Get("/profile-show-password", HandleProfileShowPassword(deps))

	r.Get("/api/rooms", HandleListRooms(deps))

	r.With(wsLimiter.Middleware).Get("/ws", HandleWebSocket(wsUpgrader, deps))

	return r
}
