package httpsvc

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/auth"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/product"
	"github.com/vladislavdragonenkov/shop/internal/service/user"
)

const maxBodyBytes = 1 << 20

// Options задаёт необязательные зависимости роутера.
type Options struct {
	Logger     *log.Entry
	Tokens     *auth.TokenManager
	Users      *user.Service
	OrderHub   http.Handler
	ProductHub http.Handler
}

// Option настраивает роутер.
type Option func(*Options)

// WithLogger задаёт logger HTTP-слоя.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTokens включает JWT-аутентификацию: заказы требуют токен, покупатель
// видит только свои заказы. Без TokenManager запросы на изменение товаров
// и к /api/v1/users отклоняются с 401, а заказы остаются открытыми.
func WithTokens(tokens *auth.TokenManager) Option {
	return func(opts *Options) {
		opts.Tokens = tokens
	}
}

// WithUsers подключает регистрацию, вход и управление пользователями.
func WithUsers(users *user.Service) Option {
	return func(opts *Options) {
		opts.Users = users
	}
}

// WithRealtime подключает websocket-каналы заказов и товаров.
func WithRealtime(orders, products http.Handler) Option {
	return func(opts *Options) {
		opts.OrderHub = orders
		opts.ProductHub = products
	}
}

// NewRouter собирает REST API магазина.
func NewRouter(orders *order.Service, products *product.Service, options ...Option) http.Handler {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	oh := &orderHandler{svc: orders, logger: logger.WithField("resource", "orders")}
	ph := &productHandler{svc: products, logger: logger.WithField("resource", "products")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	authenticate := func(r chi.Router) {
		if opts.Tokens != nil {
			r.Use(auth.Authenticate(opts.Tokens, logger.WithField("resource", "auth")))
		}
	}

	r.Route("/api/v1/orders", func(r chi.Router) {
		authenticate(r)
		r.Get("/", oh.list)
		r.Post("/", oh.create)
		r.Get("/{id}", oh.get)
		r.Put("/{id}", oh.update)
		r.Delete("/{id}", oh.delete)
	})

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", ph.list)
		r.Get("/{id}", ph.get)

		r.Group(func(r chi.Router) {
			authenticate(r)
			r.Use(auth.RequireRole(auth.RoleAdmin))
			r.Post("/", ph.create)
			r.Put("/{id}", ph.update)
			r.Delete("/{id}", ph.delete)
		})
	})

	if opts.Users != nil {
		uh := &userHandler{svc: opts.Users, orders: orders, logger: logger.WithField("resource", "users")}

		r.Post("/api/v1/auth/signup", uh.signUp)
		r.Post("/api/v1/auth/signin", uh.signIn)

		r.Route("/api/v1/users", func(r chi.Router) {
			authenticate(r)
			r.Use(auth.RequireClaims)
			r.Get("/me", uh.me)
			r.Put("/me", uh.updateMe)
			r.Delete("/me", uh.deleteMe)
			r.Get("/me/orders", uh.myOrders)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/", uh.list)
				r.Get("/{id}", uh.get)
				r.Put("/{id}", uh.update)
				r.Delete("/{id}", uh.delete)
			})
		})
	}

	if opts.OrderHub != nil {
		r.Handle("/ws/v1/orders", opts.OrderHub)
	}
	if opts.ProductHub != nil {
		r.Handle("/ws/v1/products", opts.ProductHub)
	}

	return r
}

// requestLogger пишет одну строку на запрос через logrus.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(started).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if status >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request served")
		})
	}
}
