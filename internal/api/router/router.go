package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veloracare/clinic-connect/internal/http/handlers"
	httpmiddleware "github.com/veloracare/clinic-connect/internal/http/middleware"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

// Config holds router configuration. Nil handlers disable their routes so
// partial deployments (api without presence, say) still boot.
type Config struct {
	Logger          *logging.Logger
	WhatsAppWebhook *handlers.WhatsAppWebhookHandler
	Messages        *handlers.MessagesHandler
	OAuth           *handlers.OAuthHandler
	Presence        *handlers.PresenceHandler
	CalendarSync    *handlers.CalendarSyncHandler
	MetricsHandler  http.Handler
	AuthJWTSecret   string
}

// New creates the Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: gateway webhooks authenticate by signature, the
	// OAuth callback by provider redirect.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WhatsAppWebhook != nil {
			public.Route("/webhook/whatsapp", func(r chi.Router) {
				r.Post("/inbound", cfg.WhatsAppWebhook.HandleInbound)
				r.Post("/status", cfg.WhatsAppWebhook.HandleStatus)
			})
		}
		if cfg.OAuth != nil {
			public.Get("/oauth/calendar/callback", cfg.OAuth.Callback)
		}
	})

	// Authenticated API.
	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.UserJWT(cfg.AuthJWTSecret))

		if cfg.Messages != nil {
			api.Route("/conversations", func(r chi.Router) {
				r.Get("/", cfg.Messages.ListConversations)
				r.Post("/", cfg.Messages.StartChat)
				r.Route("/{conversationID}", func(r chi.Router) {
					r.Get("/messages", cfg.Messages.ListMessages)
					r.Post("/messages", cfg.Messages.SendMessage)
					r.Post("/read", cfg.Messages.MarkRead)
					r.Delete("/messages/{messageID}", cfg.Messages.DeleteMessage)
				})
			})
		}
		if cfg.OAuth != nil {
			api.Route("/calendar", func(r chi.Router) {
				r.Post("/connect", cfg.OAuth.Connect)
				r.Get("/status", cfg.OAuth.Status)
				r.Delete("/connection", cfg.OAuth.Disconnect)
				if cfg.CalendarSync != nil {
					r.Post("/sync", cfg.CalendarSync.Trigger)
				}
			})
		}
		if cfg.Presence != nil {
			api.Route("/presence", func(r chi.Router) {
				r.Post("/heartbeat", cfg.Presence.Heartbeat)
				r.Get("/{userID}", cfg.Presence.Get)
			})
		}
	})

	return r
}
