package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gasha-backend/internal/hub"
	"github.com/DoyleJ11/gasha-backend/internal/sse"
	"github.com/DoyleJ11/gasha-backend/internal/types"
	"github.com/DoyleJ11/gasha-backend/internal/ws"
)

type Options struct {
	PublicBaseURL  string
	AllowedOrigins []string
	Limits         types.Limits
	WS             ws.Config
	SSE            sse.Config
	Logger         *zap.Logger
}

func SetupRoutes(h *hub.Hub, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	wsCfg := opts.WS
	wsCfg.Limits = opts.Limits
	wsCfg.OriginPatterns = originHosts(opts.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, wsCfg, log.Named("ws")))

	r.Post("/rooms", CreateRoom(h, log))
	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Get("/state", RoomState(h))
		r.Post("/commands", ApplyCommand(h, types.NewDecoder(opts.Limits), log))
		r.Get("/history.csv", HistoryCSV(h))
		r.Get("/qr.png", RoomQR(strings.TrimRight(opts.PublicBaseURL, "/")))
		r.Get("/events", sse.Handler(h, opts.SSE, log.Named("sse")))
	})

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// originHosts turns CORS origins into the host patterns the websocket accept check uses.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, strings.TrimRight(o, "/"))
	}
	return out
}
