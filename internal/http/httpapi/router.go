package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"portraitstudio/internal/http/handlers"
	"portraitstudio/internal/infra"
	"portraitstudio/internal/middleware"
)

// Options tunes the router.
type Options struct {
	Logger          infra.Logger
	CORSOrigins     []string
	RateLimitPerMin int
	// StaticDir is served under /static when set (filesystem storage).
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/styles", app.Styles)

	r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/generate", app.Generate)
	r.Get("/images/{sessionId}", app.Images)
	r.Post("/create-checkout", app.CreateCheckout)
	r.Get("/download/{sessionId}", app.Download)
	r.Post("/webhook", app.Webhook)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(fileOnlyFS{http.Dir(opts.StaticDir)}))
		r.Get("/static/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=86400")
			fs.ServeHTTP(w, r)
		})
	}

	return r
}

// fileOnlyFS hides directories so the static tree cannot be listed.
type fileOnlyFS struct {
	fs http.FileSystem
}

func (f fileOnlyFS) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
