package cli

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mchmarny/riskdash/pkg/model"
	"github.com/mchmarny/riskdash/pkg/session"
	"github.com/mchmarny/riskdash/pkg/store"
	urfave "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 300
	serverMaxHeaderBytes      = 20
)

var (
	//go:embed assets/* templates/*
	embedFS embed.FS

	portFlag = &urfave.IntFlag{
		Name:  "port",
		Usage: "Port on which the server will listen (default: from config)",
	}

	noBrowserFlag = &urfave.BoolFlag{
		Name:    "no-browser",
		Aliases: []string{"nb"},
		Usage:   "Do not open browser automatically",
	}

	serverCmd = &urfave.Command{
		Name:    "server",
		Aliases: []string{"serve"},
		Usage:   "Start the local risk dashboard",
		Action:  cmdStartServer,
		Flags: []urfave.Flag{
			portFlag,
			thresholdFlag,
			noBrowserFlag,
		},
	}
)

func cmdStartServer(ctx context.Context, cmd *urfave.Command) error {
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}
	if cmd.IsSet(portFlag.Name) {
		cfg.Port = int(cmd.Int(portFlag.Name))
	}
	if cmd.IsSet(thresholdFlag.Name) {
		cfg.Threshold = cmd.Float(thresholdFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	b, err := model.Load(cfg.Model)
	if err != nil {
		return err
	}
	slog.Info("model loaded", "path", cfg.Model, "trees", b.Info().Trees)

	st, err := store.Open(store.MemoryDSN)
	if err != nil {
		return fmt.Errorf("opening upload cache: %w", err)
	}
	defer st.Close()

	sess, err := session.New(b, st, cfg.CacheSize)
	if err != nil {
		return err
	}

	d := &dashboard{
		session:   sess,
		model:     b.Info(),
		threshold: cfg.Threshold,
		maxUpload: cfg.MaxUploadBytes(),
	}

	address := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	s := &http.Server{
		Addr:           address,
		Handler:        makeRouter(d),
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error starting server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error shutting down server: %w", err)
		}
		slog.Info("server stopped")
		return nil
	})

	url := fmt.Sprintf("http://%s", address)
	slog.Info("server started", "address", url)

	if !cmd.Bool(noBrowserFlag.Name) {
		openBrowser(url)
	}

	return g.Wait()
}

func makeRouter(d *dashboard) http.Handler {
	if d.tmpl == nil {
		d.tmpl = template.Must(template.New("").Funcs(templateFuncs).ParseFS(embedFS, "templates/*.html"))
	}

	static, err := fs.Sub(embedFS, "assets")
	if err != nil {
		panic(err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	// Static files
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(static)))
	r.Get("/favicon.ico", faviconHandler)

	// Views
	r.Get("/", d.homeViewHandler)

	// Data API
	r.Route("/data", func(r chi.Router) {
		r.Get("/model", d.modelAPIHandler)
		r.Get("/features", featuresAPIHandler)
		r.Post("/upload", d.uploadAPIHandler)
		r.Get("/upload", d.currentUploadAPIHandler)
		r.Get("/uploads", d.uploadsAPIHandler)
		r.Post("/uploads/{id}/select", d.selectUploadAPIHandler)
		r.Delete("/uploads/{id}", d.deleteUploadAPIHandler)
		r.Get("/scores", d.scoresAPIHandler)
		r.Get("/download", d.downloadAPIHandler)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("request",
			"id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}

func openBrowser(url string) {
	var cmd string
	args := make([]string, 0, 1)

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
	case "linux":
		cmd = "xdg-open"
	default: // windows
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler"}
	}

	args = append(args, url)
	if err := exec.Command(cmd, args...).Start(); err != nil {
		slog.Error("failed to open browser", "error", err)
	}
}
