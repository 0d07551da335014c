// Package server exposes a sticker session over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stickerdl/catalog"
	"stickerdl/metrics"
	"stickerdl/preview"
	"stickerdl/resolver"
	"stickerdl/session"
	"stickerdl/storage"
)

type Server struct {
	Session        *session.Session
	Storage        *storage.SQL
	Metrics        metrics.Metrics
	MetricsHandler http.Handler
	PreviewWidth   int
	Log            logrus.FieldLogger
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.logRequests)

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/", s.getCatalog)
		r.Post("/", s.loadCatalog)
	})

	r.Route("/stickers/{index}", func(r chi.Router) {
		r.Get("/", s.getSticker)
		r.Get("/preview", s.getPreview)
	})

	if s.Storage != nil {
		r.Get("/history", s.getHistory)
		r.Get("/history/{id}", s.getLoad)
	}

	if s.MetricsHandler != nil {
		r.Handle("/metrics", s.MetricsHandler)
	}

	return r
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()
	s.log().Infof("listening on %s", address)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

type stickerView struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	SourceURL string `json:"source_url"`
}

type catalogView struct {
	URL      string        `json:"url"`
	Stickers []stickerView `json:"stickers"`
	Warnings []string      `json:"warnings,omitempty"`
	Notice   string        `json:"notice,omitempty"`
}

func newCatalogView(url string, c catalog.Catalog, warnings []catalog.Warning) catalogView {
	view := catalogView{URL: url, Stickers: make([]stickerView, len(c))}
	for i, d := range c {
		view.Stickers[i] = stickerView{Index: i, ID: d.ID, Kind: d.Kind.String(), SourceURL: d.SourceURL}
	}

	for _, warning := range warnings {
		view.Warnings = append(view.Warnings, warning.Error())
	}

	return view
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	url, c, ok := s.Session.Catalog()
	if !ok {
		s.error(w, http.StatusConflict, session.ErrNoCatalog)
		return
	}

	s.json(w, http.StatusOK, newCatalogView(url, c, nil))
}

func (s *Server) loadCatalog(w http.ResponseWriter, r *http.Request) {
	input := r.FormValue("url")
	if input == "" && r.Header.Get("Content-Type") == "application/json" {
		var body struct {
			URL string `json:"url"`
		}

		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.error(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
			return
		}

		input = body.URL
	}

	c, warnings, err := s.Session.LoadCatalog(r.Context(), input)
	s.metrics().Counter("catalog_loads", metrics.Labels{"result": loadResult(err)}).Inc()

	var extractionErr *catalog.ExtractionError
	switch {
	case err == nil:
		s.metrics().Gauge("catalog_size", nil).Set(float64(len(c)))
		url, _, _ := s.Session.Catalog()
		s.archive(r.Context(), url, c)
		s.json(w, http.StatusOK, newCatalogView(url, c, warnings))
	case errors.Is(err, session.ErrAlreadyLoaded):
		url, _, _ := s.Session.Catalog()
		view := newCatalogView(url, c, nil)
		view.Notice = err.Error()
		s.json(w, http.StatusOK, view)
	case errors.Is(err, session.ErrEmptyInput):
		s.metrics().Gauge("catalog_size", nil).Set(0)
		s.error(w, http.StatusBadRequest, err)
	case errors.As(err, &extractionErr) && extractionErr.Reason == catalog.PageFetch:
		s.error(w, http.StatusBadGateway, err)
	case errors.As(err, &extractionErr):
		s.error(w, http.StatusUnprocessableEntity, err)
	default:
		s.error(w, http.StatusInternalServerError, err)
	}
}

func loadResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrAlreadyLoaded):
		return "already_loaded"
	case errors.Is(err, session.ErrEmptyInput):
		return "empty"
	default:
		return "error"
	}
}

func (s *Server) archive(ctx context.Context, url string, c catalog.Catalog) {
	if s.Storage == nil {
		return
	}

	if _, err := s.Storage.SaveCatalog(ctx, url, c, nil); err != nil {
		s.log().Warnf("archive catalog %s: %s", url, err)
	}
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*resolver.ResolvedAsset, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.error(w, http.StatusNotFound, errors.Wrap(session.ErrIndexOutOfRange, "parse index"))
		return nil, false
	}

	asset, err := s.Session.Resolve(r.Context(), index)
	if err == nil {
		return asset, true
	}

	var resolutionErr *resolver.ResolutionError
	switch {
	case errors.Is(err, session.ErrNoCatalog):
		s.error(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrIndexOutOfRange):
		s.error(w, http.StatusNotFound, err)
	case errors.As(err, &resolutionErr) && resolutionErr.Reason == resolver.Timeout:
		s.error(w, http.StatusGatewayTimeout, err)
	case errors.As(err, &resolutionErr):
		s.error(w, http.StatusBadGateway, err)
	default:
		s.error(w, http.StatusInternalServerError, err)
	}

	return nil, false
}

func (s *Server) getSticker(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.resolve(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", asset.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, asset.FileName))
	w.Header().Set("X-Sticker-Status", asset.Status.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Data)
}

func (s *Server) getPreview(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.resolve(w, r)
	if !ok {
		return
	}

	width := s.PreviewWidth
	if value := r.URL.Query().Get("width"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			width = parsed
		}
	}

	data, err := preview.Thumbnail(asset.Data, width)
	if err != nil {
		s.error(w, http.StatusUnprocessableEntity, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Sticker-Status", asset.Status.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type loadView struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	LoadedAt time.Time `json:"loaded_at"`
	Stickers int       `json:"stickers"`
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	loads, err := s.Storage.History(r.Context(), limit)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]loadView, len(loads))
	for i, load := range loads {
		views[i] = loadView{ID: load.ID.String(), URL: load.URL, LoadedAt: load.LoadedAt, Stickers: load.Stickers}
	}

	s.json(w, http.StatusOK, map[string]interface{}{"items": views})
}

func (s *Server) getLoad(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		s.error(w, http.StatusNotFound, errors.Wrap(err, "parse id"))
		return
	}

	c, err := s.Storage.Catalog(r.Context(), id)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}

	if len(c) == 0 {
		s.error(w, http.StatusNotFound, errors.Errorf("load %s not found", id))
		return
	}

	s.json(w, http.StatusOK, newCatalogView("", c, nil))
}

func (s *Server) json(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) error(w http.ResponseWriter, code int, err error) {
	if code >= 500 {
		s.log().Warnf("%d: %s", code, err)
	}

	s.json(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log().WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"status":     ww.Status(),
			"elapsed":    time.Since(start),
		}).Debugf("%s %s", r.Method, r.URL.Path)
	})
}

func (s *Server) metrics() metrics.Metrics {
	if s.Metrics != nil {
		return s.Metrics
	}

	return metrics.Dummy
}

func (s *Server) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}

	return logrus.StandardLogger()
}
