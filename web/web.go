// Package web serves the signscan app: its static assets through the offline cache and a small
// JSON API over the scanner.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/samber/lo"
	"goji.io"
	"goji.io/pat"

	"github.com/signscan/signscan/history"
	"github.com/signscan/signscan/logging"
	"github.com/signscan/signscan/notify"
	"github.com/signscan/signscan/rimage"
	"github.com/signscan/signscan/scan"
	"github.com/signscan/signscan/services/signscan"
	"github.com/signscan/signscan/signs"
	"github.com/signscan/signscan/utils"
	"github.com/signscan/signscan/web/assetcache"
)

// DefaultBindAddress is where the server listens when no address is configured.
const DefaultBindAddress = "localhost:8080"

// maxUploadBytes bounds the size of an image posted for detection.
const maxUploadBytes = 16 << 20

// Options configure the web server.
type Options struct {
	BindAddress string
	// AssetRoot is the directory the app's static files are served from.
	AssetRoot string
}

// Deps are what the server exposes. Notifier, History and Assets may be nil.
type Deps struct {
	Scanner  *signscan.Scanner
	Notifier *notify.Notifier
	History  *history.History
	Assets   *assetcache.Worker
}

// Server hosts the app and its API.
type Server struct {
	opts   Options
	deps   Deps
	logger logging.Logger

	workers    utils.StoppableWorkers
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	latest   *scan.Decision
}

// NewServer builds the server. Nothing listens until Start.
func NewServer(opts Options, deps Deps, logger logging.Logger) (*Server, error) {
	if deps.Scanner == nil {
		return nil, errors.New("web server needs a scanner")
	}
	if opts.BindAddress == "" {
		opts.BindAddress = DefaultBindAddress
	}
	s := &Server{
		opts:    opts,
		deps:    deps,
		logger:  logger,
		workers: utils.NewStoppableWorkers(),
	}
	deps.Scanner.Subscribe(func(d scan.Decision) {
		s.mu.Lock()
		s.latest = &d
		s.mu.Unlock()
	})
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	api := goji.SubMux()
	api.HandleFunc(pat.Get("/status"), s.handleStatus)
	api.HandleFunc(pat.Post("/camera/start"), s.handleCameraStart)
	api.HandleFunc(pat.Post("/camera/stop"), s.handleCameraStop)
	api.HandleFunc(pat.Post("/scan/start"), s.handleScanStart)
	api.HandleFunc(pat.Post("/scan/stop"), s.handleScanStop)
	api.HandleFunc(pat.Post("/detect"), s.handleDetect)
	api.HandleFunc(pat.Get("/history"), s.handleHistory)
	api.HandleFunc(pat.Delete("/history"), s.handleHistoryClear)
	api.HandleFunc(pat.Get("/history/:id/thumbnail"), s.handleThumbnail)
	api.HandleFunc(pat.Get("/signs"), s.handleSigns)
	api.HandleFunc(pat.Post("/notifications"), s.handleNotifications)
	mux.Handle(pat.New("/api/*"), cors.AllowAll().Handler(api))

	var static http.Handler = http.NotFoundHandler()
	if s.opts.AssetRoot != "" {
		static = http.FileServer(http.Dir(s.opts.AssetRoot))
	}
	if s.deps.Assets != nil {
		static = s.deps.Assets.Handler(static)
	}
	mux.Handle(pat.New("/*"), static)
	return mux
}

// Start listens on the bind address and serves until Close.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.BindAddress)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %q", s.opts.BindAddress)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.CInfow(ctx, "serving", "url", "http://"+listener.Addr().String())

	s.workers.AddWorkers(func(workerCtx context.Context) {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("error serving http", "error", err)
		}
	})
	return nil
}

// Addr returns the address the server listens on, once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the http server down and waits for it.
func (s *Server) Close(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.workers.Stop()
	return err
}

type decisionJSON struct {
	Label            string    `json:"label"`
	Confidence       float64   `json:"confidence"`
	ConfidenceString string    `json:"confidence_string"`
	IsConfident      bool      `json:"is_confident"`
	SessionID        string    `json:"session_id,omitempty"`
	Samples          int       `json:"samples"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	Image            string    `json:"image,omitempty"`
}

func newDecisionJSON(d scan.Decision) decisionJSON {
	md := signs.MetadataFor(d.Label)
	return decisionJSON{
		Label:            d.Label,
		Confidence:       d.Confidence,
		ConfidenceString: d.ConfidenceString,
		IsConfident:      d.IsConfident,
		SessionID:        d.SessionID,
		Samples:          d.Samples,
		EndedAt:          d.EndedAt,
		Title:            md.Title,
		Body:             md.Body,
		Image:            md.ImageRef,
	}
}

type entryJSON struct {
	ID               string    `json:"id"`
	Time             time.Time `json:"time"`
	Origin           string    `json:"origin"`
	Label            string    `json:"label"`
	ConfidenceString string    `json:"confidence_string"`
	IsConfident      bool      `json:"is_confident"`
	Samples          int       `json:"samples"`
	HasThumbnail     bool      `json:"has_thumbnail"`
}

type statusJSON struct {
	CameraRunning        bool          `json:"camera_running"`
	Scanning             bool          `json:"scanning"`
	NotificationsEnabled bool          `json:"notifications_enabled"`
	Latest               *decisionJSON `json:"latest,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := statusJSON{
		CameraRunning: s.deps.Scanner.CameraRunning(),
		Scanning:      s.deps.Scanner.Scanning(),
	}
	if s.deps.Notifier != nil {
		status.NotificationsEnabled = s.deps.Notifier.Enabled()
	}
	s.mu.Lock()
	if s.latest != nil {
		latest := newDecisionJSON(*s.latest)
		status.Latest = &latest
	}
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, status)
}

// The camera and scans outlive the request that starts them, so they run on the server's context.
func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	s.deps.Scanner.StartCamera(s.workers.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Scanner.StopCamera()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scanner.StartScan(withDebug(s.workers.Context(), r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Scanner.StopScan()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		s.writeError(w, errors.Wrap(err, "cannot read upload"))
		return
	}
	img, err := rimage.DecodeImage(r.Context(), body, uploadMimeType(r.Header.Get("Content-Type")))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	decision, err := s.deps.Scanner.DetectImage(withDebug(r.Context(), r), img)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newDecisionJSON(decision))
}

// withDebug turns on debug logging for work started by a request carrying a debug query
// parameter. Its value, if any, tags the log lines.
func withDebug(ctx context.Context, r *http.Request) context.Context {
	query := r.URL.Query()
	if !query.Has("debug") {
		return ctx
	}
	return logging.EnableDebugMode(ctx, query.Get("debug"))
}

// uploadMimeType keeps only image types DecodeImage knows. Anything else is sniffed.
func uploadMimeType(contentType string) string {
	switch contentType {
	case utils.MimeTypeJPEG, utils.MimeTypePNG, utils.MimeTypeQOI:
		return contentType
	default:
		return ""
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeJSON(w, http.StatusOK, []entryJSON{})
		return
	}
	list := s.deps.History.List()
	if _, ok := r.URL.Query()["confident"]; ok {
		list = s.deps.History.Confident()
	}
	entries := lo.Map(list, func(e history.Entry, _ int) entryJSON {
		return entryJSON{
			ID:               e.ID,
			Time:             e.Time,
			Origin:           string(e.Origin),
			Label:            e.Label,
			ConfidenceString: e.ConfidenceString,
			IsConfident:      e.IsConfident,
			Samples:          e.Samples,
			HasThumbnail:     e.Thumbnail != nil,
		}
	})
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.History != nil {
		s.deps.History.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		http.NotFound(w, r)
		return
	}
	entry, ok := s.deps.History.Get(pat.Param(r, "id"))
	if !ok || entry.Thumbnail == nil {
		http.NotFound(w, r)
		return
	}
	encoded, err := rimage.EncodeImage(r.Context(), entry.Thumbnail, utils.MimeTypePNG)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", utils.MimeTypePNG)
	if _, err := w.Write(encoded); err != nil {
		s.logger.CDebugw(r.Context(), "cannot write thumbnail", "error", err)
	}
}

type signJSON struct {
	ClassID int    `json:"class_id"`
	Label   string `json:"label"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Image   string `json:"image"`
}

func (s *Server) handleSigns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, lo.Map(signs.All(), func(c signs.Category, _ int) signJSON {
		md := c.Metadata()
		return signJSON{ClassID: c.ClassID(), Label: c.String(), Title: md.Title, Body: md.Body, Image: md.ImageRef}
	}))
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifier == nil {
		s.writeError(w, notify.ErrUnsupported)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.deps.Notifier.SetEnabled(r.Context(), req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.deps.Notifier.Enabled()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, signscan.ErrCameraNotRunning),
		errors.Is(err, signscan.ErrScanInProgress),
		errors.Is(err, scan.ErrAlreadyActive),
		errors.Is(err, scan.ErrSourceNotReady):
		return http.StatusConflict
	case errors.Is(err, notify.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, notify.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Errorw("request failed", "error", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", utils.MimeTypeJSON)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("cannot write response", "error", err)
	}
}
