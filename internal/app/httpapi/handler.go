// Package httpapi exposes the mirror and the lookup caches over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	domain "github.com/farstore/registry-sync/internal/app/domain/registry"
	"github.com/farstore/registry-sync/internal/app/metrics"
	"github.com/farstore/registry-sync/internal/app/storage"
	"github.com/farstore/registry-sync/internal/httputil"
	"github.com/farstore/registry-sync/internal/middleware"
	"github.com/farstore/registry-sync/pkg/logger"
)

// MaxFrameIDs bounds the ids accepted by /apps.
const MaxFrameIDs = 20

// Registry is the subset of the sync engine used by the read path.
type Registry interface {
	Lookup(ctx context.Context, domain string) (domain.Manifest, error)
	Reload(ctx context.Context, domain string) (domain.Manifest, error)
	ListApps(ctx context.Context, ids []int64) ([]domain.AppRecord, error)
}

// MetricsReader reads the derived-metrics cache.
type MetricsReader interface {
	Get(domain string) domain.DerivedMetrics
	List() []domain.DerivedMetrics
}

// Options configures the router.
type Options struct {
	Registry      Registry
	Metrics       MetricsReader
	Notifications storage.NotificationStore
	APIKeys       middleware.KeyResolver
	// RateLimit is requests per second per caller; zero disables limiting.
	RateLimit      int
	AllowedOrigins []string
	// AuditLogPath appends private-route audit entries as JSON lines.
	AuditLogPath string
	// Done stops background maintenance of the rate limiter when closed.
	Done <-chan struct{}
}

type handler struct {
	registry      Registry
	metrics       MetricsReader
	notifications storage.NotificationStore
	audit         *auditLog
	log           *logger.Logger
}

// NewHandler returns the read-path router.
func NewHandler(opts Options, log *logger.Logger) (http.Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if f, ok := sink.(*fileAuditSink); ok && opts.Done != nil {
		go func() {
			<-opts.Done
			f.Close()
		}()
	}
	h := &handler{
		registry:      opts.Registry,
		metrics:       opts.Metrics,
		notifications: opts.Notifications,
		audit:         newAuditLog(0, sink),
		log:           log,
	}

	router := mux.NewRouter()

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/status", h.status).Methods(http.MethodGet)
	router.HandleFunc("/reload/app/{domain}", h.reloadApp).Methods(http.MethodGet)
	router.HandleFunc("/app/{domain}", h.app).Methods(http.MethodGet)
	router.HandleFunc("/apps", h.apps).Methods(http.MethodGet)
	router.HandleFunc("/onchain", h.onchainList).Methods(http.MethodGet)
	router.HandleFunc("/onchain/{domain}", h.onchain).Methods(http.MethodGet)

	private := router.PathPrefix("/private").Subrouter()
	private.Use(middleware.NewAPIKeyAuth(opts.APIKeys, log).Handler)
	if opts.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(opts.RateLimit, opts.RateLimit*2, log)
		if opts.Done != nil {
			limiter.StartCleanup(10*time.Minute, opts.Done)
		}
		private.Use(limiter.Handler)
	}
	private.Use(h.audit.middleware)
	private.HandleFunc("/notification_target", h.getNotificationTarget).Methods(http.MethodGet)
	private.HandleFunc("/notification_target", h.upsertNotificationTarget).Methods(http.MethodPost)
	private.HandleFunc("/notification_target", h.deleteNotificationTarget).Methods(http.MethodDelete)

	// Preflight requests match no route, so CORS wraps the router.
	var root http.Handler = router
	root = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(root)
	root = middleware.SecurityHeaders(root)
	root = middleware.NewRequestLogger(log).Handler(root)
	return metrics.InstrumentHandler(root), nil
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteResults(w, map[string]string{"status": "OK"})
}

func (h *handler) reloadApp(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["domain"]
	if strings.TrimSpace(name) == "" {
		h.writeError(w, errors.New("Missing domain"))
		return
	}
	m, err := h.registry.Reload(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteResults(w, m.Raw)
}

func (h *handler) app(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["domain"]
	if strings.TrimSpace(name) == "" {
		h.writeError(w, errors.New("Missing domain"))
		return
	}
	m, err := h.registry.Lookup(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteResults(w, m.Raw)
}

type appListing struct {
	Domain  string          `json:"domain"`
	FrameID int64           `json:"frameId"`
	Frame   json.RawMessage `json:"frame"`
}

func (h *handler) apps(w http.ResponseWriter, r *http.Request) {
	ids, err := parseFrameIDs(r.URL.Query().Get("frameIds"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	records, err := h.registry.ListApps(r.Context(), ids)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]appListing, 0, len(records))
	for _, rec := range records {
		if rec.LedgerID == nil {
			continue
		}
		out = append(out, appListing{Domain: rec.Domain, FrameID: *rec.LedgerID, Frame: rec.Manifest})
	}
	httputil.WriteResults(w, out)
}

func parseFrameIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) > MaxFrameIDs {
		return nil, fmt.Errorf("Max %d frameIds", MaxFrameIDs)
	}
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid frameId %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *handler) onchain(w http.ResponseWriter, r *http.Request) {
	httputil.WriteResults(w, h.metrics.Get(mux.Vars(r)["domain"]))
}

func (h *handler) onchainList(w http.ResponseWriter, r *http.Request) {
	httputil.WriteResults(w, h.metrics.List())
}

func (h *handler) getNotificationTarget(w http.ResponseWriter, r *http.Request) {
	apiDomain := middleware.APIDomain(r.Context())
	fid, err := strconv.ParseInt(r.URL.Query().Get("fid"), 10, 64)
	if err != nil {
		// Matches no row.
		fid = -1
	}
	target, err := h.notifications.GetNotificationTarget(r.Context(), apiDomain, fid)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteResults(w, nil)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteResults(w, target)
}

type notificationPayload struct {
	FID      json.Number `json:"fid"`
	Token    string      `json:"token"`
	Endpoint string      `json:"endpoint"`
}

func (h *handler) upsertNotificationTarget(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeNotificationPayload(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	fid, err := payload.FID.Int64()
	if err != nil {
		h.writeError(w, fmt.Errorf("invalid fid: %w", err))
		return
	}
	target := domain.NotificationTarget{
		Domain: middleware.APIDomain(r.Context()),
		FID:    fid,
		URL:    strings.TrimSpace(payload.Endpoint),
		Token:  payload.Token,
	}
	if err := h.notifications.UpsertNotificationTarget(r.Context(), target); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteResults(w, "OK")
}

func (h *handler) deleteNotificationTarget(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeNotificationPayload(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	fid, err := payload.FID.Int64()
	if err != nil {
		h.writeError(w, fmt.Errorf("invalid fid: %w", err))
		return
	}
	if err := h.notifications.DeactivateNotificationTarget(r.Context(), middleware.APIDomain(r.Context()), fid); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteResults(w, "OK")
}

// decodeNotificationPayload accepts JSON or form-encoded bodies.
func decodeNotificationPayload(r *http.Request) (notificationPayload, error) {
	var payload notificationPayload
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return payload, fmt.Errorf("parse form: %w", err)
		}
		payload.FID = json.Number(r.PostForm.Get("fid"))
		payload.Token = r.PostForm.Get("token")
		payload.Endpoint = r.PostForm.Get("endpoint")
		return payload, nil
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		return payload, fmt.Errorf("decode body: %w", err)
	}
	return payload, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, 64<<10))
	return dec.Decode(dst)
}

// writeError reports every failure with status 500 and the error text, the
// contract existing clients depend on.
func (h *handler) writeError(w http.ResponseWriter, err error) {
	h.log.WithError(err).Debug("request failed")
	httputil.WriteErrors(w, http.StatusInternalServerError, err.Error())
}
