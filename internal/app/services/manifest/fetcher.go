// Package manifest fetches and validates owner-hosted app manifests.
package manifest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/farstore/registry-sync/internal/app/domain/registry"
	svcerrors "github.com/farstore/registry-sync/internal/errors"
	"github.com/farstore/registry-sync/internal/httputil"
	"github.com/farstore/registry-sync/pkg/logger"
)

// DefaultURLTemplate is the well-known manifest location under a domain.
const DefaultURLTemplate = "https://%s/.well-known/farcaster.json"

// Config configures a Fetcher.
type Config struct {
	// URLTemplate receives the lowercased domain through a single %s verb.
	URLTemplate  string
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

// Fetcher issues one GET per call and never retries.
type Fetcher struct {
	client      *httputil.Client
	urlTemplate string
	timeout     time.Duration
	log         *logger.Logger
}

// NewFetcher builds a fetcher from cfg.
func NewFetcher(cfg Config, log *logger.Logger) *Fetcher {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("manifest-fetcher")
	}
	return &Fetcher{
		client: httputil.NewClient(httputil.ClientConfig{
			Timeout:      cfg.Timeout,
			UserAgent:    cfg.UserAgent,
			MaxBodyBytes: cfg.MaxBodyBytes,
		}),
		urlTemplate: cfg.URLTemplate,
		timeout:     cfg.Timeout,
		log:         log,
	}
}

// URL returns the manifest location for domain.
func (f *Fetcher) URL(domain string) string {
	return fmt.Sprintf(f.urlTemplate, registry.NormalizeDomain(domain))
}

// Fetch retrieves the manifest for domain and returns its frame object.
// Every failure is a ManifestFetchFailed error tagged with the failing stage.
func (f *Fetcher) Fetch(ctx context.Context, domain string) (registry.Manifest, error) {
	domain = registry.NormalizeDomain(domain)
	if domain == "" {
		return registry.Manifest{}, svcerrors.ManifestFetchFailed(domain, svcerrors.StageValidate, fmt.Errorf("empty domain"))
	}
	if !registry.ValidDomain(domain) {
		return registry.Manifest{}, svcerrors.ManifestFetchFailed(domain, svcerrors.StageValidate, fmt.Errorf("not a hostname"))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.client.Get(ctx, f.URL(domain))
	if err != nil {
		return registry.Manifest{}, svcerrors.ManifestFetchFailed(domain, svcerrors.StageTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return registry.Manifest{}, svcerrors.ManifestFetchFailed(domain, svcerrors.StageStatus,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	m, stage, err := Parse(resp.Body)
	if err != nil {
		return registry.Manifest{}, svcerrors.ManifestFetchFailed(domain, stage, err)
	}
	return m, nil
}

// Parse validates a manifest document and extracts its frame object. On
// failure it reports whether the body was not JSON (parse) or lacked the
// required fields (validate).
func Parse(body []byte) (registry.Manifest, string, error) {
	if !gjson.ValidBytes(body) {
		return registry.Manifest{}, svcerrors.StageParse, fmt.Errorf("body is not valid JSON")
	}

	frame := gjson.GetBytes(body, "frame")
	if !frame.IsObject() {
		return registry.Manifest{}, svcerrors.StageValidate, fmt.Errorf("frame object missing")
	}
	name := frame.Get("name")
	if name.Type != gjson.String || strings.TrimSpace(name.Str) == "" {
		return registry.Manifest{}, svcerrors.StageValidate, fmt.Errorf("frame.name missing")
	}

	return registry.Manifest{
		Name: name.Str,
		Raw:  []byte(frame.Raw),
	}, "", nil
}
