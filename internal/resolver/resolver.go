// Package resolver decides whether a repository URL is importable, a
// duplicate of another catalog entry, or dead, by issuing a HEAD request and
// following redirects.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joescharf/osp/internal/failure"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
	DefaultUserAgent    = "OSProjects/1.0"
)

// Lookup finds the catalog entry that stores a given repository URL.
// It returns found=false (and a nil error) when no entry matches.
type Lookup interface {
	ProjectIDByRepoURL(ctx context.Context, repoURL string) (id string, found bool, err error)
}

// Result is the transient outcome of resolving one URL.
type Result struct {
	URL         string
	FinalURL    string
	Redirected  bool
	DuplicateOf string
	StatusCode  int
	Err         *failure.Error
}

// OK reports whether the URL can be used for a metadata fetch.
func (r Result) OK() bool { return r.Err == nil }

// Config holds resolver settings.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
}

// Resolver performs HEAD checks against repository URLs.
type Resolver struct {
	client    *http.Client
	userAgent string
	lookup    Lookup
}

// New creates a Resolver. lookup may be nil, in which case duplicate
// detection is skipped.
func New(cfg Config, lookup Lookup) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			req.Header.Set("User-Agent", cfg.UserAgent)
			return nil
		},
	}
	return &Resolver{client: client, userAgent: cfg.UserAgent, lookup: lookup}
}

// ValidURL reports whether raw is a well-formed absolute HTTP(S) URL.
func ValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Normalize strips a trailing ".git" suffix.
func Normalize(raw string) string {
	return strings.TrimSuffix(strings.TrimSpace(raw), ".git")
}

// Resolve checks rawURL. selfID is the catalog entry being refreshed and is
// never reported as its own duplicate; pass "" when importing a new URL, in
// which case the unredirected URL is checked for duplicates as well.
func (r *Resolver) Resolve(ctx context.Context, rawURL, selfID string) Result {
	res := Result{URL: rawURL, FinalURL: rawURL}

	if !ValidURL(rawURL) {
		res.Err = failure.New(failure.KindInvalidURL, "Invalid URL format")
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		res.Err = failure.Wrap(failure.KindInvalidURL, err, "Invalid URL format")
		return res
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		res.Err = failure.Wrap(failure.KindNetwork, err, "Network error: %s", networkReason(err))
		return res
	}
	_ = resp.Body.Close()
	res.StatusCode = resp.StatusCode

	if ferr := classifyStatus(resp.StatusCode); ferr != nil {
		res.Err = ferr
		return res
	}

	if resp.Request != nil && resp.Request.URL != nil {
		final := Normalize(resp.Request.URL.String())
		if final != Normalize(rawURL) {
			res.Redirected = true
			res.FinalURL = final
		}
	}

	if res.Redirected || selfID == "" {
		dupID, err := r.findDuplicate(ctx, res.FinalURL, selfID)
		if err != nil {
			res.Err = failure.Wrap(failure.KindInternal, err, "duplicate lookup: %v", err)
			return res
		}
		if dupID != "" {
			res.DuplicateOf = dupID
			res.Err = &failure.Error{
				Kind:        failure.KindDuplicateRepository,
				Message:     fmt.Sprintf("Redirects to existing project %s (%s)", dupID, res.FinalURL),
				DuplicateOf: dupID,
				StatusCode:  resp.StatusCode,
			}
			if !res.Redirected {
				res.Err.Message = fmt.Sprintf("Repository already cataloged as project %s", dupID)
			}
		}
	}

	return res
}

// classifyStatus maps every non-2xx final status onto a failure kind. A 3xx
// that was not followed (304, 300, or no Location) is treated as transient.
func classifyStatus(code int) *failure.Error {
	switch {
	case code >= 500:
		return &failure.Error{Kind: failure.KindServerError, StatusCode: code, Message: fmt.Sprintf("Server error (%d)", code)}
	case code == http.StatusNotFound:
		return &failure.Error{Kind: failure.KindClientError, StatusCode: code, Message: "Repository not found (404)"}
	case code == http.StatusForbidden:
		return &failure.Error{Kind: failure.KindClientError, StatusCode: code, Message: "Access forbidden (403)"}
	case code == http.StatusUnauthorized:
		return &failure.Error{Kind: failure.KindClientError, StatusCode: code, Message: "Unauthorized access (401)"}
	case code >= 400:
		return &failure.Error{Kind: failure.KindClientError, StatusCode: code, Message: fmt.Sprintf("Client error (%d)", code)}
	case code < 200 || code >= 300:
		return &failure.Error{Kind: failure.KindServerError, StatusCode: code, Message: fmt.Sprintf("Unexpected response (%d)", code)}
	}
	return nil
}

func (r *Resolver) findDuplicate(ctx context.Context, target, selfID string) (string, error) {
	if r.lookup == nil {
		return "", nil
	}
	for _, candidate := range []string{target, target + ".git"} {
		id, found, err := r.lookup.ProjectIDByRepoURL(ctx, candidate)
		if err != nil {
			return "", err
		}
		if found && id != selfID {
			return id, nil
		}
	}
	return "", nil
}

func networkReason(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}
