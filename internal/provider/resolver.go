package provider

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/italolelis/model_provisioner/internal/transfer"
)

// HeadTimeout bounds the request used to discover a server-side file name.
const HeadTimeout = 30 * time.Second

var (
	// <scheme>://<host>/<owner>/<repo>/resolve/<ref>/<path>
	hubURLPattern = regexp.MustCompile(`^https?://[^/]+/([^/]+)/([^/]+)/resolve/([^/]+)/(.+)$`)

	dispositionFilename = regexp.MustCompile(`filename="?([^";\n]+)"?`)
)

// HeaderSource supplies the auth headers for a provider kind.
type HeaderSource interface {
	AuthHeader(kind transfer.Kind) http.Header
}

// HubFile is the parsed form of a hub resolve URL.
type HubFile struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
}

// RepoID returns "<owner>/<repo>".
func (f HubFile) RepoID() string {
	return f.Owner + "/" + f.Repo
}

// ParseHubURL splits a hub resolve URL into its parts.
func ParseHubURL(raw string) (HubFile, error) {
	m := hubURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return HubFile{}, &transfer.ResolutionError{
			URL:    raw,
			Reason: "expected <host>/<owner>/<repo>/resolve/<ref>/<path>",
		}
	}

	filePath, _, _ := strings.Cut(m[4], "?")

	return HubFile{Owner: m[1], Repo: m[2], Ref: m[3], Path: filePath}, nil
}

// Resolver turns requests into fetch plans.
type Resolver struct {
	client      *http.Client
	auth        HeaderSource
	headTimeout time.Duration
}

func NewResolver(client *http.Client, auth HeaderSource) *Resolver {
	return &Resolver{
		client:      client,
		auth:        auth,
		headTimeout: HeadTimeout,
	}
}

// Resolve computes the final path, lock file and headers for a request.
// A *transfer.ResolutionError is terminal for the request.
func (r *Resolver) Resolve(ctx context.Context, req transfer.Request) (*transfer.Plan, error) {
	if err := checkScheme(req.SourceURL); err != nil {
		return nil, err
	}

	header := r.header(req.Kind)

	var (
		finalPath string
		err       error
	)

	switch req.Kind {
	case transfer.KindHub:
		finalPath, err = r.resolveHub(req)
	default:
		finalPath, err = r.resolveURL(ctx, req, header)
	}

	if err != nil {
		return nil, err
	}

	return &transfer.Plan{
		Request:   req,
		FetchURL:  req.SourceURL,
		FinalPath: finalPath,
		LockPath:  transfer.LockPathFor(finalPath),
		Header:    header,
	}, nil
}

func (r *Resolver) header(kind transfer.Kind) http.Header {
	if r.auth == nil || !kind.Gated() {
		return make(http.Header)
	}

	return r.auth.AuthHeader(kind)
}

func (r *Resolver) resolveHub(req transfer.Request) (string, error) {
	file, err := ParseHubURL(req.SourceURL)
	if err != nil {
		return "", err
	}

	if !req.IsDirectory() {
		return absPath(req.SourceURL, req.Destination)
	}

	return absPath(req.SourceURL, filepath.Join(req.Destination, path.Base(file.Path)))
}

func (r *Resolver) resolveURL(ctx context.Context, req transfer.Request, header http.Header) (string, error) {
	if !req.IsDirectory() {
		return absPath(req.SourceURL, req.Destination)
	}

	logger := logctx.LoggerFromContext(ctx)

	name, err := r.remoteFilename(ctx, req.SourceURL, header)
	if err != nil {
		logger.Debug("content-disposition lookup failed", "url", req.SourceURL, "err", err)
	}

	if name == "" {
		name = URLFilename(req.SourceURL)
	}

	if name == "" {
		return "", &transfer.ResolutionError{URL: req.SourceURL, Reason: "cannot infer a file name for directory destination"}
	}

	logger.Debug("resolved file name", "url", req.SourceURL, "file_name", name)

	return absPath(req.SourceURL, filepath.Join(req.Destination, name))
}

func (r *Resolver) remoteFilename(ctx context.Context, rawURL string, header http.Header) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = header.Clone()

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	resp.Body.Close()

	return FilenameFromContentDisposition(resp.Header.Get("Content-Disposition")), nil
}

// FilenameFromContentDisposition extracts a safe file name from a
// Content-Disposition value, or "" if there is none.
func FilenameFromContentDisposition(value string) string {
	if value == "" {
		return ""
	}

	var name string

	if _, params, err := mime.ParseMediaType(value); err == nil {
		name = params["filename"]
	}

	if name == "" {
		if m := dispositionFilename.FindStringSubmatch(value); m != nil {
			name = m[1]
		}
	}

	return sanitizeFilename(name)
}

// URLFilename returns the last path segment of a URL without its query.
func URLFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		base, _, _ := strings.Cut(rawURL[strings.LastIndex(rawURL, "/")+1:], "?")

		return sanitizeFilename(base)
	}

	return sanitizeFilename(path.Base(u.Path))
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." || name == "/" || strings.ContainsAny(name, `/\`) {
		return ""
	}

	return name
}

func checkScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &transfer.ResolutionError{URL: rawURL, Reason: "invalid url", Err: err}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return &transfer.ResolutionError{URL: rawURL, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	if u.Host == "" {
		return &transfer.ResolutionError{URL: rawURL, Reason: "missing host"}
	}

	return nil
}

func absPath(source, p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", &transfer.ResolutionError{URL: source, Reason: "invalid destination path", Err: err}
	}

	return abs, nil
}
