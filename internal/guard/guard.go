// Package guard validates untrusted image input before any bytes reach the
// embedding pipeline: size ceilings, MIME and extension allow-lists for uploads,
// and scheme/host safety with SSRF defense for remote URLs.
package guard

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/config"
)

// Sentinel errors, one per rejection reason. The boundary layer maps each to a
// distinct response; none of them is ever retried automatically.
var (
	ErrOversized    = errors.New("file exceeds size limit")
	ErrBadType      = errors.New("unsupported content type")
	ErrBadExtension = errors.New("blocked file extension")
	ErrMalformedURL = errors.New("malformed url")
	ErrSSRFBlocked  = errors.New("url resolves to a blocked address")
	ErrFetchTimeout = errors.New("fetch timed out")
	ErrFetchFailed  = errors.New("fetch failed")
)

// Input is the tagged ingestion variant: either an Upload or a Remote URL.
type Input interface {
	isInput()
}

// Upload is image bytes received directly from the caller.
type Upload struct {
	Data         []byte
	Filename     string
	DeclaredMIME string
}

func (Upload) isInput() {}

// Remote is a URL the service fetches on the caller's behalf.
type Remote struct {
	URL string
}

func (Remote) isInput() {}

// Guard runs the ingestion checks. Safe for concurrent use.
type Guard struct {
	cfg         *config.GuardConfig
	client      *http.Client
	allowedMIME map[string]bool
	blockedExt  map[string]bool
	logger      *zap.Logger

	// allowLoopback disables the loopback address checks only. Tests set it to
	// fetch from httptest servers; every other blocked class stays blocked.
	allowLoopback bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets a logger for security events and fetch diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New creates a Guard with the given limits.
func New(cfg *config.GuardConfig, opts ...Option) *Guard {
	g := &Guard{
		cfg:         cfg,
		allowedMIME: make(map[string]bool, len(cfg.AllowedMIMETypes)),
		blockedExt:  make(map[string]bool, len(cfg.BlockedExtensions)),
		logger:      zap.NewNop(),
	}
	for _, m := range cfg.AllowedMIMETypes {
		g.allowedMIME[strings.ToLower(m)] = true
	}
	for _, e := range cfg.BlockedExtensions {
		g.blockedExt[strings.ToLower(e)] = true
	}
	g.client = g.newFetchClient()
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate runs every check for the given input and returns the raw image bytes
// on success. Each rejection carries its sentinel error; callers match with
// errors.Is.
func (g *Guard) Validate(ctx context.Context, in Input) ([]byte, error) {
	switch v := in.(type) {
	case Upload:
		return g.validateUpload(v)
	case *Upload:
		return g.validateUpload(*v)
	case Remote:
		return g.validateRemote(ctx, v.URL)
	case *Remote:
		return g.validateRemote(ctx, v.URL)
	default:
		return nil, fmt.Errorf("unsupported input type %T", in)
	}
}

// validateUpload checks size, filename, declared MIME, and sniffed content type.
// The declared and sniffed checks both run on every call; either one failing
// denies the upload, so MIME spoofing and extension spoofing each fail alone.
func (g *Guard) validateUpload(up Upload) ([]byte, error) {
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrBadType)
	}
	if max := g.cfg.MaxFileSizeBytes(); int64(len(up.Data)) > max {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrOversized, len(up.Data), max)
	}
	if err := g.checkFilename(up.Filename); err != nil {
		return nil, err
	}
	declaredOK := g.mimeAllowed(up.DeclaredMIME)
	sniffedOK := g.mimeAllowed(http.DetectContentType(up.Data))
	if !declaredOK {
		return nil, fmt.Errorf("%w: declared type %q", ErrBadType, up.DeclaredMIME)
	}
	if !sniffedOK {
		return nil, fmt.Errorf("%w: content does not match an allowed image format", ErrBadType)
	}
	return up.Data, nil
}

// checkFilename rejects blocked extensions and path traversal attempts.
func (g *Guard) checkFilename(name string) error {
	if name == "" {
		return nil
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: path separator in filename", ErrBadExtension)
	}
	lower := strings.ToLower(name)
	if i := strings.LastIndex(lower, "."); i >= 0 {
		if g.blockedExt[lower[i:]] {
			return fmt.Errorf("%w: %s", ErrBadExtension, lower[i:])
		}
	}
	return nil
}

// mimeAllowed reports whether the media type (parameters ignored) is on the
// allow-list.
func (g *Guard) mimeAllowed(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return g.allowedMIME[strings.ToLower(mediaType)]
}
