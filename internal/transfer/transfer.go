package transfer

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Kind selects the fetch strategy for a batch of requests.
type Kind int

const (
	KindHub Kind = iota
	KindRegistry
	KindGeneric
)

const (
	// TempSuffix marks a partially written body.
	TempSuffix = ".tmp"
	LockSuffix = ".lock"
)

// Kinds lists the provider categories in the order batches are run.
var Kinds = []Kind{KindHub, KindRegistry, KindGeneric}

func (k Kind) String() string {
	switch k {
	case KindHub:
		return "hub"
	case KindRegistry:
		return "registry"
	case KindGeneric:
		return "generic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Gated reports whether the provider may require a bearer token.
func (k Kind) Gated() bool {
	return k == KindHub || k == KindRegistry
}

// ParseKind maps the textual kind back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hub", "hf", "huggingface":
		return KindHub, nil
	case "registry", "civitai":
		return KindRegistry, nil
	case "generic", "wget", "":
		return KindGeneric, nil
	}

	return KindGeneric, fmt.Errorf("unknown provider kind: %q", s)
}

// Request is a single "source -> destination" download entry.
type Request struct {
	SourceURL   string
	Destination string
	Kind        Kind
}

// NewRequest validates the required fields of a request.
func NewRequest(sourceURL, destination string, kind Kind) (Request, error) {
	if sourceURL == "" {
		return Request{}, errors.New("source url is required")
	}

	if destination == "" {
		return Request{}, errors.New("destination is required")
	}

	if kind < KindHub || kind > KindGeneric {
		return Request{}, fmt.Errorf("invalid provider kind: %d", int(kind))
	}

	return Request{SourceURL: sourceURL, Destination: destination, Kind: kind}, nil
}

// IsDirectory reports whether the destination names a directory whose file
// name must be inferred.
func (r Request) IsDirectory() bool {
	return strings.HasSuffix(r.Destination, "/") || strings.HasSuffix(r.Destination, string(os.PathSeparator))
}

func (r Request) String() string {
	return r.SourceURL + EntrySeparator + r.Destination
}

// Plan is a resolved request ready to be fetched.
type Plan struct {
	Request   Request
	FetchURL  string
	FinalPath string
	LockPath  string
	Header    http.Header
}

// TempPath is where the body is streamed before being renamed into place.
func (p *Plan) TempPath() string {
	return p.FinalPath + TempSuffix
}

// LockPathFor returns the lock file guarding finalPath. It depends only on
// the final path, so every request writing the same file shares one lock.
func LockPathFor(finalPath string) string {
	return finalPath + LockSuffix
}

// Outcome is the result of one acquisition.
type Outcome struct {
	Request   Request
	Succeeded bool
	FinalPath string
	Attempts  int
	LastError string
	// Skipped is set when the destination already existed and nothing was fetched.
	Skipped  bool
	Bytes    int64
	Duration time.Duration
}

// Status is the ledger/metrics label for the outcome.
func (o *Outcome) Status() string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Succeeded:
		return "success"
	default:
		return "error"
	}
}

// BatchOutcome aggregates the outcomes of one provider batch.
type BatchOutcome struct {
	Kind      Kind
	Total     int
	Succeeded bool
	Failed    []Request
	Outcomes  []*Outcome
}

// SucceededCount returns the number of items that completed successfully.
func (b *BatchOutcome) SucceededCount() int {
	n := 0

	for _, o := range b.Outcomes {
		if o.Succeeded {
			n++
		}
	}

	return n
}
