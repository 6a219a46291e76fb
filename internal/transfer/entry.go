package transfer

import (
	"context"
	"strings"

	"github.com/italolelis/model_provisioner/internal/logctx"
)

const (
	// EntrySeparator splits the source from the destination of an entry.
	EntrySeparator = "|"
	// ListSeparator splits entries inside an override value.
	ListSeparator = ";"

	commentPrefix = "#"
)

// Parse turns a raw "source|destination" entry into a Request.
func Parse(raw string, kind Kind) (Request, error) {
	entry := normalize(raw)

	source, destination, found := strings.Cut(entry, EntrySeparator)
	if !found {
		return Request{}, &ParseError{Entry: raw, Reason: "missing " + EntrySeparator + " separator"}
	}

	source = strings.TrimSpace(source)
	destination = strings.TrimSpace(destination)

	if source == "" || destination == "" {
		return Request{}, &ParseError{Entry: raw, Reason: "empty source or destination"}
	}

	req, err := NewRequest(source, destination, kind)
	if err != nil {
		return Request{}, &ParseError{Entry: raw, Reason: err.Error()}
	}

	return req, nil
}

// Merge appends the entries of a ";"-separated override value to the
// defaults. Blank and commented entries are dropped; duplicates are kept.
func Merge(defaults []string, override string) []string {
	result := make([]string, 0, len(defaults))

	for _, entry := range defaults {
		if entry = normalize(entry); keep(entry) {
			result = append(result, entry)
		}
	}

	if override == "" {
		return result
	}

	for _, entry := range strings.Split(override, ListSeparator) {
		if entry = normalize(entry); keep(entry) {
			result = append(result, entry)
		}
	}

	return result
}

// ParseAll parses every entry for a batch. Malformed entries are logged and
// skipped; the number skipped is returned alongside the valid requests.
func ParseAll(ctx context.Context, kind Kind, entries []string) ([]Request, int) {
	logger := logctx.LoggerFromContext(ctx)

	requests := make([]Request, 0, len(entries))
	skipped := 0

	for _, entry := range entries {
		req, err := Parse(entry, kind)
		if err != nil {
			logger.Warn("skipping invalid download entry", "kind", kind.String(), "entry", entry, "err", err)

			skipped++

			continue
		}

		requests = append(requests, req)
	}

	return requests, skipped
}

func normalize(entry string) string {
	return strings.Join(strings.Fields(entry), " ")
}

func keep(entry string) bool {
	return entry != "" && !strings.HasPrefix(entry, commentPrefix)
}
