package transfer

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/italolelis/model_provisioner/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{"", "novalueseparator", "|onlydest", "onlysource|", "   |   ", "|"} {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw, KindGeneric)

			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, raw, parseErr.Entry)
		})
	}
}

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
		want Request
	}{
		{
			name: "plain",
			raw:  "https://x/y|/tmp/out.bin",
			kind: KindGeneric,
			want: Request{SourceURL: "https://x/y", Destination: "/tmp/out.bin", Kind: KindGeneric},
		},
		{
			name: "surrounding whitespace",
			raw:  "  https://x/y  |  /tmp/models/  ",
			kind: KindRegistry,
			want: Request{SourceURL: "https://x/y", Destination: "/tmp/models/", Kind: KindRegistry},
		},
		{
			name: "splits on first separator only",
			raw:  "https://x/y|/tmp/a|b",
			kind: KindHub,
			want: Request{SourceURL: "https://x/y", Destination: "/tmp/a|b", Kind: KindHub},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw, tt.kind)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequest_IsDirectory(t *testing.T) {
	assert.True(t, Request{Destination: "/tmp/models/"}.IsDirectory())
	assert.False(t, Request{Destination: "/tmp/models/a.bin"}.IsDirectory())
}

func TestNewRequest_Validation(t *testing.T) {
	_, err := NewRequest("", "/tmp/a", KindGeneric)
	require.Error(t, err)

	_, err = NewRequest("https://x/y", "", KindGeneric)
	require.Error(t, err)

	_, err = NewRequest("https://x/y", "/tmp/a", Kind(42))
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	defaults := []string{
		"# https://commented/out|/tmp/skip",
		"",
		"   https://a/1   |   /tmp/1  ",
		"https://b/2|/tmp/2",
	}

	got := Merge(defaults, "https://c/3|/tmp/3; #https://d/4|/tmp/4 ;;  https://b/2|/tmp/2")

	want := []string{
		"https://a/1 | /tmp/1",
		"https://b/2|/tmp/2",
		"https://c/3|/tmp/3",
		"https://b/2|/tmp/2",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_EmptyOverride(t *testing.T) {
	got := Merge([]string{"https://a/1|/tmp/1"}, "")
	assert.Equal(t, []string{"https://a/1|/tmp/1"}, got)

	assert.Empty(t, Merge(nil, ""))
}

func TestParseAll_SkipsInvalid(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := logctx.WithLogger(context.Background(), logger)

	requests, skipped := ParseAll(ctx, KindGeneric, []string{
		"https://a/1|/tmp/1",
		"broken",
		"https://b/2|/tmp/2",
	})

	require.Len(t, requests, 2)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "https://b/2", requests[1].SourceURL)
	assert.Contains(t, buf.String(), "skipping invalid download entry")
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"hub": KindHub, "HF": KindHub, "civitai": KindRegistry, "wget": KindGeneric} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("ftp-ish")
	require.Error(t, err)
}
