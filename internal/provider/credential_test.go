package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/model_provisioner/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityServer(t *testing.T, validToken string, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Header.Get("Authorization") != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestValidate(t *testing.T) {
	var calls atomic.Int32
	srv := identityServer(t, "good", &calls)

	endpoints := map[transfer.Kind]string{
		transfer.KindHub:      srv.URL + "/api/whoami-v2",
		transfer.KindRegistry: srv.URL + "/api/v1/models",
	}

	v := NewValidator(srv.Client(), map[transfer.Kind]string{
		transfer.KindHub:      "good",
		transfer.KindRegistry: "bad",
	}, endpoints)

	assert.True(t, v.Validate(context.Background(), transfer.KindHub))
	assert.False(t, v.Validate(context.Background(), transfer.KindRegistry))
	assert.False(t, v.Validate(context.Background(), transfer.KindGeneric))
	assert.Equal(t, int32(2), calls.Load())

	// cached for the run
	assert.True(t, v.Validate(context.Background(), transfer.KindHub))
	assert.Equal(t, int32(2), calls.Load())

	cred := v.Credential(transfer.KindHub)
	require.NotNil(t, cred)
	assert.True(t, cred.Valid)
}

func TestValidate_NoTokenMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := identityServer(t, "good", &calls)

	v := NewValidator(srv.Client(), map[transfer.Kind]string{transfer.KindHub: ""},
		map[transfer.Kind]string{transfer.KindHub: srv.URL})

	assert.False(t, v.Validate(context.Background(), transfer.KindHub))
	assert.Nil(t, v.Credential(transfer.KindHub))
	assert.Zero(t, calls.Load())

	assert.Empty(t, v.ValidateAll(context.Background()))
}

func TestValidate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	v := NewValidator(http.DefaultClient, map[transfer.Kind]string{transfer.KindRegistry: "tok"},
		map[transfer.Kind]string{transfer.KindRegistry: endpoint})

	assert.False(t, v.Validate(context.Background(), transfer.KindRegistry))
}

func TestValidate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	v := NewValidator(srv.Client(), map[transfer.Kind]string{transfer.KindHub: "tok"},
		map[transfer.Kind]string{transfer.KindHub: srv.URL})
	v.timeout = 50 * time.Millisecond

	start := time.Now()
	assert.False(t, v.Validate(context.Background(), transfer.KindHub))
	assert.Less(t, time.Since(start), time.Second)
}

func TestValidateAll(t *testing.T) {
	var calls atomic.Int32
	srv := identityServer(t, "good", &calls)

	v := NewValidator(srv.Client(), map[transfer.Kind]string{
		transfer.KindHub:      "good",
		transfer.KindRegistry: "bad",
		transfer.KindGeneric:  "ignored",
	}, map[transfer.Kind]string{
		transfer.KindHub:      srv.URL,
		transfer.KindRegistry: srv.URL,
	})

	got := v.ValidateAll(context.Background())

	assert.Equal(t, map[transfer.Kind]bool{transfer.KindHub: true, transfer.KindRegistry: false}, got)
}

func TestAuthHeader(t *testing.T) {
	v := NewValidator(http.DefaultClient, map[transfer.Kind]string{transfer.KindRegistry: "civ"}, nil)

	assert.Equal(t, "Bearer civ", v.AuthHeader(transfer.KindRegistry).Get("Authorization"))
	assert.Empty(t, v.AuthHeader(transfer.KindHub).Get("Authorization"))
	assert.Empty(t, v.AuthHeader(transfer.KindGeneric).Get("Authorization"))
}
