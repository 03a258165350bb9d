package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T, pendingPolls int32) *httptest.Server {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-1",
		"scope": "openid",
	}).SignedString([]byte("0123456789abcdef0123"))
	require.NoError(t, err)

	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/device_authorize", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tv", r.PostForm.Get("client_id"))
		assert.Equal(t, "openid", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":               "dev-1",
			"user_code":                 "BCDF-GHJK",
			"verification_uri":          "http://localhost/device",
			"verification_uri_complete": "http://localhost/device?user_code=BCDF-GHJK",
			"expires_in":                600,
			"interval":                  0,
		})
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("grant_type") {
		case "urn:ietf:params:oauth:grant-type:device_code":
			assert.Equal(t, "dev-1", r.PostForm.Get("device_code"))
			if polls.Add(1) <= pendingPolls {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
				return
			}
		case "authorization_code":
			if r.PostForm.Get("code") != "good" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code is not valid"}`))
				return
			}
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": signed,
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "openid",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Device(t *testing.T) {
	srv := fakeServer(t, 0)

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"device",
		"-server", srv.URL + "/oauth2",
		"-client-id", "tv",
		"-scope", "openid",
	}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "enter code BCDF-GHJK")
	assert.Contains(t, out.String(), "scope: openid")
	assert.Contains(t, out.String(), `"sub": "user-1"`)
}

func TestRun_Exchange(t *testing.T) {
	srv := fakeServer(t, 0)

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"exchange",
		"-server", srv.URL + "/oauth2",
		"-client-id", "web",
		"-client-secret", "secret",
		"-code", "good",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "access_token: ")

	err = run(context.Background(), []string{
		"exchange",
		"-server", srv.URL + "/oauth2",
		"-client-id", "web",
		"-code", "bad",
	}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestRun_Authorize(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"authorize",
		"-server", "https://auth.example.com/oauth2",
		"-client-id", "web",
		"-redirect-uri", "https://app.example.com/cb",
		"-scope", "openid profile",
		"-state", "xyz",
	}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "https://auth.example.com/oauth2/authorize?")
	assert.Contains(t, out.String(), "client_id=web")
	assert.Contains(t, out.String(), "state=xyz")
	assert.Contains(t, out.String(), "response_type=code")
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), nil, &out))
	assert.Error(t, run(context.Background(), []string{"device"}, &out))
	assert.Error(t, run(context.Background(), []string{"bogus", "-client-id", "x"}, &out))
}
