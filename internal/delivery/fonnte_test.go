package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "carebot/pkg/logx"
)

func TestSendWithoutTokenFails(t *testing.T) {
	f := NewFonnte(FonnteConfig{}, nil, logx.Nop())
	res := f.Send(context.Background(), "+6281", "hi")
	assert.False(t, res.Delivered)
	assert.Equal(t, ErrNotConfigured, res.Error)
}

func TestSendPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "6281234567890", r.PostForm.Get("target"))
		assert.Equal(t, "*HARIAN*\n\nhalo", r.PostForm.Get("message"))
		assert.Equal(t, "62", r.PostForm.Get("countryCode"))
		assert.Equal(t, "false", r.PostForm.Get("typing"))
		assert.Equal(t, "1-3", r.PostForm.Get("delay"))
		_, _ = w.Write([]byte(`{"status":true,"id":[80367170],"process":"pending"}`))
	}))
	defer srv.Close()

	typing := false
	f := NewFonnte(FonnteConfig{APIURL: srv.URL, Token: "tok", Typing: &typing, RatePerSec: 100}, srv.Client(), logx.Nop())
	res := f.Send(context.Background(), "+6281234567890", "*HARIAN*\n\nhalo")
	assert.Equal(t, Result{Delivered: true, ProviderID: "80367170"}, res)
}

func TestSendProviderRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false,"reason":"invalid token"}`))
	}))
	defer srv.Close()

	f := NewFonnte(FonnteConfig{APIURL: srv.URL, Token: "bad"}, srv.Client(), logx.Nop())
	res := f.Send(context.Background(), "6281", "hi")
	assert.False(t, res.Delivered)
	assert.Equal(t, "invalid token", res.Error)
}

func TestSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFonnte(FonnteConfig{APIURL: srv.URL, Token: "tok"}, srv.Client(), logx.Nop())
	res := f.Send(context.Background(), "6281", "hi")
	assert.False(t, res.Delivered)
	assert.Contains(t, res.Error, "gateway down")
}

func TestSendHonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFonnte(FonnteConfig{APIURL: srv.URL, Token: "tok"}, srv.Client(), logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res := f.Send(ctx, "6281", "hi")
	assert.False(t, res.Delivered)
	assert.NotEmpty(t, res.Error)
}
