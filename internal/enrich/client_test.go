package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"qwen2.5-7b"}]}`))
	}))
	defer srv.Close()

	data, ok := New(srv.URL, time.Second).Fetch(context.Background())
	require.True(t, ok)
	assert.JSONEq(t, `{"data":[{"id":"qwen2.5-7b"}]}`, string(data))
}

func TestFetch_Disabled(t *testing.T) {
	c := New("", 0)
	assert.False(t, c.Enabled())
	_, ok := c.Fetch(context.Background())
	assert.False(t, ok)

	var nilClient *Client
	_, ok = nilClient.Fetch(context.Background())
	assert.False(t, ok)
}

func TestFetch_DegradesOnFailure(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			data, ok := New(srv.URL, time.Second).Fetch(context.Background())
			assert.False(t, ok)
			assert.Nil(t, data)
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, ok := New(srv.URL, 100*time.Millisecond).Fetch(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}
