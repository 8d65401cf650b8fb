package names

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var localPattern = regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{1,4}$`)

func TestLocal(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.Regexp(t, localPattern, Local())
	}
}

func TestNext_UsesService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-name", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Gandalf"}`))
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, time.Second, nil)
	assert.Equal(t, "Gandalf", g.Next(context.Background(), nil))
}

func TestNext_FallsBackOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, time.Second, nil)
	assert.Regexp(t, localPattern, g.Next(context.Background(), nil))
}

func TestNext_FallsBackOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g := NewGenerator(srv.URL, 50*time.Millisecond, nil)
	start := time.Now()
	name := g.Next(context.Background(), nil)
	assert.Regexp(t, localPattern, name)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNext_FallsBackWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewGenerator(url, 200*time.Millisecond, nil)
	assert.Regexp(t, localPattern, g.Next(context.Background(), nil))
}

func TestNext_RetriesUntilUnique(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"name":"Dup"}`))
			return
		}
		_, _ = w.Write([]byte(`{"name":"Fresh"}`))
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, time.Second, nil)
	name := g.Next(context.Background(), func(n string) bool { return n == "Dup" })
	assert.Equal(t, "Fresh", name)
}

func TestNext_SuffixWhenEverythingCollides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Same"}`))
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, time.Second, nil)
	name := g.Next(context.Background(), func(n string) bool { return n == "Same" || n == "Same_2" })
	assert.Equal(t, "Same_3", name)
}

func TestNext_NoServiceConfigured(t *testing.T) {
	g := NewGenerator("", 0, nil)
	assert.Regexp(t, localPattern, g.Next(context.Background(), nil))
}
