package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "1.0.1", false},
		{"2.0.0", "2.0.0-rc1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "1.4.0", normalizeVersion(" v1.4.0 "))
	assert.Equal(t, "dev", normalizeVersion("dev"))
}

func setVersion(t *testing.T, v string) {
	t.Helper()
	old := Version
	Version = v
	t.Cleanup(func() { Version = old })
}

func TestVersionChecker_Check(t *testing.T) {
	setVersion(t, "v1.0.0")

	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v1.2.0","draft":false,"prerelease":false}`))
	}))
	defer ts.Close()

	vc := newVersionChecker(ts.URL, 0, time.Millisecond)
	require.True(t, vc.check(context.Background()))

	info := vc.Info()
	assert.Equal(t, "1.0.0", info.Current)
	assert.Equal(t, "1.2.0", info.Latest)
	assert.True(t, info.UpdateAvail)

	// Conditional request keeps the known release.
	require.True(t, vc.check(context.Background()))
	assert.Equal(t, "1.2.0", vc.Info().Latest)
	assert.Equal(t, int32(2), requests.Load())
}

func TestVersionChecker_IgnoresPrerelease(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v2.0.0-beta","prerelease":true}`))
	}))
	defer ts.Close()

	vc := newVersionChecker(ts.URL, 0, time.Millisecond)
	assert.True(t, vc.check(context.Background()))
	assert.Empty(t, vc.Info().Latest)
}

func TestVersionChecker_DevBuildNeverUpdates(t *testing.T) {
	setVersion(t, "dev")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v9.0.0"}`))
	}))
	defer ts.Close()

	vc := newVersionChecker(ts.URL, 0, time.Millisecond)
	require.True(t, vc.check(context.Background()))
	assert.Equal(t, "9.0.0", vc.Info().Latest)
	assert.False(t, vc.Info().UpdateAvail)
}

func TestVersionChecker_RetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) < versionMaxRetries {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"tag_name":"v1.5.0"}`))
	}))
	defer ts.Close()

	vc := newVersionChecker(ts.URL, 0, time.Millisecond)
	vc.checkWithRetry()

	assert.Equal(t, int32(versionMaxRetries), requests.Load())
	assert.Equal(t, "1.5.0", vc.Info().Latest)
}

func TestVersionChecker_RunAndStop(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v3.1.0"}`))
	}))
	defer ts.Close()

	vc := newVersionChecker(ts.URL, time.Millisecond, time.Millisecond)
	go vc.run()

	require.Eventually(t, func() bool {
		return vc.Info().Latest == "3.1.0"
	}, 5*time.Second, 10*time.Millisecond)

	vc.Stop()
}

func TestVersionChecker_StopBeforeFirstCheck(t *testing.T) {
	vc := newVersionChecker("http://127.0.0.1:0", time.Hour, time.Millisecond)
	go vc.run()

	done := make(chan struct{})
	go func() {
		vc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
