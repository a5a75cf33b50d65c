package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbview/orbview/internal/auth"
	"github.com/orbview/orbview/internal/camera"
	"github.com/orbview/orbview/internal/session"
	"github.com/orbview/orbview/internal/stream"
	"github.com/orbview/orbview/internal/tle"
)

// Real TLEs (epoch Feb 2025); the epoch is rewritten to test time so
// wall-clock propagation stays near-epoch.
const (
	issLine1 = "1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9993"
	issLine2 = "2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495058"
	hstLine1 = "1 20580U 90037B   25044.84964018  .00002770 +00000+0 +13137-3 0  9994"
	hstLine2 = "2 20580 028.4691 080.8946 0002421 111.3241 340.3314 15.15836985701578"
)

func freshElements(line1 string) string {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	frac := float64(now.Sub(dayStart)) / float64(24*time.Hour)
	epoch := fmt.Sprintf("%02d%03d.%08d", now.Year()%100, now.YearDay(), int(frac*1e8))
	body := line1[:18] + epoch + line1[32:68]

	sum := 0
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
			sum += int(r - '0')
		case r == '-':
			sum++
		}
	}
	return body + strconv.Itoa(sum%10)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func populatedStore() *tle.Store {
	store := tle.NewStore()
	store.Set(tle.BuildCatalog("test", time.Now(), []tle.Satellite{
		{ID: "25544", NORADID: 25544, Name: "ISS (ZARYA)", Flagship: true, Line1: freshElements(issLine1), Line2: issLine2},
		{ID: "20580", NORADID: 20580, Name: "HST", Line1: freshElements(hstLine1), Line2: hstLine2},
	}))
	return store
}

func newTestServer(t *testing.T, store *tle.Store, authCfg auth.Config) *httptest.Server {
	t.Helper()
	sess := session.New(store, camera.NewMemoryEngine(camera.Pose{Zoom: 2}), session.Config{}, testLogger())
	t.Cleanup(sess.Close)

	srv := NewServer(":0", sess, store, stream.Config{}, authCfg, testLogger())
	ts := httptest.NewServer(srv.HTTPServer().Handler)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, tle.NewStore(), auth.Config{})
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", nil))
}

func TestReadyzRequiresCatalog(t *testing.T) {
	store := tle.NewStore()
	ts := newTestServer(t, store, auth.Config{})

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	store.Set(tle.BuildCatalog("test", time.Now(), nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/readyz", nil))
}

func TestCatalogMetadata(t *testing.T) {
	ts := newTestServer(t, populatedStore(), auth.Config{})

	var body struct {
		Source string `json:"source"`
		Count  int    `json:"count"`
	}
	status := getJSON(t, ts.URL+"/api/v1/catalog/metadata", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "test", body.Source)
	assert.Equal(t, 2, body.Count)
}

func TestCatalogMetadataUnavailable(t *testing.T) {
	ts := newTestServer(t, tle.NewStore(), auth.Config{})
	resp, err := http.Get(ts.URL + "/api/v1/catalog/metadata")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSatellitesDefaultViewport(t *testing.T) {
	ts := newTestServer(t, populatedStore(), auth.Config{})

	var body struct {
		Count      int `json:"count"`
		Satellites []struct {
			ID    string  `json:"id"`
			Lon   float64 `json:"longitude"`
			Lat   float64 `json:"latitude"`
			Level string  `json:"level"`
		} `json:"satellites"`
	}
	status := getJSON(t, ts.URL+"/api/v1/satellites", &body)
	require.Equal(t, http.StatusOK, status)

	// The flagship ISS always survives filtering.
	var found bool
	for _, s := range body.Satellites {
		if s.ID == "25544" {
			found = true
			assert.GreaterOrEqual(t, s.Lat, -90.0)
			assert.LessOrEqual(t, s.Lat, 90.0)
			assert.Greater(t, s.Lon, -180.0)
			assert.LessOrEqual(t, s.Lon, 180.0)
		}
	}
	assert.True(t, found, "flagship must appear in the default viewport")
}

func TestSatellitesBadParams(t *testing.T) {
	ts := newTestServer(t, populatedStore(), auth.Config{})

	for _, q := range []string{
		"west=abc",
		"zoom=none",
		"max=0",
		"max=99999",
		"max=x",
		"perf=turbo",
	} {
		resp, err := http.Get(ts.URL + "/api/v1/satellites?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", q)
	}
}

func TestPositionEndpoint(t *testing.T) {
	ts := newTestServer(t, populatedStore(), auth.Config{})

	var body struct {
		ID         string  `json:"id"`
		Confidence float64 `json:"confidence"`
		Position   struct {
			AltitudeKm float64 `json:"altitude_km"`
		} `json:"position"`
	}
	status := getJSON(t, ts.URL+"/api/v1/satellites/20580/position", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "20580", body.ID)
	assert.Equal(t, 1.0, body.Confidence)
	assert.Greater(t, body.Position.AltitudeKm, 100.0)

	resp, err := http.Get(ts.URL + "/api/v1/satellites/99999/position")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrackLifecycle(t *testing.T) {
	ts := newTestServer(t, populatedStore(), auth.Config{})

	// Nothing tracked initially.
	var status struct {
		Tracking bool   `json:"tracking"`
		ID       string `json:"id"`
	}
	getJSON(t, ts.URL+"/api/v1/track", &status)
	assert.False(t, status.Tracking)

	// Start tracking.
	resp, err := http.Post(ts.URL+"/api/v1/track/25544", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getJSON(t, ts.URL+"/api/v1/track", &status)
	assert.True(t, status.Tracking)
	assert.Equal(t, "25544", status.ID)

	// Unknown satellite is rejected.
	resp, err = http.Post(ts.URL+"/api/v1/track/99999", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Stop tracking.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/track", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getJSON(t, ts.URL+"/api/v1/track", &status)
	assert.False(t, status.Tracking)
}

func TestPassesEndpointValidation(t *testing.T) {
	ts := newTestServer(t, populatedStore(), auth.Config{})

	for _, tc := range []struct {
		query string
		want  int
	}{
		{"", http.StatusBadRequest},              // lat/lon missing
		{"lat=91&lon=0", http.StatusBadRequest},  // lat out of range
		{"lat=0&lon=181", http.StatusBadRequest}, // lon out of range
		{"lat=40&lon=-74&hours=100", http.StatusBadRequest},
		{"lat=40&lon=-74&min_elevation=95", http.StatusBadRequest},
	} {
		resp, err := http.Get(ts.URL + "/api/v1/satellites/25544/passes?" + tc.query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, "query %q", tc.query)
	}

	resp, err := http.Get(ts.URL + "/api/v1/satellites/99999/passes?lat=40&lon=-74")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPassesEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("pass prediction sweeps hours of orbit")
	}
	ts := newTestServer(t, populatedStore(), auth.Config{})

	var body struct {
		SatelliteID string `json:"satellite_id"`
		Passes      []struct {
			MaxElevation float64 `json:"max_elevation"`
		} `json:"passes"`
	}
	status := getJSON(t, ts.URL+"/api/v1/satellites/25544/passes?lat=40.7&lon=-74&hours=12", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "25544", body.SatelliteID)
	for _, p := range body.Passes {
		assert.GreaterOrEqual(t, p.MaxElevation, 10.0)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t, populatedStore(), auth.Config{Enabled: true, Token: "secret"})

	// Exempt paths stay open.
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/catalog/metadata", nil))

	// Protected path without a token.
	resp, err := http.Post(ts.URL+"/api/v1/track/25544", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// With the right bearer token.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/track/25544", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// With a wrong token.
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
