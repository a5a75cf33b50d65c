package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbview/orbview/internal/camera"
	"github.com/orbview/orbview/internal/lod"
	"github.com/orbview/orbview/internal/tle"
)

// Real TLEs (epoch Feb 2025).
const (
	issLine1 = "1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9993"
	issLine2 = "2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495058"
	hstLine1 = "1 20580U 90037B   25044.84964018  .00002770 +00000+0 +13137-3 0  9994"
	hstLine2 = "2 20580 028.4691 080.8946 0002421 111.3241 340.3314 15.15836985701578"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// freshElements rewrites a TLE's epoch to the current instant so tests that
// propagate at wall-clock time run near-epoch, where SGP4 is well conditioned.
func freshElements(line1 string) string {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	frac := float64(now.Sub(dayStart)) / float64(24*time.Hour)
	epoch := fmt.Sprintf("%02d%03d.%08d", now.Year()%100, now.YearDay(), int(frac*1e8))
	body := line1[:18] + epoch + line1[32:68]
	return body + tleChecksum(body)
}

// tleChecksum is the NORAD mod-10 line checksum: digits count their value,
// minus signs count one.
func tleChecksum(body string) string {
	sum := 0
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
			sum += int(r - '0')
		case r == '-':
			sum++
		}
	}
	return strconv.Itoa(sum % 10)
}

func testStore() *tle.Store {
	store := tle.NewStore()
	store.Set(tle.BuildCatalog("test", time.Now(), []tle.Satellite{
		{ID: "25544", NORADID: 25544, Name: "ISS (ZARYA)", Flagship: true, Line1: freshElements(issLine1), Line2: issLine2},
		{ID: "20580", NORADID: 20580, Name: "HST", Line1: freshElements(hstLine1), Line2: hstLine2},
	}))
	return store
}

func newTestSession(store *tle.Store) (*Session, *camera.MemoryEngine) {
	engine := camera.NewMemoryEngine(camera.Pose{Zoom: 2})
	sess := New(store, engine, Config{}, testLogger())
	return sess, engine
}

func TestNewAssignsID(t *testing.T) {
	a, _ := newTestSession(testStore())
	b, _ := newTestSession(testStore())
	defer a.Close()
	defer b.Close()

	assert.NotEqual(t, a.ID, b.ID, "sessions must have distinct IDs")
}

func TestSelectUnknownSatellite(t *testing.T) {
	sess, _ := newTestSession(testStore())
	defer sess.Close()

	require.Error(t, sess.Select("99999"))
	_, ok := sess.Selected()
	assert.False(t, ok)
}

func TestSelectWithoutCatalog(t *testing.T) {
	sess, _ := newTestSession(tle.NewStore())
	defer sess.Close()

	require.Error(t, sess.Select("25544"))
}

func TestSelectDeselect(t *testing.T) {
	sess, _ := newTestSession(testStore())
	defer sess.Close()

	require.NoError(t, sess.Select("25544"))

	id, ok := sess.Selected()
	require.True(t, ok)
	assert.Equal(t, "25544", id)

	trackedID, ok := sess.Tracker().TrackingID()
	require.True(t, ok)
	assert.Equal(t, "25544", trackedID)
	assert.True(t, sess.Camera().Tracking())

	sess.Deselect()
	_, ok = sess.Selected()
	assert.False(t, ok)
	_, ok = sess.Tracker().TrackingID()
	assert.False(t, ok)
	assert.False(t, sess.Camera().Tracking())

	// Idempotent.
	sess.Deselect()
}

func TestSelectExclusivity(t *testing.T) {
	sess, _ := newTestSession(testStore())
	defer sess.Close()

	require.NoError(t, sess.Select("25544"))
	require.NoError(t, sess.Select("20580"))

	id, ok := sess.Selected()
	require.True(t, ok)
	assert.Equal(t, "20580", id)

	trackedID, _ := sess.Tracker().TrackingID()
	assert.Equal(t, "20580", trackedID)
}

func TestSelectSameSatelliteNoOp(t *testing.T) {
	sess, _ := newTestSession(testStore())
	defer sess.Close()

	require.NoError(t, sess.Select("25544"))
	require.NoError(t, sess.Select("25544"))

	id, _ := sess.Selected()
	assert.Equal(t, "25544", id)
}

// TestSelectDrivesCamera verifies the tracker-to-camera wiring: after
// selection, frames move the view toward the satellite.
func TestSelectDrivesCamera(t *testing.T) {
	sess, engine := newTestSession(testStore())
	defer sess.Close()

	before := engine.Pose()
	require.NoError(t, sess.Select("25544"))

	// The fly-to animates toward the satellite; step frames until the pose
	// moves.
	deadline := time.Now().Add(3 * time.Second)
	for engine.Pose() == before && time.Now().Before(deadline) {
		sess.Frame(time.Now())
		time.Sleep(10 * time.Millisecond)
	}
	assert.NotEqual(t, before, engine.Pose(), "selection must start moving the view")
}

func TestPositionTrackedVsUntracked(t *testing.T) {
	sess, _ := newTestSession(testStore())
	defer sess.Close()

	// Untracked: batch path, full confidence.
	pos, conf, err := sess.Position(context.Background(), "20580")
	require.NoError(t, err)
	assert.Equal(t, 1.0, conf)
	assert.NotZero(t, pos.AltitudeKm)

	// Tracked: served by the predictive tracker.
	require.NoError(t, sess.Select("25544"))
	pos, conf, err = sess.Position(context.Background(), "25544")
	require.NoError(t, err)
	assert.Greater(t, conf, 0.5)
	assert.NotZero(t, pos.AltitudeKm)

	_, _, err = sess.Position(context.Background(), "99999")
	assert.Error(t, err)
}

func TestVisibleIncludesFlagshipAndTracked(t *testing.T) {
	sess, _ := newTestSession(testStore())
	defer sess.Close()
	require.NoError(t, sess.Select("20580"))

	// A viewport nowhere near either satellite: pinned entities still appear.
	vp := lod.Viewport{
		Zoom:   10,
		Bounds: lod.Bounds{West: 40, South: 40, East: 50, North: 50},
	}
	placements := sess.Visible(context.Background(), vp, lod.PerfFull, 100)

	var gotFlagship, gotTracked bool
	for _, p := range placements {
		if p.ID == "25544" && p.Flagship {
			gotFlagship = true
		}
		if p.ID == "20580" && p.Followed {
			gotTracked = true
		}
	}
	assert.True(t, gotFlagship, "flagship must be visible regardless of viewport")
	assert.True(t, gotTracked, "tracked satellite must be visible regardless of viewport")
}

func TestVisibleWithoutCatalog(t *testing.T) {
	sess, _ := newTestSession(tle.NewStore())
	defer sess.Close()

	assert.Nil(t, sess.Visible(context.Background(), lod.Viewport{Zoom: 5}, lod.PerfFull, 0))
}
