package rotation

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, statePath string) (*Manager, []*miniredis.Miniredis) {
	t.Helper()

	endpoints := make([]string, 0, 3)
	servers := make([]*miniredis.Miniredis, 0, 3)
	for i := 0; i < 3; i++ {
		mr := miniredis.RunT(t)
		servers = append(servers, mr)
		endpoints = append(endpoints, "redis://"+mr.Addr())
	}

	mgr, err := NewManager(&ManagerConfig{
		Endpoints:   endpoints,
		StatePath:   statePath,
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr, servers
}

func TestManager_StartsAtPersistedIndex(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "rotation.json")

	require.NoError(t, SaveState(statePath, &State{
		CurrentIndex:   2,
		TotalEndpoints: 3,
		LastUpdate:     time.Now().UTC(),
	}))

	mgr, _ := newTestManager(t, statePath)
	assert.Equal(t, 2, mgr.Info().CurrentIndex)
}

func TestManager_StaleStateDiscarded(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "rotation.json")

	// Persisted for a different endpoint count
	require.NoError(t, SaveState(statePath, &State{
		CurrentIndex:   1,
		TotalEndpoints: 5,
	}))

	mgr, _ := newTestManager(t, statePath)
	assert.Equal(t, 0, mgr.Info().CurrentIndex)
}

func TestManager_RotatesAfterFailureThreshold(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "rotation.json")
	mgr, _ := newTestManager(t, statePath)

	cause := errors.New("connection refused")
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		mgr.ReportFailure(cause)
		assert.Equal(t, 0, mgr.Info().CurrentIndex, "must not rotate before the threshold")
	}

	mgr.ReportFailure(cause)
	info := mgr.Info()
	assert.Equal(t, 1, info.CurrentIndex)
	assert.Equal(t, 0, info.Failures, "rotation resets the failure counter")
	assert.EqualValues(t, 1, info.Rotations)

	// The new position is persisted for the next process
	state := LoadState(statePath, 3)
	assert.Equal(t, 1, state.CurrentIndex)
}

func TestManager_SuccessResetsFailureCounter(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "rotation.json")
	mgr, _ := newTestManager(t, statePath)

	cause := errors.New("timeout")
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		mgr.ReportFailure(cause)
	}
	mgr.ReportSuccess()
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		mgr.ReportFailure(cause)
	}

	assert.Equal(t, 0, mgr.Info().CurrentIndex, "interleaved successes must prevent rotation")
}

func TestManager_QuotaSignatureRotatesImmediately(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "rotation.json")
	mgr, _ := newTestManager(t, statePath)

	mgr.ReportFailure(errors.New("ERR max requests limit exceeded for this database"))
	assert.Equal(t, 1, mgr.Info().CurrentIndex)
}

func TestManager_RotationWrapsAround(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "rotation.json")
	mgr, _ := newTestManager(t, statePath)

	mgr.Rotate()
	mgr.Rotate()
	mgr.Rotate()
	assert.Equal(t, 0, mgr.Info().CurrentIndex)
}

func TestManager_SingleEndpointNeverRotates(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := NewManager(&ManagerConfig{
		Endpoints:   []string{"redis://" + mr.Addr()},
		StatePath:   filepath.Join(t.TempDir(), "rotation.json"),
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	defer mgr.Close()

	for i := 0; i < DefaultFailureThreshold*2; i++ {
		mgr.ReportFailure(errors.New("connection refused"))
	}
	assert.Equal(t, 0, mgr.Info().CurrentIndex)
	assert.EqualValues(t, 0, mgr.Info().Rotations)
}

func TestManager_NoEndpoints(t *testing.T) {
	_, err := NewManager(&ManagerConfig{})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestManager_ActiveClientFollowsRotation(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "rotation.json")
	mgr, servers := newTestManager(t, statePath)

	before := mgr.Redis()
	require.NotNil(t, before)

	mgr.Rotate()
	after := mgr.Redis()
	require.NotNil(t, after)
	assert.NotSame(t, before, after)

	// The new client talks to the second endpoint
	require.NoError(t, after.Set(t.Context(), "marker", "1", 0).Err())
	got, err := servers[1].Get("marker")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestManager_UnreachableEndpointStillServesClient(t *testing.T) {
	mgr, err := NewManager(&ManagerConfig{
		Endpoints:   []string{"redis://127.0.0.1:1"},
		StatePath:   filepath.Join(t.TempDir(), "rotation.json"),
		DialTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err, "a dead endpoint at startup is not fatal")
	defer mgr.Close()

	// Operations error instead of panicking on a nil client
	client := mgr.Redis()
	require.NotNil(t, client)
	assert.Error(t, client.Ping(t.Context()).Err())
	assert.Equal(t, 1, mgr.Info().Failures, "the failed connect counts toward the threshold")
}

func TestManager_RecoversWhenFirstEndpointUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := NewManager(&ManagerConfig{
		Endpoints:   []string{"redis://127.0.0.1:1", "redis://" + mr.Addr()},
		StatePath:   filepath.Join(t.TempDir(), "rotation.json"),
		DialTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer mgr.Close()

	cause := errors.New("connection refused")
	for i := 0; i < DefaultFailureThreshold; i++ {
		mgr.ReportFailure(cause)
	}

	assert.Equal(t, 1, mgr.Info().CurrentIndex)
	require.NoError(t, mgr.Redis().Ping(t.Context()).Err())
}

func TestManager_RotationThroughUnreachableEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := NewManager(&ManagerConfig{
		Endpoints:   []string{"redis://" + mr.Addr(), "redis://127.0.0.1:1"},
		StatePath:   filepath.Join(t.TempDir(), "rotation.json"),
		DialTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer mgr.Close()

	// Rotating onto a dead endpoint yields a client whose errors keep
	// feeding the counter until rotation moves on again
	mgr.Rotate()
	require.NotNil(t, mgr.Redis())
	assert.Error(t, mgr.Redis().Ping(t.Context()).Err())

	cause := errors.New("connection refused")
	for i := 0; i < DefaultFailureThreshold; i++ {
		mgr.ReportFailure(cause)
	}
	assert.Equal(t, 0, mgr.Info().CurrentIndex)
	require.NoError(t, mgr.Redis().Ping(t.Context()).Err())
}

func TestLoadState_MissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()

	state := LoadState(filepath.Join(dir, "missing.json"), 3)
	assert.Equal(t, 0, state.CurrentIndex)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, SaveState(corrupt, &State{CurrentIndex: 1, TotalEndpoints: 3}))
	// Out-of-range index is discarded
	require.NoError(t, SaveState(corrupt, &State{CurrentIndex: 9, TotalEndpoints: 3}))
	state = LoadState(corrupt, 3)
	assert.Equal(t, 0, state.CurrentIndex)
}
