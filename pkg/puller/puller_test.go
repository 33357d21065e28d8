package puller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports/portstest"
)

type fakeInstaller struct {
	mu        sync.Mutex
	active    map[string]string
	installed [][]byte
	err       error
}

func newFakeInstaller() *fakeInstaller {
	return &fakeInstaller{active: make(map[string]string)}
}

func (f *fakeInstaller) Install(_ context.Context, data []byte) (*models.VKPInstallation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.installed = append(f.installed, data)
	return &models.VKPInstallation{}, nil
}

func (f *fakeInstaller) ActiveVersion(subject string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[subject]
}

func (f *fakeInstaller) installCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.installed)
}

func TestRunOnce_InstallsHighestVersionPerSubject(t *testing.T) {
	remote := portstest.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, remote.Put(ctx, "curriculum/math-5/5/1.0.0.vkp", []byte("old")))
	require.NoError(t, remote.Put(ctx, "curriculum/math-5/5/1.2.0.vkp", []byte("new")))
	require.NoError(t, remote.Put(ctx, "curriculum/biology-7/7/0.9.0.vkp", []byte("bio")))
	// Junk keys are ignored.
	require.NoError(t, remote.Put(ctx, "curriculum/math-5/5/latest.vkp", []byte("junk")))
	require.NoError(t, remote.Put(ctx, "other/math-5/5/9.9.9.vkp", []byte("junk")))

	installer := newFakeInstaller()
	svc := New(remote, installer, time.Hour, "")
	svc.RunOnce(ctx)

	require.Equal(t, 2, installer.installCount())
	payloads := make(map[string]bool)
	for _, data := range installer.installed {
		payloads[string(data)] = true
	}
	assert.True(t, payloads["new"], "highest math version installed")
	assert.True(t, payloads["bio"])
	assert.False(t, payloads["old"], "superseded version skipped")

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Checks)
	assert.Equal(t, int64(2), stats.UpdatesApplied)
	assert.Zero(t, stats.Failures)
}

func TestRunOnce_SkipsWhenLocalIsCurrent(t *testing.T) {
	remote := portstest.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, remote.Put(ctx, "curriculum/math-5/5/1.2.0.vkp", []byte("pkg")))

	installer := newFakeInstaller()
	installer.active["math-5"] = "1.2.0"
	svc := New(remote, installer, time.Hour, "")
	svc.RunOnce(ctx)

	assert.Zero(t, installer.installCount())
	assert.Zero(t, svc.Stats().UpdatesApplied)
}

func TestRunOnce_UpgradesOlderLocal(t *testing.T) {
	remote := portstest.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, remote.Put(ctx, "curriculum/math-5/5/1.3.0.vkp", []byte("pkg")))

	installer := newFakeInstaller()
	installer.active["math-5"] = "1.2.9"
	svc := New(remote, installer, time.Hour, "")
	svc.RunOnce(ctx)

	assert.Equal(t, 1, installer.installCount())
}

func TestRunOnce_OfflineIsNoOp(t *testing.T) {
	remote := portstest.NewMemBlobStore()
	remote.ListErr = errors.New("network unreachable")

	installer := newFakeInstaller()
	svc := New(remote, installer, time.Hour, "")
	svc.RunOnce(context.Background())

	assert.Zero(t, installer.installCount())
	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Checks)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestRunOnce_InstallFailureCountedAndRetriedNextTick(t *testing.T) {
	remote := portstest.NewMemBlobStore()
	ctx := context.Background()
	require.NoError(t, remote.Put(ctx, "curriculum/math-5/5/1.0.0.vkp", []byte("pkg")))

	installer := newFakeInstaller()
	installer.err = errors.New("checksum_mismatch")
	svc := New(remote, installer, time.Hour, "")
	svc.RunOnce(ctx)
	require.Equal(t, int64(1), svc.Stats().Failures)

	// The failure clears; the next tick applies the update.
	installer.mu.Lock()
	installer.err = nil
	installer.mu.Unlock()
	svc.RunOnce(ctx)
	assert.Equal(t, 1, installer.installCount())
	assert.Equal(t, int64(1), svc.Stats().UpdatesApplied)
}

func TestStartStop(t *testing.T) {
	remote := portstest.NewMemBlobStore()
	svc := New(remote, newFakeInstaller(), 10*time.Millisecond, "")
	svc.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	svc.Stop()
	assert.GreaterOrEqual(t, svc.Stats().Checks, int64(1))
}
