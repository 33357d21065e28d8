// Package puller periodically discovers newer curriculum packages in the
// remote blob store and feeds them to the VKP manager.
package puller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

// DefaultRemotePrefix is the blob-store namespace holding published
// packages. Keys look like curriculum/<subject>/<grade>/<version>.vkp.
const DefaultRemotePrefix = "curriculum/"

const downloadRetryInterval = 2 * time.Second

// Installer is the slice of the VKP manager the puller drives.
type Installer interface {
	Install(ctx context.Context, data []byte) (*models.VKPInstallation, error)
	ActiveVersion(subjectID string) string
}

// Stats summarizes puller activity since process start.
type Stats struct {
	Checks         int64 `json:"checks"`
	UpdatesApplied int64 `json:"updates_applied"`
	Failures       int64 `json:"failures"`
}

// Service is the periodic pull job. Install failures are logged and left
// for the next tick; the tick rate is the backoff.
type Service struct {
	remote    ports.BlobStore
	installer Installer
	interval  time.Duration
	prefix    string

	checks   atomic.Int64
	updates  atomic.Int64
	failures atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds the service. interval is the tick period; an empty prefix
// falls back to DefaultRemotePrefix.
func New(remote ports.BlobStore, installer Installer, interval time.Duration, prefix string) *Service {
	if prefix == "" {
		prefix = DefaultRemotePrefix
	}
	return &Service{
		remote:    remote,
		installer: installer,
		interval:  interval,
		prefix:    prefix,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the tick loop. The first check runs after one interval.
func (s *Service) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("Curriculum puller started", "interval", s.interval)
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight tick.
func (s *Service) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Stats returns the summary counters.
func (s *Service) Stats() Stats {
	return Stats{
		Checks:         s.checks.Load(),
		UpdatesApplied: s.updates.Load(),
		Failures:       s.failures.Load(),
	}
}

// RunOnce performs one discovery pass. Exported for tests and for the
// operator-triggered pull.
func (s *Service) RunOnce(ctx context.Context) {
	s.checks.Add(1)

	objects, err := s.remote.List(ctx, s.prefix)
	if err != nil {
		// Offline or unreachable remote makes the tick a no-op.
		s.failures.Add(1)
		slog.Warn("Curriculum check skipped, remote unavailable", "error", err)
		return
	}

	for coord, version := range s.highestVersions(objects) {
		if !s.newerThanActive(coord.subject, version) {
			continue
		}
		if err := s.applyUpdate(ctx, coord, version); err != nil {
			s.failures.Add(1)
			slog.Error("Curriculum update failed",
				"subject", coord.subject, "grade", coord.grade,
				"version", version.Original(), "error", err)
			continue
		}
		s.updates.Add(1)
	}
}

type coordinate struct {
	subject string
	grade   string
}

// highestVersions reduces the remote listing to the highest semantic
// version per (subject, grade). Keys that do not parse are ignored.
func (s *Service) highestVersions(objects []ports.ObjectInfo) map[coordinate]*semver.Version {
	out := make(map[coordinate]*semver.Version)
	for _, obj := range objects {
		coord, v, ok := s.parseKey(obj.Key)
		if !ok {
			continue
		}
		if cur, exists := out[coord]; !exists || v.GreaterThan(cur) {
			out[coord] = v
		}
	}
	return out
}

func (s *Service) parseKey(key string) (coordinate, *semver.Version, bool) {
	rest, ok := strings.CutPrefix(key, s.prefix)
	if !ok {
		return coordinate{}, nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".vkp") {
		return coordinate{}, nil, false
	}
	v, err := semver.StrictNewVersion(strings.TrimSuffix(parts[2], ".vkp"))
	if err != nil {
		return coordinate{}, nil, false
	}
	return coordinate{subject: parts[0], grade: parts[1]}, v, true
}

func (s *Service) newerThanActive(subject string, remote *semver.Version) bool {
	active := s.installer.ActiveVersion(subject)
	if active == "" {
		return true
	}
	activeVersion, err := semver.StrictNewVersion(active)
	if err != nil {
		// Unparseable local state; let the install path decide.
		return true
	}
	return remote.GreaterThan(activeVersion)
}

func (s *Service) applyUpdate(ctx context.Context, coord coordinate, version *semver.Version) error {
	key := fmt.Sprintf("%s%s/%s/%s.vkp", s.prefix, coord.subject, coord.grade, version.Original())

	var data []byte
	download := func() error {
		var err error
		data, _, err = s.remote.Get(ctx, key)
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(downloadRetryInterval), 2), ctx)
	if err := backoff.Retry(download, policy); err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}

	if _, err := s.installer.Install(ctx, data); err != nil {
		return fmt.Errorf("installing %s: %w", key, err)
	}
	slog.Info("Curriculum updated",
		"subject", coord.subject, "grade", coord.grade, "version", version.Original())
	return nil
}
