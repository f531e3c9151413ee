package commands

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/itlackey/openpalm/pkg/openpalm/control/render"
	"github.com/itlackey/openpalm/pkg/openpalm/control/runtime"
	"github.com/itlackey/openpalm/pkg/openpalm/control/snapshot"
	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
	"github.com/itlackey/openpalm/pkg/openpalm/paths"
)

// fileSpecStore adapts control/spec's file-based Load/Save to
// channelmgr.SpecStore and admin.SpecReader.
type fileSpecStore struct{ path string }

func (s fileSpecStore) Load() (spec.StackSpec, error) { return spec.Load(s.path) }
func (s fileSpecStore) Save(v spec.StackSpec) error   { return spec.Save(s.path, v) }

// artifactStager renders a StackSpec and stages it into the live artifact
// directory via the snapshot/atomic-swap pipeline, satisfying
// channelmgr.Stager.
type artifactStager struct{}

func (artifactStager) Stage(ctx context.Context, s spec.StackSpec) error {
	result, err := render.Render(s, time.Now())
	if err != nil {
		return err
	}

	pending := paths.ArtifactsPendingDir()
	if err := os.RemoveAll(pending); err != nil {
		return err
	}
	if err := os.MkdirAll(pending, 0o755); err != nil {
		return err
	}

	artifacts := append([]render.Artifact{result.ComposeFile, result.ProxyConfig, result.Manifest}, result.PerServiceEnv...)
	for _, a := range artifacts {
		if err := os.WriteFile(filepath.Join(pending, a.Name), a.Bytes, 0o644); err != nil {
			return err
		}
	}

	// Dry-run the pending compose file before anything touches live state.
	validate := func() error {
		return runtime.New(filepath.Join(pending, "docker-compose.yml"), pending).Validate(ctx)
	}

	dirs := []snapshot.Dir{{Live: paths.ArtifactsDir(), Pending: pending}}
	return snapshot.Apply(paths.StateHome(), dirs, validate, time.Now())
}

// fileArtifactsReader serves the already-staged live artifact bundle for
// the admin API's read-only artifact endpoints.
type fileArtifactsReader struct{}

func (fileArtifactsReader) Manifest() ([]byte, error) {
	return os.ReadFile(filepath.Join(paths.ArtifactsDir(), "manifest.json"))
}

func (fileArtifactsReader) Artifact(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(paths.ArtifactsDir(), filepath.Base(name)))
}

// dirTemplateSource resolves a newly installed channel's YAML overlay and
// Caddy fragment from <configHome>/channels, satisfying
// channelmgr.TemplateSource.
type dirTemplateSource struct{ dir string }

func (t dirTemplateSource) ChannelYAML(channel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(t.dir, channel+".yml"))
}

func (t dirTemplateSource) ChannelCaddy(channel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(t.dir, channel+".caddy"))
}
