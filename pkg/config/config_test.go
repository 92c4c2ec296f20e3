package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
)

// testService is a minimal Repository configurable through the type
// registry.
type testService struct {
	prefixes []string
}

func (s *testService) Type() string          { return "test" }
func (s *testService) TagPrefixes() []string { return s.prefixes }

func (s *testService) LatestBuilds(context.Context, string) ([]rpm.Metadata, error) {
	return nil, nil
}

func (s *testService) Download(context.Context, rpm.Metadata, string) (string, error) {
	return "", nil
}

func testRegistry(t *testing.T) *service.TypeRegistry {
	t.Helper()

	r := service.NewTypeRegistry(hclog.NewNullLogger())
	err := r.Register("test", func(_ hclog.Logger, conf service.Registration) (service.Service, error) {
		svc := testService{}
		if raw, ok := conf["tag_prefixes"].([]any); ok {
			for _, p := range raw {
				svc.prefixes = append(svc.prefixes, p.(string))
			}
		}
		return &svc, nil
	})
	require.NoError(t, err)
	return r
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	path := writeConfig(t, "rpmrh.yaml", `
services:
  - type: test
    tag_prefixes: ["sclo7-"]
alias:
  tag:
    stable: sclo{el}-{collection}-rh-el{el}
cache:
  store: bitcask
`)

	ctx, err := Load(hclog.NewNullLogger(), testRegistry(t), path)
	require.NoError(t, err)

	require.Len(t, ctx.Services.AllServices(), 1)
	require.Equal(t, "bitcask", ctx.Cache.Store)

	tag, err := ctx.Unalias(service.AttrTag, "stable", map[string]string{"el": "7", "collection": "rh-python36"})
	require.NoError(t, err)
	require.Equal(t, "sclo7-rh-python36-rh-el7", tag)
}

func TestLoadMergesLaterFilesOverEarlier(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
services:
  - type: test
    tag_prefixes: ["sclo7-"]
cache:
  store: bitcask
`)
	override := writeConfig(t, "override.yaml", `
cache:
  store: ""
`)

	ctx, err := Load(hclog.NewNullLogger(), testRegistry(t), base, override)
	require.NoError(t, err)
	require.Empty(t, ctx.Cache.Store)
	require.Len(t, ctx.Services.AllServices(), 1)
}

func TestLoadRejectsServiceWithoutType(t *testing.T) {
	path := writeConfig(t, "rpmrh.yaml", `
services:
  - tag_prefixes: ["sclo7-"]
`)

	_, err := Load(hclog.NewNullLogger(), testRegistry(t), path)
	require.ErrorAs(t, err, &ConfigurationError{})
}

func TestLoadUnknownServiceType(t *testing.T) {
	path := writeConfig(t, "rpmrh.yaml", `
services:
  - type: nope
`)

	_, err := Load(hclog.NewNullLogger(), testRegistry(t), path)

	var confErr ConfigurationError
	require.ErrorAs(t, err, &confErr)
	require.Contains(t, confErr.Detail, "nope")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(hclog.NewNullLogger(), testRegistry(t), "/does/not/exist.yaml")
	require.ErrorAs(t, err, &ConfigurationError{})
}
