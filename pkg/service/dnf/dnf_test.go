package dnf

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/scl-tools/rpmrh/pkg/rpm"
	"github.com/scl-tools/rpmrh/pkg/service"
)

const repomdXML = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <data type="primary">
    <location href="repodata/primary.xml.gz"/>
  </data>
  <data type="filelists">
    <location href="repodata/filelists.xml.gz"/>
  </data>
</repomd>`

const primaryXML = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" packages="3">
  <package type="rpm">
    <name>rh-python36-python</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="3.6.1" rel="1.el7"/>
    <location href="Packages/r/rh-python36-python-3.6.1-1.el7.x86_64.rpm"/>
  </package>
  <package type="rpm">
    <name>rh-python36-python</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="3.6.3" rel="3.el7"/>
    <location href="Packages/r/rh-python36-python-3.6.3-3.el7.x86_64.rpm"/>
  </package>
  <package type="rpm">
    <name>rh-python36-runtime</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="2.0" rel="1.el7"/>
    <location href="Packages/r/rh-python36-runtime-2.0-1.el7.x86_64.rpm"/>
  </package>
</metadata>`

// writeRepo lays out a createrepo-style tree on disk and returns its
// file:// baseurl.
func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "repodata"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "repodata", "repomd.xml"), []byte(repomdXML), 0o644))

	var gzipped bytes.Buffer
	gz := gzip.NewWriter(&gzipped)
	_, err := gz.Write([]byte(primaryXML))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "repodata", "primary.xml.gz"), gzipped.Bytes(), 0o644))

	pkgDir := filepath.Join(dir, "Packages", "r")
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(pkgDir, "rh-python36-python-3.6.3-3.el7.x86_64.rpm"),
		[]byte("rpm payload"), 0o644))

	return "file://" + dir
}

func newTestGroup(t *testing.T, repos ...RepoConfig) *RepoGroup {
	t.Helper()

	conf := service.Registration{"type": TypeName}
	var raw []map[string]any
	for _, repo := range repos {
		raw = append(raw, map[string]any{"name": repo.Name, "baseurl": repo.BaseURL})
	}
	conf["repos"] = raw

	svc, err := New(hclog.NewNullLogger(), conf)
	require.NoError(t, err)
	return svc.(*RepoGroup)
}

func TestParsePrimaryPlainAndGzipped(t *testing.T) {
	plain, err := parsePrimary([]byte(primaryXML))
	require.NoError(t, err)
	require.Len(t, plain, 3)
	require.Equal(t, "rh-python36-python", plain[0].Name)
	require.Equal(t, "3.6.1", plain[0].Version.Version)

	var gzipped bytes.Buffer
	gz := gzip.NewWriter(&gzipped)
	_, err = gz.Write([]byte(primaryXML))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	fromGzip, err := parsePrimary(gzipped.Bytes())
	require.NoError(t, err)
	require.Equal(t, plain, fromGzip)
}

func TestLatestBuildsFromFileRepo(t *testing.T) {
	group := newTestGroup(t, RepoConfig{Name: "centos7-sclo", BaseURL: writeRepo(t)})

	builds, err := group.LatestBuilds(context.Background(), "centos7-sclo-rh-python36")
	require.NoError(t, err)

	require.Equal(t, []rpm.Metadata{
		{Name: "rh-python36-python", Version: "3.6.3", Release: "3.el7", Arch: "x86_64"},
		{Name: "rh-python36-runtime", Version: "2.0", Release: "1.el7", Arch: "x86_64"},
	}, builds)
}

func TestLatestBuildsUnknownTag(t *testing.T) {
	group := newTestGroup(t, RepoConfig{Name: "centos7-sclo", BaseURL: writeRepo(t)})

	_, err := group.LatestBuilds(context.Background(), "fedora-28")
	require.ErrorAs(t, err, &service.ErrNotFound{})
}

func TestDownloadFromFileRepo(t *testing.T) {
	group := newTestGroup(t, RepoConfig{Name: "centos7-sclo", BaseURL: writeRepo(t)})
	dir := t.TempDir()

	pkg := rpm.Metadata{Name: "rh-python36-python", Version: "3.6.3", Release: "3.el7", Arch: "x86_64"}
	path, err := group.Download(context.Background(), pkg, dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "rh-python36-python-3.6.3-3.el7.x86_64.rpm"), path)

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "rpm payload", string(payload))
}

func TestDownloadNoMatch(t *testing.T) {
	group := newTestGroup(t, RepoConfig{Name: "centos7-sclo", BaseURL: writeRepo(t)})

	pkg := rpm.Metadata{Name: "nope", Version: "1.0", Release: "1.el7", Arch: "x86_64"}
	_, err := group.Download(context.Background(), pkg, t.TempDir())
	require.ErrorAs(t, err, &service.ErrNoMatch{})
}

func TestDownloadAmbiguousAcrossRepos(t *testing.T) {
	base := writeRepo(t)
	group := newTestGroup(t,
		RepoConfig{Name: "centos7-sclo", BaseURL: base},
		RepoConfig{Name: "centos7-extras", BaseURL: base},
	)

	pkg := rpm.Metadata{Name: "rh-python36-python", Version: "3.6.3", Release: "3.el7", Arch: "x86_64"}
	_, err := group.Download(context.Background(), pkg, t.TempDir())

	var ambiguous service.ErrAmbiguousMatch
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, 2, ambiguous.Count)
}

func TestRepoIndexIsCached(t *testing.T) {
	base := writeRepo(t)
	group := newTestGroup(t, RepoConfig{Name: "centos7-sclo", BaseURL: base})

	_, err := group.LatestBuilds(context.Background(), "centos7-sclo")
	require.NoError(t, err)

	// Remove the repodata on disk; the cached index keeps serving.
	require.NoError(t, os.RemoveAll(filepath.Join(strings.TrimPrefix(base, "file://"), "repodata")))

	builds, err := group.LatestBuilds(context.Background(), "centos7-sclo")
	require.NoError(t, err)
	require.Len(t, builds, 2)
}

func TestNewRequiresRepos(t *testing.T) {
	_, err := New(hclog.NewNullLogger(), service.Registration{"type": TypeName})
	require.Error(t, err)
}
