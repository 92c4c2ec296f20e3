package service

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/scl-tools/rpmrh/pkg/rpm"
)

// fakeRepo is a Repository claiming a fixed set of tag prefixes.
type fakeRepo struct {
	name     string
	prefixes []string
}

func (f *fakeRepo) Type() string         { return "fake-repo" }
func (f *fakeRepo) TagPrefixes() []string { return f.prefixes }

func (f *fakeRepo) LatestBuilds(context.Context, string) ([]rpm.Metadata, error) {
	return nil, nil
}

func (f *fakeRepo) Download(context.Context, rpm.Metadata, string) (string, error) {
	return "", nil
}

// fakeBuilder is a Builder claiming a fixed set of target prefixes.
type fakeBuilder struct {
	name     string
	prefixes []string
}

func (f *fakeBuilder) Type() string            { return "fake-builder" }
func (f *fakeBuilder) TargetPrefixes() []string { return f.prefixes }

func (f *fakeBuilder) Build(context.Context, string, rpm.LocalPackage) (rpm.BuiltPackage, error) {
	return rpm.BuiltPackage{}, nil
}

func (f *fakeBuilder) TagBuild(context.Context, string, rpm.BuiltPackage, string) (rpm.BuiltPackage, error) {
	return rpm.BuiltPackage{}, nil
}

func TestPrefixIndexLongestPrefixWins(t *testing.T) {
	a := &fakeRepo{name: "a"}
	b := &fakeRepo{name: "b"}

	idx := NewPrefixIndex(AttrTag)
	idx.Insert("dist-7-", a)
	idx.Insert("dist-7-scl-", b)

	found, err := idx.Find("dist-7-scl-candidate")
	require.NoError(t, err)
	require.Same(t, b, found)

	found, err = idx.Find("dist-7-base")
	require.NoError(t, err)
	require.Same(t, a, found)
}

func TestPrefixIndexNoMatch(t *testing.T) {
	idx := NewPrefixIndex(AttrTag)
	idx.Insert("dist-7-", &fakeRepo{})

	_, err := idx.Find("dist-8-x")
	require.ErrorAs(t, err, &ErrNotFound{})
	require.Contains(t, err.Error(), "dist-8-x")
}

func TestPrefixIndexExactDuplicateLastWriterWins(t *testing.T) {
	first := &fakeRepo{name: "first"}
	second := &fakeRepo{name: "second"}

	idx := NewPrefixIndex(AttrTag)
	idx.Insert("dist-7-", first)
	idx.Insert("dist-7-", second)

	found, err := idx.Find("dist-7-anything")
	require.NoError(t, err)
	require.Same(t, second, found)
}

func TestPrefixIndexFilterSkipsToShorterPrefix(t *testing.T) {
	repo := &fakeRepo{}
	builder := &fakeBuilder{}

	idx := NewPrefixIndex(AttrTag)
	idx.Insert("dist-", repo)
	idx.Insert("dist-7-", builder)

	// The longer prefix exists but fails the capability filter;
	// the shorter one must be used instead.
	found, err := idx.Find("dist-7-candidate", RepositoriesOnly)
	require.NoError(t, err)
	require.Same(t, Service(repo), found)
}

func TestPrefixIndexLongestPrefixProperty(t *testing.T) {
	alphabet := []rune("ab-")

	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringOfN(rapid.RuneFrom(alphabet), 1, 8, -1).Draw(t, "key")
		prefixes := rapid.SliceOfNDistinct(
			rapid.StringOfN(rapid.RuneFrom(alphabet), 0, 8, -1),
			1, 6, rapid.ID[string],
		).Draw(t, "prefixes")

		idx := NewPrefixIndex(AttrTag)
		services := make(map[string]*fakeRepo, len(prefixes))
		for _, prefix := range prefixes {
			svc := &fakeRepo{name: prefix}
			services[prefix] = svc
			idx.Insert(prefix, svc)
		}

		var matching []string
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				matching = append(matching, prefix)
			}
		}

		found, err := idx.Find(key)
		if len(matching) == 0 {
			require.Error(t, err)
			return
		}

		sort.Slice(matching, func(i, j int) bool { return len(matching[i]) > len(matching[j]) })
		require.NoError(t, err)
		require.Same(t, services[matching[0]], found)
	})
}

func TestIndexGroupDistributeAndFind(t *testing.T) {
	a := &fakeRepo{name: "a", prefixes: []string{"dist-7-"}}
	b := &fakeRepo{name: "b", prefixes: []string{"dist-7-scl-"}}

	group := NewIndexGroup(hclog.NewNullLogger())
	group.Distribute(a, b)

	found, err := group.Find(AttrTag, "dist-7-scl-candidate")
	require.NoError(t, err)
	require.Same(t, Service(b), found)

	found, err = group.Find(AttrTag, "dist-7-base")
	require.NoError(t, err)
	require.Same(t, Service(a), found)

	_, err = group.Find(AttrTag, "dist-8-x")
	require.ErrorAs(t, err, &ErrNotFound{})
}

func TestIndexGroupDistributesByCapability(t *testing.T) {
	repo := &fakeRepo{prefixes: []string{"dist-7-"}}
	builder := &fakeBuilder{prefixes: []string{"dist-7-candidate-"}}

	group := NewIndexGroup(hclog.NewNullLogger())
	group.Distribute(repo, builder)

	// The builder claims no tags and must be invisible there.
	found, err := group.FindRepository("dist-7-base")
	require.NoError(t, err)
	require.Same(t, Repository(repo), found)

	foundBuilder, err := group.FindBuilder("dist-7-candidate-x")
	require.NoError(t, err)
	require.Same(t, Builder(builder), foundBuilder)

	_, err = group.FindBuilder("dist-7-base")
	require.Error(t, err)
}

func TestIndexGroupServiceWithoutPrefixesIsInvisible(t *testing.T) {
	orphan := &fakeRepo{}

	group := NewIndexGroup(hclog.NewNullLogger())
	group.Distribute(orphan)

	require.Empty(t, group.AllServices())
}

// fakeHybrid acts as both Repository and Builder.
type fakeHybrid struct {
	fakeRepo
	builder fakeBuilder
}

func (f *fakeHybrid) TargetPrefixes() []string { return f.builder.prefixes }

func (f *fakeHybrid) Build(ctx context.Context, target string, src rpm.LocalPackage) (rpm.BuiltPackage, error) {
	return f.builder.Build(ctx, target, src)
}

func (f *fakeHybrid) TagBuild(ctx context.Context, tag string, b rpm.BuiltPackage, owner string) (rpm.BuiltPackage, error) {
	return f.builder.TagBuild(ctx, tag, b, owner)
}

func TestIndexGroupAllServicesDeduplicates(t *testing.T) {
	// One instance registered under several prefixes in several
	// indexes counts once.
	svc := &fakeHybrid{
		fakeRepo: fakeRepo{prefixes: []string{"dist-7-", "dist-8-"}},
		builder:  fakeBuilder{prefixes: []string{"dist-7-candidate-"}},
	}

	group := NewIndexGroup(hclog.NewNullLogger())
	group.Distribute(svc)

	require.Len(t, group.AllServices(), 1)
}
