package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scl-tools/rpmrh/pkg/rpm"
)

func TestNewStreamCrossProduct(t *testing.T) {
	s := NewStream([]int{6, 7}, []string{"rh-python36", "rh-ruby25"})

	require.Equal(t, Stream{
		{EL: 6, Collection: "rh-python36"},
		{EL: 6, Collection: "rh-ruby25"},
		{EL: 7, Collection: "rh-python36"},
		{EL: 7, Collection: "rh-ruby25"},
	}, s)
}

func TestStreamRoundTrip(t *testing.T) {
	in := Stream{{
		EL:         7,
		Collection: "rh-python36",
		Packages: []rpm.Metadata{
			{Name: "rh-python36-python", Version: "3.6.3", Release: "3.el7"},
		},
		Paths: []string{"/tmp/rh-python36-python-3.6.3-3.el7.src.rpm"},
	}}

	var buf bytes.Buffer
	require.NoError(t, in.Write(&buf))

	out, err := ReadStream(&buf)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestStreamWriteSortsPackages(t *testing.T) {
	s := Stream{{
		EL:         7,
		Collection: "rh-python36",
		Packages: []rpm.Metadata{
			{Name: "rh-python36-runtime", Version: "2.0", Release: "1.el7"},
			{Name: "rh-python36-python", Version: "3.6.3", Release: "3.el7"},
			{Name: "rh-python36-python", Version: "3.6.3", Release: "1.el7"},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf))

	out, err := ReadStream(&buf)
	require.NoError(t, err)
	require.Equal(t, []rpm.Metadata{
		{Name: "rh-python36-python", Version: "3.6.3", Release: "1.el7"},
		{Name: "rh-python36-python", Version: "3.6.3", Release: "3.el7"},
		{Name: "rh-python36-runtime", Version: "2.0", Release: "1.el7"},
	}, out[0].Packages)
}

func TestReadStreamEmptyInput(t *testing.T) {
	s, err := ReadStream(strings.NewReader(""))
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestFormatParams(t *testing.T) {
	item := Item{EL: 7, Collection: "rh-python36"}
	require.Equal(t, map[string]string{
		"el":         "7",
		"collection": "rh-python36",
	}, item.FormatParams())
}
