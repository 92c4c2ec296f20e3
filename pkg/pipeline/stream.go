package pipeline

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/scl-tools/rpmrh/pkg/rpm"
)

// Item is one (EL version, collection) group of packages flowing
// through the processing stages.
type Item struct {
	EL         int            `yaml:"el"`
	Collection string         `yaml:"collection"`
	Packages   []rpm.Metadata `yaml:"packages,omitempty"`

	// Paths are filled by the download stage and consumed by the
	// build stage.
	Paths []string `yaml:"paths,omitempty"`
}

// FormatParams exposes the group coordinates to alias templates.
func (i Item) FormatParams() map[string]string {
	return map[string]string{
		"el":         fmt.Sprint(i.EL),
		"collection": i.Collection,
	}
}

// Stream is an ordered sequence of items.  Stages read a stream on
// stdin and emit the processed stream on stdout so that subcommands
// chain with ordinary pipes.
type Stream []Item

// NewStream builds the initial empty stream for every (el,
// collection) pair.
func NewStream(els []int, collections []string) Stream {
	s := make(Stream, 0, len(els)*len(collections))
	for _, el := range els {
		for _, collection := range collections {
			s = append(s, Item{EL: el, Collection: collection})
		}
	}
	return s
}

// ReadStream decodes a stream from YAML.
func ReadStream(r io.Reader) (Stream, error) {
	var s Stream
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading package stream: %w", err)
	}
	return s, nil
}

// Write encodes the stream as YAML with packages in deterministic
// order.
func (s Stream) Write(w io.Writer) error {
	for i := range s {
		sort.Slice(s[i].Packages, func(a, b int) bool {
			return s[i].Packages[a].Compare(s[i].Packages[b]) < 0
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(s)
}
