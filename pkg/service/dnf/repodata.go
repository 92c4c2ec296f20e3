package dnf

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// repomd is the subset of repodata/repomd.xml needed to locate the
// primary metadata.
type repomd struct {
	Data []struct {
		Type     string `xml:"type,attr"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
	} `xml:"data"`
}

// primary mirrors the createrepo primary.xml package list.
type primary struct {
	Packages []packageEntry `xml:"package"`
}

type packageEntry struct {
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch   int    `xml:"epoch,attr"`
		Version string `xml:"ver,attr"`
		Release string `xml:"rel,attr"`
	} `xml:"version"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
}

// loadIndex retrieves and parses the package index of one repository.
func (g *RepoGroup) loadIndex(ctx context.Context, baseurl string) ([]packageEntry, error) {
	repomdBytes, err := g.fetchBytes(ctx, joinURL(baseurl, "repodata/repomd.xml"))
	if err != nil {
		return nil, err
	}

	var md repomd
	if err := xml.Unmarshal(repomdBytes, &md); err != nil {
		return nil, fmt.Errorf("parsing repomd.xml: %w", err)
	}

	var primaryHref string
	for _, data := range md.Data {
		if data.Type == "primary" {
			primaryHref = data.Location.Href
			break
		}
	}
	if primaryHref == "" {
		return nil, errors.New("repomd.xml lists no primary metadata")
	}

	primaryBytes, err := g.fetchBytes(ctx, joinURL(baseurl, primaryHref))
	if err != nil {
		return nil, err
	}

	return parsePrimary(primaryBytes)
}

func parsePrimary(raw []byte) ([]packageEntry, error) {
	var reader io.Reader = bytes.NewReader(raw)

	// createrepo ships the primary list gzipped; tolerate plain XML
	// for file:// test repositories.
	if len(raw) > 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}

	var idx primary
	if err := xml.NewDecoder(reader).Decode(&idx); err != nil {
		return nil, fmt.Errorf("parsing primary metadata: %w", err)
	}
	return idx.Packages, nil
}

// fetchBytes reads a repodata resource from an http(s) or file URL.
func (g *RepoGroup) fetchBytes(ctx context.Context, url string) ([]byte, error) {
	switch {
	case strings.HasPrefix(url, "http"):
		return g.fetchHTTP(ctx, url)
	case strings.HasPrefix(url, "file://"):
		return os.ReadFile(strings.TrimPrefix(url, "file://"))
	default:
		return nil, fmt.Errorf("repodata URL %q: scheme must be file or http(s)", url)
	}
}

func (g *RepoGroup) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.web.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpError(url, resp)
	}
	return io.ReadAll(resp.Body)
}

func joinURL(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + rel
}
