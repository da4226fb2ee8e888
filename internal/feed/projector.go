package feed

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bakkerme/ghsearch-feed/internal/core"
)

const (
	EntryIDPrefix = "urn:ghsearch:"
	FeedIDPrefix  = "urn:github-search:"
)

// Metadata holds the per-run values the projection depends on besides the results.
type Metadata struct {
	// Query defaults to the result set's query.
	Query string
	// Title overrides the default feed title.
	Title string
	// ReferenceTime stands in for missing timestamps. It is the run start
	// unless an explicit updated date was configured.
	ReferenceTime time.Time
}

// Projector maps an ordered ResultSet onto an Atom document.
type Projector struct {
	meta      Metadata
	converter goldmark.Markdown
}

func NewProjector(meta Metadata) *Projector {
	return &Projector{
		meta:      meta,
		converter: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Project builds the feed document. Result order is preserved.
func (p *Projector) Project(rs *core.ResultSet) (*core.FeedDocument, error) {
	query := strings.TrimSpace(p.meta.Query)
	if query == "" && rs != nil {
		query = rs.Query
	}
	if query == "" {
		return nil, fmt.Errorf("feed query is required")
	}
	ref := p.meta.ReferenceTime
	if ref.IsZero() {
		return nil, fmt.Errorf("feed reference time is required")
	}
	ref = ref.UTC()

	title := strings.TrimSpace(p.meta.Title)
	if title == "" {
		title = DefaultTitle(query)
	}

	doc := &core.FeedDocument{
		ID:      FeedID(query),
		Title:   title,
		Link:    SearchURL(query),
		Updated: ref,
		Entries: make([]core.FeedEntry, 0, rs.Len()),
	}
	if rs == nil {
		return doc, nil
	}

	var newest time.Time
	for _, result := range rs.Results {
		entry, err := p.entry(result, ref)
		if err != nil {
			return nil, err
		}
		if entry.Updated.After(newest) {
			newest = entry.Updated
		}
		doc.Entries = append(doc.Entries, entry)
	}
	if !newest.IsZero() {
		doc.Updated = newest
	}
	return doc, nil
}

func (p *Projector) entry(result core.SearchResult, ref time.Time) (core.FeedEntry, error) {
	if result.HTMLURL == "" {
		return core.FeedEntry{}, fmt.Errorf("search result %s/%s has no html url", result.Repository, result.Path)
	}
	updated := ref
	if !result.ModifiedAt.IsZero() {
		updated = result.ModifiedAt.UTC()
	}
	content, err := p.render(result)
	if err != nil {
		return core.FeedEntry{}, fmt.Errorf("render entry %s: %w", result.HTMLURL, err)
	}
	return core.FeedEntry{
		ID:      EntryID(result.HTMLURL),
		Title:   fmt.Sprintf("%s: %s", result.Repository, result.Path),
		Link:    result.HTMLURL,
		Updated: updated,
		Summary: fmt.Sprintf("File: %s\nRepository: %s\nSHA: %s", result.Path, result.Repository, result.SHA),
		Content: content,
		Categories: []core.FeedCategory{
			{Term: "repository", Label: result.Repository},
			{Term: "path", Label: result.Path},
		},
	}, nil
}

func (p *Projector) render(result core.SearchResult) (string, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "[`%s`](%s) in [%s](https://github.com/%s)\n\n", result.Path, result.HTMLURL, result.Repository, result.Repository)
	if result.SHA != "" {
		fmt.Fprintf(&md, "- SHA: `%s`\n", result.SHA)
	}
	if !result.ModifiedAt.IsZero() {
		fmt.Fprintf(&md, "- Last modified: %s\n", result.ModifiedAt.UTC().Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := p.converter.Convert([]byte(md.String()), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EntryID is stable for a given HTML URL across runs.
func EntryID(htmlURL string) string {
	sum := sha256.Sum256([]byte(htmlURL))
	return EntryIDPrefix + hex.EncodeToString(sum[:])
}

func FeedID(query string) string {
	return FeedIDPrefix + url.QueryEscape(query)
}

func DefaultTitle(query string) string {
	return "GitHub Code Search Results for: " + query
}

// SearchURL is the github.com page showing the same search.
func SearchURL(query string) string {
	return "https://github.com/search?q=" + url.QueryEscape(query) + "&type=code"
}
