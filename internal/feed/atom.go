package feed

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/bakkerme/ghsearch-feed/internal/core"
)

const Namespace = "http://www.w3.org/2005/Atom"

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Xmlns   string      `xml:"xmlns,attr"`
	Title   string      `xml:"title"`
	Link    atomLink    `xml:"link"`
	Updated string      `xml:"updated"`
	ID      string      `xml:"id"`
	Author  atomPerson  `xml:"author"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title      string         `xml:"title"`
	Link       atomLink       `xml:"link"`
	ID         string         `xml:"id"`
	Updated    string         `xml:"updated"`
	Summary    atomText       `xml:"summary"`
	Content    *atomText      `xml:"content,omitempty"`
	Categories []atomCategory `xml:"category"`
}

type atomText struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

type atomPerson struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr,omitempty"`
	Href string `xml:"href,attr"`
}

type atomCategory struct {
	Term  string `xml:"term,attr"`
	Label string `xml:"label,attr,omitempty"`
}

// Marshal renders doc as an indented Atom document with an XML header.
// Equal documents produce identical bytes.
func Marshal(doc *core.FeedDocument) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("feed document is required")
	}
	out := atomFeed{
		Xmlns:   Namespace,
		Title:   doc.Title,
		Link:    atomLink{Rel: "alternate", Href: doc.Link},
		Updated: formatTime(doc.Updated),
		ID:      doc.ID,
		Author:  atomPerson{Name: "GitHub Code Search"},
		Entries: make([]atomEntry, 0, len(doc.Entries)),
	}
	for _, e := range doc.Entries {
		entry := atomEntry{
			Title:   e.Title,
			Link:    atomLink{Rel: "alternate", Href: e.Link},
			ID:      e.ID,
			Updated: formatTime(e.Updated),
			Summary: atomText{Type: "text", Body: e.Summary},
		}
		if e.Content != "" {
			entry.Content = &atomText{Type: "html", Body: e.Content}
		}
		for _, c := range e.Categories {
			entry.Categories = append(entry.Categories, atomCategory{Term: c.Term, Label: c.Label})
		}
		out.Entries = append(out.Entries, entry)
	}

	body, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal atom feed: %w", err)
	}
	data := make([]byte, 0, len(xml.Header)+len(body)+1)
	data = append(data, xml.Header...)
	data = append(data, body...)
	data = append(data, '\n')
	return data, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
