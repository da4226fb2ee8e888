package feed

import (
	"bytes"
	"fmt"

	"github.com/mmcdole/gofeed/atom"
)

// Validate parses data as Atom and checks the fields every consumer relies on.
func Validate(data []byte) error {
	parsed, err := (&atom.Parser{}).Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse atom feed: %w", err)
	}
	if parsed.ID == "" || parsed.Title == "" || parsed.Updated == "" {
		return fmt.Errorf("atom feed is missing id, title or updated")
	}
	seen := make(map[string]bool, len(parsed.Entries))
	for i, entry := range parsed.Entries {
		if entry.ID == "" || entry.Title == "" || entry.Updated == "" {
			return fmt.Errorf("atom entry %d is missing id, title or updated", i)
		}
		if seen[entry.ID] {
			return fmt.Errorf("atom entry %d has duplicate id %s", i, entry.ID)
		}
		seen[entry.ID] = true
	}
	return nil
}
