package hints

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sokhanlabs/negar-core/internal/config"
)

// The terminology catalog is a JSON document mapping category keys to
// prioritized term lists, each term carrying a Persian and an English
// surface form:
//
//	{
//	  "mood_disorders": {
//	    "priority": 1,
//	    "terms": [{"fa": "افسردگی", "en": "major depressive disorder"}]
//	  }
//	}
type category struct {
	Priority int    `json:"priority"`
	Terms    []term `json:"terms"`
}

type term struct {
	FA string `json:"fa"`
	EN string `json:"en"`
}

// Load reads the catalog and produces an ordered, deduplicated phrase list
// capped at cfg.MaxPhrases, sorted by ascending category priority. A missing
// catalog file is not an error: recognition simply runs without hints.
func Load(cfg config.HintsConfig) ([]string, error) {
	data, err := os.ReadFile(cfg.CatalogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read terminology catalog: %w", err)
	}

	var catalog map[string]category
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse terminology catalog: %w", err)
	}

	keys := make([]string, 0, len(catalog))
	for key := range catalog {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if catalog[keys[i]].Priority != catalog[keys[j]].Priority {
			return catalog[keys[i]].Priority < catalog[keys[j]].Priority
		}
		return keys[i] < keys[j]
	})

	seen := make(map[string]struct{})
	var phrases []string
	appendPhrase := func(phrase string) {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			return
		}
		if _, dup := seen[phrase]; dup {
			return
		}
		seen[phrase] = struct{}{}
		phrases = append(phrases, phrase)
	}

	for _, key := range keys {
		for _, t := range catalog[key].Terms {
			appendPhrase(t.FA)
			appendPhrase(t.EN)
		}
	}

	if cfg.MaxPhrases > 0 && len(phrases) > cfg.MaxPhrases {
		phrases = phrases[:cfg.MaxPhrases]
	}
	return phrases, nil
}
