package syncsvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadOutbox reads pending sync collections from dir. Each entity type's
// items live in a "<type>.json" file holding an array of items; missing
// files simply mean nothing is pending for that type. Unknown .json files
// in the directory are an error so typos don't silently drop data.
func LoadOutbox(dir string) (Collections, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Collections{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("syncsvc: reading outbox %s: %w", dir, err)
	}

	collections := Collections{}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		entityType := EntityType(strings.TrimSuffix(name, ".json"))
		if !entityType.Valid() {
			return nil, fmt.Errorf("syncsvc: outbox file %s: %w", name, ErrUnknownEntityType)
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("syncsvc: reading outbox file %s: %w", name, err)
		}

		var items []Item

		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("syncsvc: parsing outbox file %s: %w", name, err)
		}

		if len(items) > 0 {
			collections[entityType] = items
		}
	}

	return collections, nil
}
