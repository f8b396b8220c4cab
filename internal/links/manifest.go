package links

import (
	"encoding/json"

	"zhihu_archiver/internal/models"
)

// Manifest is the ordered, de-duplicated list of identifiers discovered for
// a crawl target. Items are only ever appended.
type Manifest struct {
	items []models.ContentIdentifier
	index map[string]int
}

func NewManifest(items ...models.ContentIdentifier) *Manifest {
	m := &Manifest{index: make(map[string]int)}
	m.Merge(items)
	return m
}

// Add appends id unless an equal identifier is already present.
func (m *Manifest) Add(id models.ContentIdentifier) bool {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	key := id.Key()
	if _, ok := m.index[key]; ok {
		return false
	}
	m.index[key] = len(m.items)
	m.items = append(m.items, id)
	return true
}

// Merge appends every unseen identifier in order and returns how many were new.
func (m *Manifest) Merge(ids []models.ContentIdentifier) int {
	added := 0
	for _, id := range ids {
		if m.Add(id) {
			added++
		}
	}
	return added
}

func (m *Manifest) Contains(id models.ContentIdentifier) bool {
	_, ok := m.index[id.Key()]
	return ok
}

// Lookup returns the stored identifier with the same key as id.
func (m *Manifest) Lookup(key string) (models.ContentIdentifier, bool) {
	i, ok := m.index[key]
	if !ok {
		return models.ContentIdentifier{}, false
	}
	return m.items[i], true
}

func (m *Manifest) Items() []models.ContentIdentifier {
	return append([]models.ContentIdentifier(nil), m.items...)
}

func (m *Manifest) Len() int {
	return len(m.items)
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	items := m.items
	if items == nil {
		items = []models.ContentIdentifier{}
	}
	return json.Marshal(items)
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	var items []models.ContentIdentifier
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*m = Manifest{index: make(map[string]int)}
	m.Merge(items)
	return nil
}
