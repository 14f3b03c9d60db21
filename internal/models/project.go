package models

import "encoding/json"

// YarnRef links a project to one inventory item of yarn with the quantity
// (in skeins) the project consumes.
type YarnRef struct {
	ItemID   string  `json:"item_id"`
	Quantity float64 `json:"quantity"`
}

// Project is a craft project. YarnUsed and HooksUsed reference inventory
// items by id; the referenced items keep the reverse link in UsedInProjects.
type Project struct {
	Meta

	Name         string          `json:"name"`
	Status       string          `json:"status"`
	YarnUsed     []YarnRef       `json:"yarn_used"`
	HooksUsed    []string        `json:"hook_used_ids"`
	Images       []ImageRef      `json:"images"`
	DefaultImage int             `json:"default_image"`
	Details      json.RawMessage `json:"details,omitempty"`
}

func (p *Project) RowMeta() *Meta   { return &p.Meta }
func (p *Project) EntityKind() Kind { return KindProject }

func (p *Project) Clone() *Project {
	c := *p
	c.DeletedAt = cloneTime(p.DeletedAt)
	c.SyncedAt = cloneTime(p.SyncedAt)
	if p.YarnUsed != nil {
		c.YarnUsed = make([]YarnRef, len(p.YarnUsed))
		copy(c.YarnUsed, p.YarnUsed)
	}
	if p.HooksUsed != nil {
		c.HooksUsed = append([]string(nil), p.HooksUsed...)
	}
	c.Images = cloneImages(p.Images)
	if p.Details != nil {
		c.Details = append(json.RawMessage(nil), p.Details...)
	}
	return &c
}

// MaterialIDs returns the ids of every inventory item the project references,
// yarn first, then hooks, without duplicates.
func (p *Project) MaterialIDs() []string {
	seen := make(map[string]struct{}, len(p.YarnUsed)+len(p.HooksUsed))
	ids := make([]string, 0, len(p.YarnUsed)+len(p.HooksUsed))
	for _, y := range p.YarnUsed {
		if _, ok := seen[y.ItemID]; !ok {
			seen[y.ItemID] = struct{}{}
			ids = append(ids, y.ItemID)
		}
	}
	for _, h := range p.HooksUsed {
		if _, ok := seen[h]; !ok {
			seen[h] = struct{}{}
			ids = append(ids, h)
		}
	}
	return ids
}

// References reports whether the project uses the given inventory item,
// either as yarn or as a hook.
func (p *Project) References(itemID string) bool {
	for _, y := range p.YarnUsed {
		if y.ItemID == itemID {
			return true
		}
	}
	for _, h := range p.HooksUsed {
		if h == itemID {
			return true
		}
	}
	return false
}

// DropMaterial removes every reference to the given inventory item. It
// returns true when the project actually changed.
func (p *Project) DropMaterial(itemID string) bool {
	changed := false
	yarn := p.YarnUsed[:0]
	for _, y := range p.YarnUsed {
		if y.ItemID == itemID {
			changed = true
			continue
		}
		yarn = append(yarn, y)
	}
	p.YarnUsed = yarn
	hooks := p.HooksUsed[:0]
	for _, h := range p.HooksUsed {
		if h == itemID {
			changed = true
			continue
		}
		hooks = append(hooks, h)
	}
	p.HooksUsed = hooks
	return changed
}
