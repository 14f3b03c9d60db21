package models

import "encoding/json"

// InventoryItem is one stash entry: yarn, a hook, or any other supply.
// UsedInProjects is the reverse side of the project→item reference.
type InventoryItem struct {
	Meta

	Name           string          `json:"name"`
	Category       string          `json:"category"`
	UsedInProjects []string        `json:"used_in_projects"`
	Images         []ImageRef      `json:"images"`
	DefaultImage   int             `json:"default_image"`
	Details        json.RawMessage `json:"details,omitempty"`
}

func (i *InventoryItem) RowMeta() *Meta   { return &i.Meta }
func (i *InventoryItem) EntityKind() Kind { return KindInventoryItem }

func (i *InventoryItem) Clone() *InventoryItem {
	c := *i
	c.DeletedAt = cloneTime(i.DeletedAt)
	c.SyncedAt = cloneTime(i.SyncedAt)
	if i.UsedInProjects != nil {
		c.UsedInProjects = append([]string(nil), i.UsedInProjects...)
	}
	c.Images = cloneImages(i.Images)
	if i.Details != nil {
		c.Details = append(json.RawMessage(nil), i.Details...)
	}
	return &c
}

// AddProjectRef appends projectID to the reverse-reference list if absent.
// Returns true when the item changed, so reapplying a diff stays idempotent.
func (i *InventoryItem) AddProjectRef(projectID string) bool {
	for _, id := range i.UsedInProjects {
		if id == projectID {
			return false
		}
	}
	i.UsedInProjects = append(i.UsedInProjects, projectID)
	return true
}

// RemoveProjectRef drops projectID from the reverse-reference list if
// present. Returns true when the item changed.
func (i *InventoryItem) RemoveProjectRef(projectID string) bool {
	for n, id := range i.UsedInProjects {
		if id == projectID {
			i.UsedInProjects = append(i.UsedInProjects[:n], i.UsedInProjects[n+1:]...)
			return true
		}
	}
	return false
}
