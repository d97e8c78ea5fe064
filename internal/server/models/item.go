package models

import "fmt"

// ItemCategory distinguishes text snippets from uploaded files.
type ItemCategory string

const (
	CategoryText ItemCategory = "text"
	CategoryFile ItemCategory = "file"
)

// ItemCategoryFromString parses the stored category column.
func ItemCategoryFromString(s string) (ItemCategory, error) {
	switch ItemCategory(s) {
	case CategoryText, CategoryFile:
		return ItemCategory(s), nil
	default:
		return "", fmt.Errorf("unsupported item category %q", s)
	}
}

// CabinetItem is one ordered piece of content belonging to a cabinet.
// The ID is an independently generated UUID; SortOrder is the 1-based
// position within the cabinet and is unique per cabinet. Content bytes live
// in the content store and are only populated on explicit request.
type CabinetItem struct {
	ID          string
	CabinetCode int64
	Category    ItemCategory
	Name        string
	Size        int64
	SortOrder   int32
	Content     []byte
}
