package toolexecutor

import (
	"strings"
)

// ToolCategory groups tools by the host surface they touch
type ToolCategory string

const (
	CategoryFilesystem  ToolCategory = "filesystem"
	CategoryApplication ToolCategory = "application"
	CategoryProcess     ToolCategory = "process"
	CategoryWindow      ToolCategory = "window"
	CategoryInput       ToolCategory = "input"
	CategoryClipboard   ToolCategory = "clipboard"
	CategorySystem      ToolCategory = "system"
)

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryFilesystem,
		CategoryApplication,
		CategoryProcess,
		CategoryWindow,
		CategoryInput,
		CategoryClipboard,
		CategorySystem,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// TouchesResources reports whether tools in this category can name host
// resources that the protected policy guards.
func (c ToolCategory) TouchesResources() bool {
	switch c {
	case CategoryFilesystem, CategoryProcess, CategoryApplication:
		return true
	default:
		return false
	}
}
