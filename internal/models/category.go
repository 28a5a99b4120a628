package models

import "strings"

// Category 航迹分类，由注册号结构推导，不落库
type Category string

const (
	CategoryCleared    Category = "cleared"
	CategoryRestricted Category = "restricted"
)

// Categories 所有分类（固定顺序，用于计数和展示）
func Categories() []Category {
	return []Category{CategoryCleared, CategoryRestricted}
}

// CategoryOf 注册号按 "-" 分段，第二段以 "B" 开头为 cleared，其余为 restricted
func CategoryOf(trackID string) Category {
	parts := strings.Split(trackID, "-")
	if len(parts) > 1 && strings.HasPrefix(parts[1], "B") {
		return CategoryCleared
	}
	return CategoryRestricted
}
