package reconciler

import (
	"math"

	"sagerspace-tracker/internal/models"
)

// 分类配色
var categoryColors = map[models.Category]string{
	models.CategoryCleared:    "rgba(16, 185, 129, 0.8)",
	models.CategoryRestricted: "rgba(239, 68, 68, 0.8)",
}

const groundedOpacity = 0.6

// StyleFor 由 TrackID 与当前报文计算样式，每轮重新计算不缓存
func StyleFor(trackID string, current models.PositionReport) Style {
	category := models.CategoryOf(trackID)
	opacity := 1.0
	if !current.Airborne() {
		opacity = groundedOpacity
	}
	return Style{
		Category: category,
		Color:    categoryColors[category],
		Opacity:  opacity,
	}
}

// Rotation 航向归一化到 [0, 360)
func Rotation(current models.PositionReport) float64 {
	r := math.Mod(current.HeadingDegrees, 360)
	if r < 0 {
		r += 360
	}
	return r
}
