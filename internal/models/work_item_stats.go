package models

import "math"

type PlatformStats struct {
	Success     int     `json:"success"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

// WorkItemStats summarises outcomes across every stored item.
type WorkItemStats struct {
	Total       int                        `json:"total"`
	Posted      int                        `json:"posted"`
	Failed      int                        `json:"failed"`
	Ready       int                        `json:"ready"`
	Draft       int                        `json:"draft"`
	SuccessRate float64                    `json:"success_rate"`
	Platforms   map[Platform]PlatformStats `json:"platforms"`
	Recent      []*WorkItem                `json:"recent"`
}

// Percent is part as a share of whole, rounded to one decimal. An empty whole is 0.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}
