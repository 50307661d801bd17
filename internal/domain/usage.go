package domain

import "time"

type UsageLog struct {
	UserID          string
	JobID           string
	PixelsProcessed int64
	ComputeTimeMS   int64
	AICalls         int
	Fallback        bool
	CreatedAt       time.Time
}
