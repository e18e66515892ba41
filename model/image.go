package model

import "time"

// Image is a hero image candidate captured at scrape time. At most one
// candidate per run is marked used and attached to the first content post.
type Image struct {
	Id        string `gorm:"primaryKey"`
	CreatedAt time.Time
	RunID     string `gorm:"index"`
	SourceUrl string
	Width     int
	Height    int
	Used      bool
}
