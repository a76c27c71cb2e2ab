package models

import (
	"time"

	"gorm.io/datatypes"
)

// CallState is a step in a call's lifecycle.
type CallState string

const (
	StateInProgress   CallState = "IN_PROGRESS"
	StateCompleted    CallState = "COMPLETED"
	StateProcessingAI CallState = "PROCESSING_AI"
	StateArchived     CallState = "ARCHIVED"
	StateFailed       CallState = "FAILED"
)

// Terminal reports whether no further transitions are possible from s.
func (s CallState) Terminal() bool {
	return s == StateArchived || s == StateFailed
}

// Call is one ingestion session and its packet-sequencing metadata.
type Call struct {
	CallID               string                   `gorm:"primaryKey;size:128"`
	State                CallState                `gorm:"size:16;not null;default:IN_PROGRESS;index"`
	TotalPacketsReceived int                      `gorm:"not null;default:0"`
	ExpectedTotalPackets *int
	ExpectedNextSequence int                      `gorm:"not null;default:0"`
	MissingSequences     datatypes.JSONSlice[int] `gorm:"type:json"`
	Transcription        *string                  `gorm:"type:text"`
	Sentiment            *string                  `gorm:"size:32"`
	CreatedAt            time.Time
	UpdatedAt            time.Time `gorm:"index"`

	Packets []Packet `gorm:"foreignKey:CallID;references:CallID;constraint:OnDelete:CASCADE"`
}

// HasMissing reports whether seq is currently flagged as a gap.
func (c *Call) HasMissing(seq int) bool {
	for _, s := range c.MissingSequences {
		if s == seq {
			return true
		}
	}
	return false
}
