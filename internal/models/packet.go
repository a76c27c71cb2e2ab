package models

import "time"

// Packet is one accepted (non-duplicate) payload within a call.
// (CallID, Sequence) is unique; the index is the last-resort guard against
// concurrent duplicates.
type Packet struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	CallID     string    `gorm:"size:128;not null;uniqueIndex:uq_call_sequence,priority:1;index:idx_packets_call_id"`
	Sequence   int       `gorm:"not null;uniqueIndex:uq_call_sequence,priority:2"`
	Data       string    `gorm:"type:text;not null"`
	Timestamp  float64   `gorm:"not null"`
	ReceivedAt time.Time `gorm:"autoCreateTime"`
}
