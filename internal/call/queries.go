package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

// Filters holds optional filters for listing calls.
type Filters struct {
	State models.CallState
	Limit int
}

// Get retrieves a call by ID.
func Get(ctx context.Context, db *gorm.DB, id string) (*models.Call, error) {
	var c models.Call
	if err := db.WithContext(ctx).Where("call_id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("call: get %s: %w", id, err)
	}
	return &c, nil
}

// List returns calls matching filters, most recently updated first.
func List(ctx context.Context, db *gorm.DB, filters Filters) ([]models.Call, error) {
	q := db.WithContext(ctx).Model(&models.Call{})
	if filters.State != "" {
		q = q.Where("state = ?", filters.State)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}

	var calls []models.Call
	if err := q.Order("updated_at DESC, call_id ASC").Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("call: list: %w", err)
	}
	return calls, nil
}

// Packets returns the call's packets ordered by sequence.
func Packets(ctx context.Context, db *gorm.DB, id string) ([]models.Packet, error) {
	var packets []models.Packet
	if err := db.WithContext(ctx).Where("call_id = ?", id).Order("sequence ASC").Find(&packets).Error; err != nil {
		return nil, fmt.Errorf("call: packets of %s: %w", id, err)
	}
	return packets, nil
}

// SetExpectedTotal records the packet count the caller says it sent. The
// call's existence is not rechecked.
func SetExpectedTotal(ctx context.Context, db *gorm.DB, id string, total int) error {
	if err := db.WithContext(ctx).Model(&models.Call{}).
		Where("call_id = ?", id).
		Update("expected_total_packets", total).Error; err != nil {
		return fmt.Errorf("call: set expected total of %s: %w", id, err)
	}
	return nil
}

// Stale returns calls in one of states whose last update is before cutoff.
func Stale(ctx context.Context, db *gorm.DB, states []models.CallState, before time.Time) ([]models.Call, error) {
	var calls []models.Call
	if err := db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", states, before).
		Order("updated_at ASC").
		Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("call: stale: %w", err)
	}
	return calls, nil
}
