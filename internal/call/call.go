// Package call implements the per-call lifecycle state machine and the
// read helpers around the calls table.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zulandar/switchyard/internal/events"
	"github.com/zulandar/switchyard/internal/logging"
	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound means no call exists with the given ID.
	ErrNotFound = errors.New("call: not found")
	// ErrInvalidTransition means the requested state is not reachable from
	// the call's current state.
	ErrInvalidTransition = errors.New("call: invalid transition")
)

// ValidTransitions maps each state to the states it may move to. Terminal
// states map to nothing.
var ValidTransitions = map[models.CallState][]models.CallState{
	models.StateInProgress:   {models.StateCompleted},
	models.StateCompleted:    {models.StateProcessingAI},
	models.StateProcessingAI: {models.StateArchived, models.StateFailed},
	models.StateArchived:     {},
	models.StateFailed:       {},
}

// States lists every lifecycle state in order.
var States = []models.CallState{
	models.StateInProgress,
	models.StateCompleted,
	models.StateProcessingAI,
	models.StateArchived,
	models.StateFailed,
}

// IsValidTransition checks whether from → to is allowed.
func IsValidTransition(from, to models.CallState) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// Opts configures a Machine.
type Opts struct {
	DB        *gorm.DB
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Machine performs locked state transitions and announces them.
type Machine struct {
	db  *gorm.DB
	pub events.Publisher
	log *slog.Logger
}

// NewMachine creates a Machine. Publisher defaults to events.Nop.
func NewMachine(opts Opts) (*Machine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("call: db is required")
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Machine{db: opts.DB, pub: pub, log: logging.OrDefault(opts.Logger)}, nil
}

// Transition moves the call to state to and returns the state it left.
func (m *Machine) Transition(ctx context.Context, callID string, to models.CallState) (models.CallState, error) {
	return m.TransitionWith(ctx, callID, to, nil)
}

// TransitionWith is Transition plus extra column updates written in the same
// locked update, so readers never see the new state without them.
//
// The row is locked with SELECT ... FOR UPDATE for the duration of the
// check-and-write. state_changed is published only after commit.
func (m *Machine) TransitionWith(ctx context.Context, callID string, to models.CallState, updates map[string]any) (models.CallState, error) {
	var from models.CallState

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Call
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("call_id = ?", callID).
			Limit(1).
			Find(&c)
		if result.Error != nil {
			return fmt.Errorf("call: lock %s: %w", callID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, callID)
		}

		from = c.State
		if !IsValidTransition(from, to) {
			return fmt.Errorf("%w: %s from %s to %s; valid transitions: %v",
				ErrInvalidTransition, callID, from, to, ValidTransitions[from])
		}

		cols := make(map[string]any, len(updates)+1)
		for k, v := range updates {
			cols[k] = v
		}
		cols["state"] = to
		if err := tx.Model(&models.Call{}).Where("call_id = ?", callID).Updates(cols).Error; err != nil {
			return fmt.Errorf("call: update %s: %w", callID, err)
		}
		return nil
	})
	if err != nil {
		return from, err
	}

	m.log.Info("call state changed", "call_id", callID, "from", from, "to", to)
	m.pub.Publish(events.StateChanged(callID, string(from), string(to)))
	return from, nil
}
