// Package sequencer ingests call packets, detecting duplicates, gaps and
// late arrivals, and keeps each call's sequencing metadata current.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/events"
	"github.com/zulandar/switchyard/internal/logging"
	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultMaxMissing caps how many gap sequences a call tracks.
const DefaultMaxMissing = 100

var (
	// ErrValidation marks a malformed packet.
	ErrValidation = errors.New("sequencer: invalid packet")
	// ErrCallClosed is returned under the reject late-packet policy when the
	// call has moved past COMPLETED.
	ErrCallClosed = errors.New("sequencer: call no longer accepts packets")

	// errRaceDuplicate rolls back the transaction when the unique index
	// catches a duplicate the classification missed.
	errRaceDuplicate = errors.New("sequencer: duplicate caught by unique index")
)

// Status is the ingestion outcome reported to the caller.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
)

// Kind records how an accepted packet related to the call's cursor.
type Kind string

const (
	KindInOrder Kind = "in_order"
	KindGap     Kind = "gap"
	KindLate    Kind = "late"
)

// PacketInput is one packet as received from a caller.
type PacketInput struct {
	CallID    string
	Sequence  int
	Data      string
	Timestamp float64
}

// Result describes what Ingest did with a packet. TotalReceived and
// MissingSequences are only meaningful when Status is StatusAccepted.
type Result struct {
	Status           Status
	Kind             Kind
	CallID           string
	Sequence         int
	TotalReceived    int
	MissingSequences []int
}

// Opts configures a Sequencer.
type Opts struct {
	DB         *gorm.DB
	Publisher  events.Publisher
	LatePolicy string // config.LatePacketsAccept (default) or config.LatePacketsReject
	MaxMissing int
	Logger     *slog.Logger
}

// Sequencer is the packet ingestion engine. It is safe for concurrent use;
// per-call exclusivity comes from the call row lock.
type Sequencer struct {
	db         *gorm.DB
	pub        events.Publisher
	rejectLate bool
	maxMissing int
	log        *slog.Logger
}

// New creates a Sequencer.
func New(opts Opts) (*Sequencer, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("sequencer: db is required")
	}
	switch opts.LatePolicy {
	case "", config.LatePacketsAccept, config.LatePacketsReject:
	default:
		return nil, fmt.Errorf("sequencer: unknown late packet policy %q", opts.LatePolicy)
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	maxMissing := opts.MaxMissing
	if maxMissing <= 0 {
		maxMissing = DefaultMaxMissing
	}
	return &Sequencer{
		db:         opts.DB,
		pub:        pub,
		rejectLate: opts.LatePolicy == config.LatePacketsReject,
		maxMissing: maxMissing,
		log:        logging.OrDefault(opts.Logger),
	}, nil
}

// ValidatePacket checks the packet's fields.
func ValidatePacket(in PacketInput) error {
	switch {
	case in.CallID == "":
		return fmt.Errorf("%w: call_id is required", ErrValidation)
	case len(in.CallID) > 128:
		return fmt.Errorf("%w: call_id longer than 128 characters", ErrValidation)
	case in.Sequence < 0:
		return fmt.Errorf("%w: sequence must be >= 0, got %d", ErrValidation, in.Sequence)
	case in.Data == "":
		return fmt.Errorf("%w: data must not be empty", ErrValidation)
	case in.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp must be > 0", ErrValidation)
	}
	return nil
}

// Ingest stores one packet and updates the call's sequencing metadata.
// Unknown calls are created in IN_PROGRESS. Duplicates are reported through
// Result.Status, not as errors.
func (s *Sequencer) Ingest(ctx context.Context, in PacketInput) (*Result, error) {
	if err := ValidatePacket(in); err != nil {
		return nil, err
	}

	res := Result{Status: StatusDuplicate, CallID: in.CallID, Sequence: in.Sequence}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockCall(tx, in.CallID)
		if err != nil {
			return err
		}

		if s.rejectLate && closed(c.State) {
			return fmt.Errorf("%w: %s is %s", ErrCallClosed, in.CallID, c.State)
		}

		if in.Sequence < c.ExpectedNextSequence && !c.HasMissing(in.Sequence) {
			return nil
		}

		pkt := models.Packet{
			CallID:    in.CallID,
			Sequence:  in.Sequence,
			Data:      in.Data,
			Timestamp: in.Timestamp,
		}
		if err := tx.Create(&pkt).Error; err != nil {
			if db.IsDuplicate(err) {
				return errRaceDuplicate
			}
			if class := db.Classify(err); class != nil {
				return fmt.Errorf("sequencer: store packet %s/%d: %w: %w", in.CallID, in.Sequence, class, err)
			}
			return fmt.Errorf("sequencer: store packet %s/%d: %w", in.CallID, in.Sequence, err)
		}

		missing := slices.Clone([]int(c.MissingSequences))
		next := c.ExpectedNextSequence
		switch {
		case in.Sequence == next:
			res.Kind = KindInOrder
			next = in.Sequence + 1
		case in.Sequence > next:
			res.Kind = KindGap
			gap := in.Sequence - next
			if len(missing)+gap <= s.maxMissing {
				for seq := next; seq < in.Sequence; seq++ {
					missing = append(missing, seq)
				}
			} else {
				s.log.Warn("missing sequence cap reached, gap not tracked",
					"call_id", in.CallID, "from", next, "to", in.Sequence-1, "tracked", len(missing), "cap", s.maxMissing)
			}
			next = in.Sequence + 1
		default:
			res.Kind = KindLate
			missing = slices.DeleteFunc(missing, func(seq int) bool { return seq == in.Sequence })
		}
		slices.Sort(missing)
		if missing == nil {
			missing = []int{}
		}
		total := c.TotalPacketsReceived + 1

		if err := tx.Model(&models.Call{}).Where("call_id = ?", in.CallID).Updates(map[string]any{
			"expected_next_sequence": next,
			"missing_sequences":      datatypes.JSONSlice[int](missing),
			"total_packets_received": total,
		}).Error; err != nil {
			return fmt.Errorf("sequencer: update call %s: %w", in.CallID, err)
		}

		res.Status = StatusAccepted
		res.TotalReceived = total
		res.MissingSequences = missing
		return nil
	})
	if errors.Is(err, errRaceDuplicate) {
		err = nil
		res.Status = StatusDuplicate
		res.Kind = ""
	}
	if err != nil {
		return nil, err
	}

	if res.Status == StatusDuplicate {
		s.log.Debug("duplicate packet", "call_id", in.CallID, "sequence", in.Sequence)
		return &res, nil
	}

	s.log.Debug("packet stored", "call_id", in.CallID, "sequence", in.Sequence,
		"kind", res.Kind, "total", res.TotalReceived, "missing", len(res.MissingSequences))
	s.pub.Publish(events.PacketReceived(in.CallID, in.Sequence, res.TotalReceived, slices.Clone(res.MissingSequences)))
	return &res, nil
}

// lockCall creates the call if it does not exist and then locks its row for
// the rest of the transaction.
func lockCall(tx *gorm.DB, callID string) (*models.Call, error) {
	seed := models.Call{
		CallID:           callID,
		State:            models.StateInProgress,
		MissingSequences: datatypes.JSONSlice[int]{},
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("sequencer: upsert call %s: %w", callID, err)
	}

	var c models.Call
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("call_id = ?", callID).
		Take(&c).Error; err != nil {
		return nil, fmt.Errorf("sequencer: lock call %s: %w", callID, err)
	}
	return &c, nil
}

// closed reports whether a call has moved past the grace window.
func closed(s models.CallState) bool {
	return s == models.StateProcessingAI || s.Terminal()
}
