package roster

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var (
	// ErrUnavailable means no roster snapshot could be obtained.
	ErrUnavailable = errors.New("roster unavailable")
	// ErrMalformed means the source returned a payload that failed validation.
	ErrMalformed = errors.New("malformed roster data")
)

var validate = validator.New()

// Snapshot is the durable view of the roster. It is replaced wholesale, never edited.
type Snapshot struct {
	TotalParticipants int       `json:"total_participants"`
	TotalAmount       int64     `json:"total_amount"`
	ParticipantIDs    []string  `json:"participant_ids"`
	PaidIDs           []string  `json:"paid_ids"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (s *Snapshot) Contains(id string) bool {
	return lo.Contains(s.ParticipantIDs, id)
}

func (s *Snapshot) HasPaid(id string) bool {
	return lo.Contains(s.PaidIDs, id)
}

// Payload returns the source-shaped part of the snapshot.
func (s *Snapshot) Payload() Payload {
	return Payload{
		ParticipantIDs:    s.ParticipantIDs,
		TotalParticipants: s.TotalParticipants,
		TotalAmount:       s.TotalAmount,
	}
}

// Payload is the roster as read from the external source.
type Payload struct {
	ParticipantIDs    []string `json:"participant_ids" validate:"required"`
	TotalParticipants int      `json:"total_participants" validate:"gte=0"`
	TotalAmount       int64    `json:"total_amount" validate:"gte=0"`
}

// NormalizeID strips surrounding whitespace and a leading "@".
func NormalizeID(id string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(id), "@"))
}

// Normalize returns a copy with normalized identifiers and empty ones dropped.
func (p Payload) Normalize() Payload {
	ids := lo.FilterMap(p.ParticipantIDs, func(id string, _ int) (string, bool) {
		n := NormalizeID(id)
		return n, n != ""
	})
	return Payload{
		ParticipantIDs:    ids,
		TotalParticipants: p.TotalParticipants,
		TotalAmount:       p.TotalAmount,
	}
}

func (p Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Hash is a digest of the normalized payload. Identifier order is part of the
// content since it is the roster order.
func (p Payload) Hash() string {
	n := p.Normalize()
	if n.ParticipantIDs == nil {
		n.ParticipantIDs = []string{}
	}
	// Struct fields marshal in declaration order, so the encoding is canonical.
	b, _ := json.Marshal(n)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
