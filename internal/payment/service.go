package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/susu3304/paycollect/internal/alloc"
	"github.com/susu3304/paycollect/internal/db"
	"github.com/susu3304/paycollect/internal/roster"
)

//go:generate mockgen -source=service.go -destination=../mocks/payment_mocks.go -package=mocks

var (
	ErrUnknownParticipant = errors.New("participant not in roster")
	ErrAlreadyPaid        = errors.New("participant already paid")
)

// Snapshots is the roster cache as seen by the request path.
type Snapshots interface {
	Get(ctx context.Context) (*roster.Snapshot, error)
	Invalidate()
}

type Store interface {
	GetOrCreateAssignment(ctx context.Context, participantKey, displayName string, snap *roster.Snapshot, decayRatio float64) (*db.Assignment, error)
	MarkSubmitted(ctx context.Context, participantKey, proofReference string) (*db.Submission, error)
}

// Sink receives best-effort write-backs to the external roster.
type Sink interface {
	RecordPayment(ctx context.Context, participantID string, position int, amount int64, elapsed time.Duration) error
}

// Alerter notifies operators about submissions.
type Alerter interface {
	NotifyProof(ctx context.Context, proofURL, caption string) error
}

type Service struct {
	snapshots  Snapshots
	store      Store
	sink       Sink
	alerter    Alerter
	decayRatio float64
}

func NewService(snapshots Snapshots, store Store, sink Sink, alerter Alerter, decayRatio float64) *Service {
	return &Service{
		snapshots:  snapshots,
		store:      store,
		sink:       sink,
		alerter:    alerter,
		decayRatio: decayRatio,
	}
}

// Quote is what a participant is told when they ask for their amount.
type Quote struct {
	Assignment        *db.Assignment
	TotalParticipants int
	TotalAmount       int64
	// Largest and Smallest are the first and last shares of the schedule.
	Largest      int64
	Smallest     int64
	NextAmount   int64
	DecayPercent float64
}

// Receipt is what a participant is told after submitting proof.
type Receipt struct {
	Submission *db.Submission
}

// eligible resolves the participant against the current roster.
func (s *Service) eligible(ctx context.Context, username string) (*roster.Snapshot, string, error) {
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		if errors.Is(err, roster.ErrUnavailable) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: %v", roster.ErrUnavailable, err)
	}
	id := roster.NormalizeID(username)
	if id == "" || !snap.Contains(id) {
		return nil, "", ErrUnknownParticipant
	}
	if snap.HasPaid(id) {
		return nil, "", ErrAlreadyPaid
	}
	return snap, id, nil
}

// Quote returns the participant's amount, assigning their position on the
// first request.
func (s *Service) Quote(ctx context.Context, participantKey, username string) (*Quote, error) {
	snap, id, err := s.eligible(ctx, username)
	if err != nil {
		return nil, err
	}

	a, err := s.store.GetOrCreateAssignment(ctx, participantKey, id, snap, s.decayRatio)
	if err != nil {
		return nil, fmt.Errorf("assign amount: %w", err)
	}
	if a.Submitted() {
		return nil, ErrAlreadyPaid
	}

	first := alloc.FirstShare(snap.TotalParticipants, snap.TotalAmount, s.decayRatio)
	last := first
	if s.decayRatio != 1 && snap.TotalParticipants > 1 {
		last = first * math.Pow(s.decayRatio, float64(snap.TotalParticipants-1))
	}
	return &Quote{
		Assignment:        a,
		TotalParticipants: snap.TotalParticipants,
		TotalAmount:       snap.TotalAmount,
		Largest:           int64(math.Ceil(first)),
		Smallest:          int64(math.Ceil(last)),
		NextAmount:        int64(math.Ceil(float64(a.AmountDue) * s.decayRatio)),
		DecayPercent:      alloc.DecayPercent(s.decayRatio),
	}, nil
}

// Submit records the participant's proof of payment. The durable record is
// authoritative; the sheet write-back and the operator alert are best effort.
func (s *Service) Submit(ctx context.Context, participantKey, username, proofReference string) (*Receipt, error) {
	_, id, err := s.eligible(ctx, username)
	if err != nil {
		return nil, err
	}

	sub, err := s.store.MarkSubmitted(ctx, participantKey, proofReference)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	s.snapshots.Invalidate()

	if s.sink != nil {
		if err := s.sink.RecordPayment(ctx, id, sub.Position, sub.AmountDue, sub.Elapsed); err != nil {
			log.Printf("payment: sheet write-back failed for %s: %v", id, err)
		}
	}
	if s.alerter != nil {
		caption := fmt.Sprintf("#%d %s %d", sub.Position+1, id, sub.AmountDue)
		if err := s.alerter.NotifyProof(ctx, proofReference, caption); err != nil {
			log.Printf("payment: operator alert failed for %s: %v", id, err)
		}
	}

	return &Receipt{Submission: sub}, nil
}
