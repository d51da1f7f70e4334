package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ProposalKind distinguishes location and attraction cards.
type ProposalKind string

const (
	ProposalLocation   ProposalKind = "location"
	ProposalAttraction ProposalKind = "attraction"
)

// DecisionState is the state of a proposal card.
type DecisionState string

const (
	DecisionPending  DecisionState = "pending"
	DecisionRejected DecisionState = "rejected"
	DecisionRated    DecisionState = "rated"
)

// MinRating and MaxRating bound a rated decision.
const (
	MinRating = 1
	MaxRating = 3
)

var ErrInvalidDecision = errors.New("invalid decision")

// Decision is pending, rejected, or rated with a score in [MinRating, MaxRating].
type Decision struct {
	State  DecisionState `json:"state"`
	Rating int           `json:"rating,omitempty"`
}

// Pending returns the initial decision.
func Pending() Decision { return Decision{State: DecisionPending} }

// Reject returns a rejected decision.
func Reject() Decision { return Decision{State: DecisionRejected} }

// Rate returns a rated decision or an error when n is out of range.
func Rate(n int) (Decision, error) {
	d := Decision{State: DecisionRated, Rating: n}
	if err := d.Validate(); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// ParseDecision accepts "reject" or a rating digit.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "reject", "rejected":
		return Reject(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
	return Rate(n)
}

// Validate checks the decision is well formed.
func (d Decision) Validate() error {
	switch d.State {
	case DecisionPending, DecisionRejected:
		if d.Rating != 0 {
			return fmt.Errorf("%w: %s decision carries a rating", ErrInvalidDecision, d.State)
		}
		return nil
	case DecisionRated:
		if d.Rating < MinRating || d.Rating > MaxRating {
			return fmt.Errorf("%w: rating %d outside %d..%d", ErrInvalidDecision, d.Rating, MinRating, MaxRating)
		}
		return nil
	case "":
		return fmt.Errorf("%w: empty state", ErrInvalidDecision)
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidDecision, d.State)
	}
}

// IsPending treats the zero value as pending.
func (d Decision) IsPending() bool {
	return d.State == DecisionPending || d.State == ""
}

func (d Decision) String() string {
	if d.State == DecisionRated {
		return fmt.Sprintf("rated(%d)", d.Rating)
	}
	if d.State == "" {
		return string(DecisionPending)
	}
	return string(d.State)
}

// Proposal is a location or attraction suggestion attached to a message.
type Proposal struct {
	ID          string       `json:"id"`
	Kind        ProposalKind `json:"kind"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	Decision    Decision     `json:"decision"`
}
