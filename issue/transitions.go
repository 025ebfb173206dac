package issue

import (
	"fmt"
	"time"

	"roadassist/identity"
)

// edges is the complete set of status transitions the matching engine may
// perform. IN_PROGRESS, COMPLETED and CANCELLED have no inbound edge here and
// an issue whose offers are all rejected stays OFFERED; lifecycle operations
// for those cases register their edge in this table.
var edges = map[Status][]Status{
	StatusPending: {StatusOffered},
	StatusOffered: {StatusAccepted},
}

// CanTransition reports whether from -> to is a defined edge.
func CanTransition(from, to Status) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (i *Issue) advance(to Status) error {
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("issue: %s cannot move from %s to %s: %w", i.ID, i.Status, to, ErrInvalidState)
	}
	i.Status = to
	return nil
}

// Transition mutates a freshly loaded aggregate and describes what happened.
// A Transition must either fail without side effects or leave the aggregate
// satisfying Validate.
type Transition func(iss *Issue) (Event, error)

func newIssue(id string, owner identity.Actor, in CreateInput, now time.Time) Issue {
	return Issue{
		ID:            id,
		OwnerID:       owner.ID,
		Location:      in.Location,
		VehicleType:   in.VehicleType,
		Description:   in.Description,
		ExpectedPrice: in.ExpectedPrice,
		Status:        StatusPending,
		Offers:        Ledger{},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func submitOffer(actor identity.Actor, in OfferInput, policy Policy, offerID string, now time.Time) Transition {
	return func(iss *Issue) (Event, error) {
		if !policy.AllowSelfOffer && actor.ID == iss.OwnerID {
			return Event{}, fmt.Errorf("issue: owner cannot bid on own issue %s: %w", iss.ID, ErrForbidden)
		}
		if iss.Status != StatusPending && iss.Status != StatusOffered {
			return Event{}, fmt.Errorf("issue: %s is no longer accepting offers (status=%s): %w", iss.ID, iss.Status, ErrInvalidState)
		}

		previous := iss.Status
		offer := Offer{
			ID:            offerID,
			ProviderID:    actor.ID,
			Price:         in.Price,
			EstimatedTime: in.EstimatedTime,
			Notes:         in.Notes,
			CreatedAt:     now,
		}
		if err := iss.Offers.appendOffer(offer); err != nil {
			return Event{}, err
		}
		if iss.Status == StatusPending {
			if err := iss.advance(StatusOffered); err != nil {
				return Event{}, err
			}
		}
		iss.UpdatedAt = now

		return Event{
			Topic:   TopicOfferSubmitted,
			IssueID: iss.ID,
			Payload: map[string]any{
				"issue_id":        iss.ID,
				"offer_id":        offerID,
				"provider_id":     actor.ID,
				"price":           in.Price,
				"estimated_time":  in.EstimatedTime,
				"previous_status": previous,
				"status":          iss.Status,
			},
		}, nil
	}
}

func acceptOffer(actor identity.Actor, offerID string, now time.Time) Transition {
	return func(iss *Issue) (Event, error) {
		if actor.ID != iss.OwnerID {
			return Event{}, fmt.Errorf("issue: %s does not belong to caller: %w", iss.ID, ErrForbidden)
		}
		if iss.Status != StatusOffered {
			return Event{}, fmt.Errorf("issue: %s cannot accept offers (status=%s): %w", iss.ID, iss.Status, ErrInvalidState)
		}
		idx := iss.Offers.index(offerID)
		if idx < 0 {
			return Event{}, fmt.Errorf("issue: offer %s: %w", offerID, ErrNotFound)
		}
		target := iss.Offers[idx]
		if target.Status != OfferPending {
			return Event{}, fmt.Errorf("issue: offer %s is %s: %w", offerID, target.Status, ErrInvalidState)
		}

		if err := iss.advance(StatusAccepted); err != nil {
			return Event{}, err
		}
		iss.Offers.acceptOnly(idx)
		provider := target.ProviderID
		iss.AcceptedProviderID = &provider
		iss.UpdatedAt = now

		return Event{
			Topic:   TopicOfferAccepted,
			IssueID: iss.ID,
			Payload: map[string]any{
				"issue_id":    iss.ID,
				"offer_id":    offerID,
				"provider_id": provider,
				"owner_id":    iss.OwnerID,
				"rejected":    len(iss.Offers) - 1,
			},
		}, nil
	}
}

func rejectOffer(actor identity.Actor, offerID string, now time.Time) Transition {
	return func(iss *Issue) (Event, error) {
		if actor.ID != iss.OwnerID {
			return Event{}, fmt.Errorf("issue: %s does not belong to caller: %w", iss.ID, ErrForbidden)
		}
		idx := iss.Offers.index(offerID)
		if idx < 0 {
			return Event{}, fmt.Errorf("issue: offer %s: %w", offerID, ErrNotFound)
		}
		if status := iss.Offers[idx].Status; status != OfferPending {
			return Event{}, fmt.Errorf("issue: offer %s is %s: %w", offerID, status, ErrInvalidState)
		}

		iss.Offers.reject(idx)
		iss.UpdatedAt = now

		return Event{
			Topic:   TopicOfferRejected,
			IssueID: iss.ID,
			Payload: map[string]any{
				"issue_id":    iss.ID,
				"offer_id":    offerID,
				"provider_id": iss.Offers[idx].ProviderID,
				"pending":     iss.Offers.count(OfferPending),
			},
		}, nil
	}
}

// Validate checks the aggregate invariants: one offer per provider, at most
// one accepted offer, and ACCEPTED status exactly when the accepted offer and
// AcceptedProviderID agree.
func (i Issue) Validate() error {
	providers := make(map[string]struct{}, len(i.Offers))
	ids := make(map[string]struct{}, len(i.Offers))
	for _, o := range i.Offers {
		if _, dup := providers[o.ProviderID]; dup {
			return fmt.Errorf("issue: %s has two offers from provider %s: %w", i.ID, o.ProviderID, ErrInternal)
		}
		providers[o.ProviderID] = struct{}{}
		if _, dup := ids[o.ID]; dup {
			return fmt.Errorf("issue: %s has duplicate offer id %s: %w", i.ID, o.ID, ErrInternal)
		}
		ids[o.ID] = struct{}{}
	}

	accepted := i.Offers.count(OfferAccepted)
	if accepted > 1 {
		return fmt.Errorf("issue: %s has %d accepted offers: %w", i.ID, accepted, ErrInternal)
	}

	switch i.Status {
	case StatusPending:
		if len(i.Offers) > 0 {
			return fmt.Errorf("issue: %s is pending with %d offers: %w", i.ID, len(i.Offers), ErrInternal)
		}
		fallthrough
	case StatusOffered:
		if accepted != 0 || i.AcceptedProviderID != nil {
			return fmt.Errorf("issue: %s is %s with an accepted offer: %w", i.ID, i.Status, ErrInternal)
		}
	case StatusAccepted:
		offer, ok := i.Offers.Accepted()
		if !ok || i.AcceptedProviderID == nil || *i.AcceptedProviderID != offer.ProviderID {
			return fmt.Errorf("issue: %s is accepted without a matching offer: %w", i.ID, ErrInternal)
		}
		if pending := i.Offers.count(OfferPending); pending != 0 {
			return fmt.Errorf("issue: %s is accepted with %d pending offers: %w", i.ID, pending, ErrInternal)
		}
	}
	return nil
}
