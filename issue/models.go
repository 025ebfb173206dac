package issue

import (
	"time"

	"roadassist/geo"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusOffered    Status = "OFFERED"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
)

type VehicleType string

const (
	VehicleCar        VehicleType = "Car"
	VehicleMotorcycle VehicleType = "Motorcycle"
)

func (v VehicleType) Valid() bool {
	return v == VehicleCar || v == VehicleMotorcycle
}

// Issue is a roadside service request together with its offer ledger.
// It is the unit of consistency: offers are only ever changed through the
// issue they belong to.
type Issue struct {
	ID                 string
	OwnerID            string
	Location           geo.Point
	VehicleType        VehicleType
	Description        string
	ExpectedPrice      float64
	Status             Status
	Offers             Ledger
	AcceptedProviderID *string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Offer is a provider's bid on an issue.
type Offer struct {
	ID            string
	Seq           int
	ProviderID    string
	Price         float64
	EstimatedTime float64
	Notes         string
	Status        OfferStatus
	CreatedAt     time.Time
}

// Clone returns a deep copy so callers can mutate the result freely.
func (i Issue) Clone() Issue {
	out := i
	out.Offers = i.Offers.clone()
	if i.AcceptedProviderID != nil {
		id := *i.AcceptedProviderID
		out.AcceptedProviderID = &id
	}
	return out
}

// HasOfferFrom reports whether providerID has bid on the issue.
func (i Issue) HasOfferFrom(providerID string) bool {
	_, ok := i.Offers.ByProvider(providerID)
	return ok
}

// Party is the public summary of a requester or provider.
type Party struct {
	ID       string
	FullName string
	Phone    string
	Rating   float64
}

// View is an issue with the people it references resolved.
type View struct {
	Issue     Issue
	Requester *Party
	Providers map[string]Party
}

// NearbyView is a discovered issue with its requester resolved and its
// distance from the query point.
type NearbyView struct {
	View
	Distance float64
}

// NearbyResult pairs a discovered issue with its distance from the query point.
type NearbyResult struct {
	Issue    Issue
	Distance float64
}
