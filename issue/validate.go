package issue

import (
	"math"
	"strings"

	"roadassist/geo"
)

const (
	// DefaultRadius is the discovery radius in metres when none is given.
	DefaultRadius = 10000.0

	defaultNearbyLimit = 100
	maxNearbyLimit     = 500
)

// Policy holds the configurable rules of the matching engine.
type Policy struct {
	// AllowSelfOffer lets a provider bid on an issue it owns.
	AllowSelfOffer bool
	// DefaultRadius is used by Nearby when the query carries no radius.
	DefaultRadius float64
}

func DefaultPolicy() Policy {
	return Policy{DefaultRadius: DefaultRadius}
}

// CreateInput is the requester-supplied part of a new issue.
type CreateInput struct {
	Location      geo.Point
	VehicleType   VehicleType
	Description   string
	ExpectedPrice float64
}

func (in CreateInput) normalize() (CreateInput, error) {
	if err := in.Location.Validate(); err != nil {
		return CreateInput{}, invalidField("location", err.Error())
	}
	if !in.VehicleType.Valid() {
		return CreateInput{}, invalidField("vehicleType", "must be Car or Motorcycle")
	}
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return CreateInput{}, invalidField("description", "is required")
	}
	if err := nonNegative(in.ExpectedPrice); err != "" {
		return CreateInput{}, invalidField("expectedPrice", err)
	}
	return in, nil
}

// OfferInput is a provider's bid.
type OfferInput struct {
	Price         float64
	EstimatedTime float64
	Notes         string
}

func (in OfferInput) normalize() (OfferInput, error) {
	if err := nonNegative(in.Price); err != "" {
		return OfferInput{}, invalidField("price", err)
	}
	if err := nonNegative(in.EstimatedTime); err != "" {
		return OfferInput{}, invalidField("estimatedTime", err)
	}
	in.Notes = strings.TrimSpace(in.Notes)
	return in, nil
}

// NearbyQuery asks for pending issues around Point. A zero MaxDistance
// selects the policy's default radius; callers that accept user input must
// reject an explicit zero themselves.
type NearbyQuery struct {
	Point       geo.Point
	MaxDistance float64
	Limit       int
}

func (q NearbyQuery) normalize(defaultRadius float64) (NearbyQuery, error) {
	if err := q.Point.Validate(); err != nil {
		return NearbyQuery{}, invalidField("location", err.Error())
	}
	if q.MaxDistance == 0 {
		q.MaxDistance = defaultRadius
	}
	if math.IsNaN(q.MaxDistance) || math.IsInf(q.MaxDistance, 0) || q.MaxDistance <= 0 {
		return NearbyQuery{}, invalidField("maxDistance", "must be a positive number")
	}
	switch {
	case q.Limit < 0:
		return NearbyQuery{}, invalidField("limit", "must not be negative")
	case q.Limit == 0:
		q.Limit = defaultNearbyLimit
	case q.Limit > maxNearbyLimit:
		q.Limit = maxNearbyLimit
	}
	return q, nil
}

func nonNegative(v float64) string {
	switch {
	case math.IsNaN(v), math.IsInf(v, 0):
		return "must be a finite number"
	case v < 0:
		return "must not be negative"
	default:
		return ""
	}
}
