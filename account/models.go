package account

import (
	"time"

	"roadassist/identity"
)

type Availability string

const (
	AvailabilityFullTime Availability = "full-time"
	AvailabilityPartTime Availability = "part-time"
)

// User is a requester or provider account. Like the issue model it carries
// no JSON annotations; the HTTP layer owns its own response shapes.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        string
	Role         identity.Role
	Rating       float64
	Provider     *ProviderProfile
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProviderProfile is present only for provider accounts.
type ProviderProfile struct {
	// CNIC is the national identity card number; unique across providers.
	CNIC            string
	Address         string
	ServiceAreas    string
	Experience      string
	VehicleTypes    []string
	ServiceRadiusKm float64
	HourlyRate      float64
	Availability    Availability
	IsLive          bool
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	FullName string         `json:"fullName"`
	Phone    string         `json:"phone"`
	Role     identity.Role  `json:"role"`
	Provider *ProviderInput `json:"provider,omitempty"`
}

// ProviderInput is the profile part of a provider registration.
type ProviderInput struct {
	CNIC            string       `json:"cnic"`
	Address         string       `json:"address"`
	ServiceAreas    string       `json:"serviceAreas"`
	Experience      string       `json:"experience"`
	VehicleTypes    []string     `json:"vehicleTypes"`
	ServiceRadiusKm float64      `json:"serviceRadiusKm"`
	HourlyRate      float64      `json:"hourlyRate"`
	Availability    Availability `json:"availability"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
