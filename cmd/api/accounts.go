package main

import (
	"net/http"
	"time"

	"roadassist/account"
)

type providerResponse struct {
	CNIC            string   `json:"cnic"`
	Address         string   `json:"address"`
	ServiceAreas    string   `json:"serviceAreas"`
	Experience      string   `json:"experience,omitempty"`
	VehicleTypes    []string `json:"vehicleTypes"`
	ServiceRadiusKm float64  `json:"serviceRadiusKm"`
	HourlyRate      float64  `json:"hourlyRate"`
	Availability    string   `json:"availability"`
	IsLive          bool     `json:"isLive"`
}

type userResponse struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	FullName  string            `json:"fullName"`
	Phone     string            `json:"phone,omitempty"`
	Role      string            `json:"role"`
	Rating    float64           `json:"rating"`
	Provider  *providerResponse `json:"provider,omitempty"`
	CreatedAt string            `json:"createdAt"`
}

func toUserResponse(u account.User) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Phone:     u.Phone,
		Role:      string(u.Role),
		Rating:    u.Rating,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p := u.Provider; p != nil {
		resp.Provider = &providerResponse{
			CNIC:            p.CNIC,
			Address:         p.Address,
			ServiceAreas:    p.ServiceAreas,
			Experience:      p.Experience,
			VehicleTypes:    p.VehicleTypes,
			ServiceRadiusKm: p.ServiceRadiusKm,
			HourlyRate:      p.HourlyRate,
			Availability:    string(p.Availability),
			IsLive:          p.IsLive,
		}
	}
	return resp
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "malformed JSON body: "+err.Error(), nil)
		return
	}
	user, err := s.accounts.Register(r.Context(), req)
	if err != nil {
		writeAccountError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, "user", toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req account.LoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "malformed JSON body: "+err.Error(), nil)
		return
	}
	result, err := s.accounts.Login(r.Context(), req)
	if err != nil {
		writeAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestIDFrom(r.Context()),
		"token":      result.Token,
		"user":       toUserResponse(result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.GetUserByID(r.Context(), actorFrom(r).ID)
	if err != nil {
		writeAccountError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "user", toUserResponse(*user))
}

func (s *Server) handleSetLive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsLive *bool `json:"isLive"`
	}
	if err := readJSON(r, &req); err != nil || req.IsLive == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "body must be {\"isLive\": true|false}", map[string]any{"field": "isLive"})
		return
	}
	user, err := s.accounts.SetLive(r.Context(), actorFrom(r), *req.IsLive)
	if err != nil {
		writeAccountError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "user", toUserResponse(*user))
}
