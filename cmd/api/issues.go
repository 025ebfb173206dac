package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"roadassist/geo"
	"roadassist/issue"
)

// pointJSON is a GeoJSON point: coordinates are [longitude, latitude].
type pointJSON struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type createIssueRequest struct {
	Location      *pointJSON `json:"location"`
	VehicleType   string     `json:"vehicleType"`
	Description   string     `json:"description"`
	ExpectedPrice *float64   `json:"expectedPrice"`
}

type submitOfferRequest struct {
	Price         *float64 `json:"price"`
	EstimatedTime *float64 `json:"estimatedTime"`
	Notes         string   `json:"notes"`
}

type partyResponse struct {
	ID       string  `json:"id"`
	FullName string  `json:"fullName"`
	Phone    string  `json:"phone,omitempty"`
	Rating   float64 `json:"rating"`
}

type offerResponse struct {
	ID            string         `json:"id"`
	Seq           int            `json:"seq"`
	ProviderID    string         `json:"providerId"`
	Provider      *partyResponse `json:"provider,omitempty"`
	Price         float64        `json:"price"`
	EstimatedTime float64        `json:"estimatedTime"`
	Notes         string         `json:"notes,omitempty"`
	Status        string         `json:"status"`
	CreatedAt     string         `json:"createdAt"`
}

type issueResponse struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"ownerId"`
	Requester          *partyResponse  `json:"requester,omitempty"`
	Location           pointJSON       `json:"location"`
	VehicleType        string          `json:"vehicleType"`
	Description        string          `json:"description"`
	ExpectedPrice      float64         `json:"expectedPrice"`
	Status             string          `json:"status"`
	Offers             []offerResponse `json:"offers"`
	AcceptedProviderID *string         `json:"acceptedProviderId,omitempty"`
	Distance           *float64        `json:"distance,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          string          `json:"createdAt"`
	UpdatedAt          string          `json:"updatedAt"`
}

func toIssueResponse(iss issue.Issue) issueResponse {
	offers := make([]offerResponse, 0, len(iss.Offers))
	for _, o := range iss.Offers {
		offers = append(offers, offerResponse{
			ID:            o.ID,
			Seq:           o.Seq,
			ProviderID:    o.ProviderID,
			Price:         o.Price,
			EstimatedTime: o.EstimatedTime,
			Notes:         o.Notes,
			Status:        string(o.Status),
			CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return issueResponse{
		ID:                 iss.ID,
		OwnerID:            iss.OwnerID,
		Location:           pointJSON{Type: "Point", Coordinates: []float64{iss.Location.Lon, iss.Location.Lat}},
		VehicleType:        string(iss.VehicleType),
		Description:        iss.Description,
		ExpectedPrice:      iss.ExpectedPrice,
		Status:             string(iss.Status),
		Offers:             offers,
		AcceptedProviderID: iss.AcceptedProviderID,
		Version:            iss.Version,
		CreatedAt:          iss.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          iss.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toViewResponse(view issue.View) issueResponse {
	resp := toIssueResponse(view.Issue)
	if view.Requester != nil {
		resp.Requester = toPartyResponse(*view.Requester)
	}
	for i := range resp.Offers {
		if p, ok := view.Providers[resp.Offers[i].ProviderID]; ok {
			resp.Offers[i].Provider = toPartyResponse(p)
		}
	}
	return resp
}

func toPartyResponse(p issue.Party) *partyResponse {
	return &partyResponse{ID: p.ID, FullName: p.FullName, Phone: p.Phone, Rating: p.Rating}
}

func toViewList(views []issue.View) []issueResponse {
	out := make([]issueResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toViewResponse(v))
	}
	return out
}

func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "malformed JSON body: "+err.Error(), nil)
		return
	}

	in := issue.CreateInput{
		VehicleType: issue.VehicleType(req.VehicleType),
		Description: req.Description,
	}
	switch {
	case req.Location == nil || len(req.Location.Coordinates) != 2:
		writeIssueError(w, r, &issue.FieldError{Field: "location", Reason: "coordinates must be [longitude, latitude]"})
		return
	case req.ExpectedPrice == nil:
		writeIssueError(w, r, &issue.FieldError{Field: "expectedPrice", Reason: "is required"})
		return
	}
	in.Location = geo.Point{Lon: req.Location.Coordinates[0], Lat: req.Location.Coordinates[1]}
	in.ExpectedPrice = *req.ExpectedPrice

	created, err := s.issues.Create(r.Context(), actorFrom(r), in)
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, "issue", toIssueResponse(created))
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lon, _, err := floatParam(q.Get("longitude"), q.Get("lon"), "longitude", true)
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	lat, _, err := floatParam(q.Get("latitude"), q.Get("lat"), "latitude", true)
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	maxDistance, set, err := floatParam(q.Get("maxDistance"), "", "maxDistance", false)
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	if set && !(maxDistance > 0) {
		writeIssueError(w, r, &issue.FieldError{Field: "maxDistance", Reason: "must be a positive number"})
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeIssueError(w, r, &issue.FieldError{Field: "limit", Reason: "must be an integer"})
			return
		}
	}

	results, err := s.issues.Nearby(r.Context(), actorFrom(r), issue.NearbyQuery{
		Point:       geo.Point{Lon: lon, Lat: lat},
		MaxDistance: maxDistance,
		Limit:       limit,
	})
	if err != nil {
		writeIssueError(w, r, err)
		return
	}

	out := make([]issueResponse, 0, len(results))
	for _, res := range results {
		resp := toViewResponse(res.View)
		d := res.Distance
		resp.Distance = &d
		out = append(out, resp)
	}
	writeData(w, r, http.StatusOK, "issues", out)
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request) {
	views, err := s.issues.ListMine(r.Context(), actorFrom(r))
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "issues", toViewList(views))
}

func (s *Server) handleListWithMyOffers(w http.ResponseWriter, r *http.Request) {
	views, err := s.issues.ListWithMyOffers(r.Context(), actorFrom(r))
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "issues", toViewList(views))
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	view, err := s.issues.Get(r.Context(), actorFrom(r), chi.URLParam(r, "issueId"))
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "issue", toViewResponse(view))
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var req submitOfferRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "malformed JSON body: "+err.Error(), nil)
		return
	}
	switch {
	case req.Price == nil:
		writeIssueError(w, r, &issue.FieldError{Field: "price", Reason: "is required"})
		return
	case req.EstimatedTime == nil:
		writeIssueError(w, r, &issue.FieldError{Field: "estimatedTime", Reason: "is required"})
		return
	}

	updated, offer, err := s.issues.SubmitOffer(r.Context(), actorFrom(r), chi.URLParam(r, "issueId"), issue.OfferInput{
		Price:         *req.Price,
		EstimatedTime: *req.EstimatedTime,
		Notes:         req.Notes,
	})
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id": requestIDFrom(r.Context()),
		"issue":      toIssueResponse(updated),
		"offerId":    offer.ID,
	})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	updated, err := s.issues.AcceptOffer(r.Context(), actorFrom(r), chi.URLParam(r, "issueId"), chi.URLParam(r, "offerId"))
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "issue", toIssueResponse(updated))
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	updated, err := s.issues.RejectOffer(r.Context(), actorFrom(r), chi.URLParam(r, "issueId"), chi.URLParam(r, "offerId"))
	if err != nil {
		writeIssueError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "issue", toIssueResponse(updated))
}

// floatParam parses the first non-empty of primary and alias and reports
// whether either was present.
func floatParam(primary, alias, field string, required bool) (float64, bool, error) {
	raw := primary
	if raw == "" {
		raw = alias
	}
	if raw == "" {
		if required {
			return 0, false, &issue.FieldError{Field: field, Reason: "is required"}
		}
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, &issue.FieldError{Field: field, Reason: "must be a number"}
	}
	return v, true, nil
}
