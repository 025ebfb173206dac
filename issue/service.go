package issue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"roadassist/identity"
)

const defaultOperationTimeout = 5 * time.Second

// Directory resolves public summaries for the people an issue references.
type Directory interface {
	Summaries(ctx context.Context, ids []string) (map[string]Party, error)
}

type Service struct {
	repo        Repository
	directory   Directory
	policy      Policy
	timeout     time.Duration
	now         func() time.Time
	idGenerator func() string
	logger      *slog.Logger
}

func NewService(repo Repository, policy Policy) *Service {
	if policy.DefaultRadius <= 0 {
		policy.DefaultRadius = DefaultRadius
	}
	return &Service{
		repo:        repo,
		policy:      policy,
		timeout:     defaultOperationTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: uuid.NewString,
		logger:      slog.Default(),
	}
}

// WithClock overrides the time source; used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides issue and offer id generation; used in tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.idGenerator = gen
	}
	return s
}

func (s *Service) WithDirectory(d Directory) *Service {
	s.directory = d
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithTimeout bounds every operation. Zero or negative leaves the default.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func (s *Service) Policy() Policy { return s.policy }

func (s *Service) Create(ctx context.Context, actor identity.Actor, in CreateInput) (Issue, error) {
	if !actor.IsRequester() {
		return Issue{}, fmt.Errorf("issue: only requesters create issues: %w", ErrForbidden)
	}
	in, err := in.normalize()
	if err != nil {
		return Issue{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	iss := newIssue(s.idGenerator(), actor, in, s.now())
	created := Event{
		Topic:   TopicIssueCreated,
		IssueID: iss.ID,
		Payload: map[string]any{
			"issue_id":       iss.ID,
			"owner_id":       iss.OwnerID,
			"lon":            iss.Location.Lon,
			"lat":            iss.Location.Lat,
			"vehicle_type":   iss.VehicleType,
			"expected_price": iss.ExpectedPrice,
		},
	}
	if err := s.repo.Create(ctx, iss, created); err != nil {
		return Issue{}, s.fail(ctx, "create", iss.ID, actor, err)
	}

	s.logger.InfoContext(ctx, "issue created",
		slog.String("issue_id", iss.ID),
		slog.String("owner_id", actor.ID),
		slog.String("status", string(iss.Status)),
	)
	return iss, nil
}

// Nearby returns pending issues around the query point, closest first, with
// each requester resolved.
func (s *Service) Nearby(ctx context.Context, actor identity.Actor, q NearbyQuery) ([]NearbyView, error) {
	if !actor.IsProvider() {
		return nil, fmt.Errorf("issue: only providers discover issues: %w", ErrForbidden)
	}
	q, err := q.normalize(s.policy.DefaultRadius)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results, err := s.repo.Nearby(ctx, q)
	if err != nil {
		return nil, s.fail(ctx, "nearby", "", actor, err)
	}
	issues := make([]Issue, 0, len(results))
	for _, res := range results {
		issues = append(issues, res.Issue)
	}
	views, err := s.resolve(ctx, issues)
	if err != nil {
		return nil, s.fail(ctx, "resolve parties", "", actor, err)
	}

	out := make([]NearbyView, 0, len(results))
	for i, res := range results {
		out = append(out, NearbyView{View: views[i], Distance: res.Distance})
	}
	return out, nil
}

func (s *Service) SubmitOffer(ctx context.Context, actor identity.Actor, issueID string, in OfferInput) (Issue, Offer, error) {
	if !actor.IsProvider() {
		return Issue{}, Offer{}, fmt.Errorf("issue: only providers submit offers: %w", ErrForbidden)
	}
	if issueID == "" {
		return Issue{}, Offer{}, invalidField("issueId", "is required")
	}
	in, err := in.normalize()
	if err != nil {
		return Issue{}, Offer{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	offerID := s.idGenerator()
	updated, err := s.apply(ctx, "submit offer", issueID, actor, submitOffer(actor, in, s.policy, offerID, s.now()))
	if err != nil {
		return Issue{}, Offer{}, err
	}
	offer, _ := updated.Offers.Find(offerID)
	return updated, offer, nil
}

func (s *Service) AcceptOffer(ctx context.Context, actor identity.Actor, issueID, offerID string) (Issue, error) {
	if !actor.IsRequester() {
		return Issue{}, fmt.Errorf("issue: only requesters accept offers: %w", ErrForbidden)
	}
	if err := requireIDs(issueID, offerID); err != nil {
		return Issue{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.apply(ctx, "accept offer", issueID, actor, acceptOffer(actor, offerID, s.now()))
}

func (s *Service) RejectOffer(ctx context.Context, actor identity.Actor, issueID, offerID string) (Issue, error) {
	if !actor.IsRequester() {
		return Issue{}, fmt.Errorf("issue: only requesters reject offers: %w", ErrForbidden)
	}
	if err := requireIDs(issueID, offerID); err != nil {
		return Issue{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.apply(ctx, "reject offer", issueID, actor, rejectOffer(actor, offerID, s.now()))
}

// ListMine returns the caller's own issues, newest first, with the offering
// providers resolved.
func (s *Service) ListMine(ctx context.Context, actor identity.Actor) ([]View, error) {
	if !actor.IsRequester() {
		return nil, fmt.Errorf("issue: only requesters own issues: %w", ErrForbidden)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	issues, err := s.repo.ListByOwner(ctx, actor.ID)
	if err != nil {
		return nil, s.fail(ctx, "list mine", "", actor, err)
	}
	views, err := s.resolve(ctx, issues)
	if err != nil {
		return nil, s.fail(ctx, "resolve parties", "", actor, err)
	}
	return views, nil
}

// ListWithMyOffers returns issues the calling provider has bid on, newest
// first, with requesters resolved.
func (s *Service) ListWithMyOffers(ctx context.Context, actor identity.Actor) ([]View, error) {
	if !actor.IsProvider() {
		return nil, fmt.Errorf("issue: only providers hold offers: %w", ErrForbidden)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	issues, err := s.repo.ListByProvider(ctx, actor.ID)
	if err != nil {
		return nil, s.fail(ctx, "list with my offers", "", actor, err)
	}
	views, err := s.resolve(ctx, issues)
	if err != nil {
		return nil, s.fail(ctx, "resolve parties", "", actor, err)
	}
	return views, nil
}

// Get returns the issue with requester and provider summaries. A missing
// directory or a person it cannot resolve leaves the summary empty.
func (s *Service) Get(ctx context.Context, actor identity.Actor, issueID string) (View, error) {
	if actor.ID == "" {
		return View{}, fmt.Errorf("issue: %w: %w", ErrForbidden, identity.ErrMissing)
	}
	if issueID == "" {
		return View{}, invalidField("issueId", "is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	iss, err := s.repo.Get(ctx, issueID)
	if err != nil {
		return View{}, s.fail(ctx, "get", issueID, actor, err)
	}
	views, err := s.resolve(ctx, []Issue{iss})
	if err != nil {
		return View{}, s.fail(ctx, "resolve parties", issueID, actor, err)
	}
	return views[0], nil
}

// resolve looks up every owner and bidding provider of issues with a single
// directory call.
func (s *Service) resolve(ctx context.Context, issues []Issue) ([]View, error) {
	views := make([]View, len(issues))
	for i, iss := range issues {
		views[i] = View{Issue: iss, Providers: map[string]Party{}}
	}
	if s.directory == nil || len(issues) == 0 {
		return views, nil
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0, len(issues)*2)
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, iss := range issues {
		add(iss.OwnerID)
		for _, o := range iss.Offers {
			add(o.ProviderID)
		}
	}

	parties, err := s.directory.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range views {
		if owner, ok := parties[views[i].Issue.OwnerID]; ok {
			views[i].Requester = &owner
		}
		for _, o := range views[i].Issue.Offers {
			if p, ok := parties[o.ProviderID]; ok {
				views[i].Providers[o.ProviderID] = p
			}
		}
	}
	return views, nil
}

func (s *Service) apply(ctx context.Context, op, issueID string, actor identity.Actor, fn Transition) (Issue, error) {
	var from Status
	observed := func(iss *Issue) (Event, error) {
		from = iss.Status
		return fn(iss)
	}

	updated, err := s.repo.Apply(ctx, issueID, observed)
	if err != nil {
		return Issue{}, s.fail(ctx, op, issueID, actor, err)
	}

	s.logger.InfoContext(ctx, "issue "+op,
		slog.String("issue_id", issueID),
		slog.String("actor_id", actor.ID),
		slog.String("from", string(from)),
		slog.String("to", string(updated.Status)),
		slog.Int64("version", updated.Version),
	)
	return updated, nil
}

func (s *Service) fail(ctx context.Context, op, issueID string, actor identity.Actor, err error) error {
	err = classify(op, err)
	attrs := []any{
		slog.String("op", op),
		slog.String("actor_id", actor.ID),
		slog.String("error", err.Error()),
	}
	if issueID != "" {
		attrs = append(attrs, slog.String("issue_id", issueID))
	}
	switch KindOf(err) {
	case KindConflict, KindInvalidState:
		s.logger.WarnContext(ctx, "issue operation rejected", attrs...)
	case KindUnavailable, KindTimeout, KindInternal:
		s.logger.ErrorContext(ctx, "issue operation failed", attrs...)
	}
	return err
}

func requireIDs(issueID, offerID string) error {
	if issueID == "" {
		return invalidField("issueId", "is required")
	}
	if offerID == "" {
		return invalidField("offerId", "is required")
	}
	return nil
}
