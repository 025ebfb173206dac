package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"roadassist/identity"
)

func providerRequest() RegisterRequest {
	return RegisterRequest{
		Email:    "Tow.Co@Example.com",
		Password: "supersafe",
		FullName: "Tow Co",
		Phone:    "+92-300-1234567",
		Role:     identity.RoleProvider,
		Provider: &ProviderInput{
			CNIC:            "42101-1234567-1",
			Address:         "Shahrah-e-Faisal, Karachi",
			ServiceAreas:    "Clifton, Saddar, DHA",
			VehicleTypes:    []string{"Car", "Motorcycle"},
			ServiceRadiusKm: 15,
			HourlyRate:      1200,
		},
	}
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "supersafe",
		FullName: "Alice Requester",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if user.Role != identity.RoleRequester {
		t.Fatalf("register: expected default role %s got %s", identity.RoleRequester, user.Role)
	}
	if user.Provider != nil {
		t.Fatalf("requester must not carry a provider profile")
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: "ALICE@example.com", Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	actor, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if actor.ID != user.ID || actor.Role != identity.RoleRequester {
		t.Fatalf("verify token: unexpected actor %+v", actor)
	}
}

func TestService_RegisterProvider(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	user, err := svc.Register(context.Background(), providerRequest())
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
	if user.Email != "tow.co@example.com" {
		t.Errorf("email not normalised: %q", user.Email)
	}
	if user.Provider == nil || user.Provider.Availability != AvailabilityFullTime || user.Provider.IsLive {
		t.Fatalf("unexpected provider profile %+v", user.Provider)
	}

	missing := providerRequest()
	missing.Email = "other@example.com"
	missing.Provider = nil
	if _, err := svc.Register(context.Background(), missing); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without profile, got %v", err)
	}

	badVehicle := providerRequest()
	badVehicle.Email = "third@example.com"
	badVehicle.Provider.VehicleTypes = []string{"Bike"}
	if _, err := svc.Register(context.Background(), badVehicle); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown vehicle type, got %v", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "short",
		FullName: "Alice Requester",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing fields, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice",
		Role:     "admin",
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown role, got %v", err)
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Requester",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	req.Email = " Alice@Example.com "
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_DuplicateCNIC(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")
	ctx := context.Background()

	if _, err := svc.Register(ctx, providerRequest()); err != nil {
		t.Fatalf("first provider: %v", err)
	}

	second := providerRequest()
	second.Email = "other.tow@example.com"
	second.Provider.CNIC = " 42101-1234567-1 "
	if _, err := svc.Register(ctx, second); !errors.Is(err, ErrDuplicateCNIC) {
		t.Fatalf("expected ErrDuplicateCNIC, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: second.Email, Password: second.Password}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("rejected provider must not be stored, login gave %v", err)
	}

	for name, mutate := range map[string]func(*ProviderInput){
		"missing cnic":          func(p *ProviderInput) { p.CNIC = "  " },
		"missing service areas": func(p *ProviderInput) { p.ServiceAreas = "" },
	} {
		req := providerRequest()
		req.Email = "fresh@example.com"
		mutate(req.Provider)
		if _, err := svc.Register(ctx, req); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")
	ctx := context.Background()

	if _, err := svc.Login(ctx, LoginRequest{Email: "unknown@example.com", Password: "irrelevant"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.Register(ctx, RegisterRequest{Email: "bob@example.com", Password: "correct-horse", FullName: "Bob"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "bob@example.com", Password: "wrong-horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
}

func TestService_VerifyTokenRejects(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := issued
	repo := NewMemoryRepository()
	svc := NewService(repo, "test-secret").WithTokenTTL(time.Hour).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Email: "carol@example.com", Password: "longenough", FullName: "Carol"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := svc.Login(ctx, LoginRequest{Email: "carol@example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewService(repo, "different-secret").WithClock(func() time.Time { return now })
	if _, err := other.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	now = issued.Add(2 * time.Hour)
	if _, err := svc.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := svc.VerifyToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestService_SetLiveAndSummaries(t *testing.T) {
	svc := NewService(NewMemoryRepository(), "test-secret")
	ctx := context.Background()

	provider, err := svc.Register(ctx, providerRequest())
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
	requester, err := svc.Register(ctx, RegisterRequest{Email: "dan@example.com", Password: "longenough", FullName: "Dan", Phone: "+92-321-0000000"})
	if err != nil {
		t.Fatalf("register requester: %v", err)
	}

	updated, err := svc.SetLive(ctx, identity.Actor{ID: provider.ID, Role: identity.RoleProvider}, true)
	if err != nil {
		t.Fatalf("set live: %v", err)
	}
	if !updated.Provider.IsLive {
		t.Fatalf("expected provider to be live")
	}
	if _, err := svc.SetLive(ctx, identity.Actor{ID: requester.ID, Role: identity.RoleRequester}, true); !errors.Is(err, ErrNotProvider) {
		t.Fatalf("expected ErrNotProvider, got %v", err)
	}

	parties, err := svc.Summaries(ctx, []string{requester.ID, provider.ID, provider.ID, "ghost"})
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(parties) != 2 {
		t.Fatalf("expected 2 parties, got %+v", parties)
	}
	if p := parties[requester.ID]; p.FullName != "Dan" || p.Phone != "+92-321-0000000" {
		t.Fatalf("unexpected requester summary %+v", p)
	}
}
