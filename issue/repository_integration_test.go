package issue

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"roadassist/geo"
	"roadassist/identity"
	"roadassist/outbox"
)

func TestPGRepository_Lifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, tbl := range []string{"issues", "outbox"} {
		if !tableExists(ctx, pool, tbl) {
			t.Skipf("table %s does not exist; ensure migrations are applied", tbl)
		}
	}

	owner := identity.Actor{ID: uuid.NewString(), Role: identity.RoleRequester}
	provA := identity.Actor{ID: uuid.NewString(), Role: identity.RoleProvider}
	provB := identity.Actor{ID: uuid.NewString(), Role: identity.RoleProvider}

	// A spot in the South Atlantic keeps the query clear of other test rows.
	site := geo.Point{Lon: -23.4567, Lat: -41.2345}

	repo := NewRepository(pool, outbox.NewStore(pool))
	svc := NewService(repo, DefaultPolicy())

	created, err := svc.Create(ctx, owner, CreateInput{
		Location:      site,
		VehicleType:   VehicleCar,
		Description:   "battery dead",
		ExpectedPrice: 60,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'issue_id' = $1`, created.ID)
		pool.Exec(ctx2, `DELETE FROM issues WHERE id = $1`, created.ID)
	})

	nearby, err := svc.Nearby(ctx, provA, NearbyQuery{Point: geo.Point{Lon: site.Lon + 0.001, Lat: site.Lat}, MaxDistance: 1000})
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(nearby) != 1 || nearby[0].Issue.ID != created.ID {
		t.Fatalf("expected the new issue nearby, got %+v", nearby)
	}
	if nearby[0].Distance <= 0 || nearby[0].Distance > 1000 {
		t.Fatalf("unexpected distance %f", nearby[0].Distance)
	}

	_, offerA, err := svc.SubmitOffer(ctx, provA, created.ID, OfferInput{Price: 55, EstimatedTime: 20})
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}
	_, offerB, err := svc.SubmitOffer(ctx, provB, created.ID, OfferInput{Price: 50, EstimatedTime: 35, Notes: "jump starter"})
	if err != nil {
		t.Fatalf("submit B: %v", err)
	}
	if _, _, err := svc.SubmitOffer(ctx, provA, created.ID, OfferInput{Price: 40, EstimatedTime: 20}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for repeat offer, got %v", err)
	}

	nearby, err = svc.Nearby(ctx, provA, NearbyQuery{Point: site, MaxDistance: 1000})
	if err != nil {
		t.Fatalf("nearby after offer: %v", err)
	}
	if len(nearby) != 0 {
		t.Fatalf("offered issue must leave discovery, got %d results", len(nearby))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, id := range []string{offerA.ID, offerB.ID} {
		wg.Add(1)
		go func(offerID string) {
			defer wg.Done()
			if _, err := svc.AcceptOffer(ctx, owner, created.ID, offerID); err == nil {
				mu.Lock()
				winners = append(winners, offerID)
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrConflict) {
				t.Errorf("unexpected accept error: %v", err)
			}
		}(id)
	}
	wg.Wait()
	if len(winners) != 1 {
		t.Fatalf("expected exactly one accepted offer, got %v", winners)
	}

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusAccepted || got.Offers.count(OfferAccepted) != 1 || got.Offers.count(OfferRejected) != 1 {
		t.Fatalf("unexpected final issue %+v", got)
	}
	if got.Version != 4 {
		t.Fatalf("expected version 4, got %d", got.Version)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("stored issue invalid: %v", err)
	}

	mine, err := repo.ListByProvider(ctx, provB.ID)
	if err != nil || len(mine) != 1 || mine[0].ID != created.ID {
		t.Fatalf("list by provider: %v %+v", err, mine)
	}

	var events int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE payload->>'issue_id' = $1`, created.ID).Scan(&events); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if events != 4 {
		t.Fatalf("expected 4 outbox events, got %d", events)
	}

	if _, err := repo.Get(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
	if list, err := repo.ListByOwner(ctx, "not-a-uuid"); err != nil || len(list) != 0 {
		t.Fatalf("expected empty list for malformed owner, got %v %v", list, err)
	}
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, name string) bool {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return false
	}
	return exists
}
