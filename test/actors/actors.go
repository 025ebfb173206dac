package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"roadassist/geo"
	"roadassist/identity"
	"roadassist/issue"
	"roadassist/outbox"
)

// Tolerated reports whether err is an expected outcome under contention or
// chaos rather than a defect.
func Tolerated(err error) bool {
	switch issue.KindOf(err) {
	case issue.KindConflict, issue.KindInvalidState, issue.KindUnavailable, issue.KindTimeout:
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func jitter(around geo.Point, spread float64) geo.Point {
	return geo.Point{
		Lon: around.Lon + (rand.Float64()*2-1)*spread,
		Lat: around.Lat + (rand.Float64()*2-1)*spread,
	}
}

func pause(min, span int) {
	time.Sleep(time.Duration(min+rand.Intn(span)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Requester raises issues around area and settles the offers they attract,
// mostly by accepting, sometimes by rejecting.
func Requester(ctx context.Context, svc *issue.Service, actor identity.Actor, area geo.Point, stop <-chan struct{}) error {
	vehicles := []issue.VehicleType{issue.VehicleCar, issue.VehicleMotorcycle}
	for !stopped(ctx, stop) {
		_, err := svc.Create(ctx, actor, issue.CreateInput{
			Location:      jitter(area, 0.01),
			VehicleType:   vehicles[rand.Intn(len(vehicles))],
			Description:   "stress breakdown",
			ExpectedPrice: float64(20 + rand.Intn(200)),
		})
		if err != nil && !Tolerated(err) {
			return fmt.Errorf("requester create: %w", err)
		}

		mine, err := svc.ListMine(ctx, actor)
		if err != nil {
			if Tolerated(err) {
				continue
			}
			return fmt.Errorf("requester list: %w", err)
		}
		for _, view := range mine {
			iss := view.Issue
			if iss.Status != issue.StatusOffered {
				continue
			}
			pending := make([]issue.Offer, 0, len(iss.Offers))
			for _, o := range iss.Offers {
				if o.Status == issue.OfferPending {
					pending = append(pending, o)
				}
			}
			if len(pending) == 0 {
				continue
			}
			pick := pending[rand.Intn(len(pending))]
			if rand.Intn(4) == 0 {
				_, err = svc.RejectOffer(ctx, actor, iss.ID, pick.ID)
			} else {
				_, err = svc.AcceptOffer(ctx, actor, iss.ID, pick.ID)
			}
			if err != nil && !Tolerated(err) {
				return fmt.Errorf("requester settle %s: %w", iss.ID, err)
			}
		}
		pause(10, 30)
	}
	return nil
}

// Provider discovers pending issues around area and bids on them. It also
// re-bids on issues it already holds an offer on, which must always conflict.
func Provider(ctx context.Context, svc *issue.Service, actor identity.Actor, area geo.Point, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		results, err := svc.Nearby(ctx, actor, issue.NearbyQuery{Point: jitter(area, 0.005), MaxDistance: 5000, Limit: 20})
		if err != nil && !Tolerated(err) {
			return fmt.Errorf("provider nearby: %w", err)
		}
		for _, res := range results {
			if rand.Intn(2) == 0 {
				continue
			}
			_, _, err := svc.SubmitOffer(ctx, actor, res.Issue.ID, issue.OfferInput{
				Price:         float64(10 + rand.Intn(250)),
				EstimatedTime: float64(5 + rand.Intn(60)),
			})
			if err != nil && !Tolerated(err) {
				return fmt.Errorf("provider offer %s: %w", res.Issue.ID, err)
			}
		}

		held, err := svc.ListWithMyOffers(ctx, actor)
		if err != nil && !Tolerated(err) {
			return fmt.Errorf("provider list: %w", err)
		}
		if len(held) > 0 {
			target := held[rand.Intn(len(held))].Issue
			_, _, err := svc.SubmitOffer(ctx, actor, target.ID, issue.OfferInput{Price: 1, EstimatedTime: 1})
			if err == nil {
				return fmt.Errorf("provider %s offered twice on %s", actor.ID, target.ID)
			}
			if !Tolerated(err) {
				return fmt.Errorf("provider re-bid %s: %w", target.ID, err)
			}
		}
		pause(15, 35)
	}
	return nil
}

// FlakyPublisher fails roughly one publish in failEvery and counts the rest.
type FlakyPublisher struct {
	FailEvery int
	published atomic.Int64
}

func (p *FlakyPublisher) Publish(ctx context.Context, msg outbox.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.FailEvery > 0 && rand.Intn(p.FailEvery) == 0 {
		return fmt.Errorf("simulated broker failure for %s", msg.ID)
	}
	p.published.Add(1)
	return nil
}

func (p *FlakyPublisher) Published() int64 { return p.published.Load() }

// Relay drains the outbox until stopped. Claim errors from killed backends
// are retried on the next pass.
func Relay(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := relay.RunOnce(ctx); err != nil && ctx.Err() == nil {
			pause(50, 50)
			continue
		}
		pause(50, 100)
	}
	return nil
}
