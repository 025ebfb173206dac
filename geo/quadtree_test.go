package geo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"
)

func TestDistance(t *testing.T) {
	cases := []struct {
		name string
		a, b Point
		want float64
	}{
		{name: "same point", a: Point{Lon: 67, Lat: 24}, b: Point{Lon: 67, Lat: 24}, want: 0},
		{name: "one degree latitude", a: Point{Lon: 0, Lat: 0}, b: Point{Lon: 0, Lat: 1}, want: EarthRadius * math.Pi / 180},
		{name: "one degree longitude on equator", a: Point{Lon: 10, Lat: 0}, b: Point{Lon: 11, Lat: 0}, want: EarthRadius * math.Pi / 180},
		{name: "across antimeridian", a: Point{Lon: 179.5, Lat: 0}, b: Point{Lon: -179.5, Lat: 0}, want: EarthRadius * math.Pi / 180},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(tc.a, tc.b)
			if math.Abs(got-tc.want) > 0.5 {
				t.Fatalf("Distance(%v, %v) = %f, want %f", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestEarthRadiusMatchesEarthdistance(t *testing.T) {
	// earthdistance's earth() is 6378168 m; one degree of arc on it is 111320.03 m.
	got := Distance(Point{Lon: 0, Lat: 0}, Point{Lon: 0, Lat: 1})
	if math.Abs(got-111320.03) > 0.05 {
		t.Fatalf("one degree = %f m, want 111320.03", got)
	}
}

func TestPointValidate(t *testing.T) {
	bad := []Point{
		{Lon: 181, Lat: 0},
		{Lon: 0, Lat: -90.5},
		{Lon: math.NaN(), Lat: 0},
		{Lon: 0, Lat: math.Inf(1)},
	}
	for _, p := range bad {
		if err := p.Validate(); err == nil {
			t.Fatalf("expected %v to be rejected", p)
		}
	}
	if err := (Point{Lon: -180, Lat: 90}).Validate(); err != nil {
		t.Fatalf("edge point rejected: %v", err)
	}
}

func TestIndexWithinMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ix := NewIndex()
	points := map[string]Point{}
	for i := 0; i < 3000; i++ {
		id := fmt.Sprintf("p-%04d", i)
		p := Point{Lon: 60 + rng.Float64()*15, Lat: 20 + rng.Float64()*10}
		points[id] = p
		if err := ix.Insert(id, p); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	for q := 0; q < 25; q++ {
		center := Point{Lon: 60 + rng.Float64()*15, Lat: 20 + rng.Float64()*10}
		radius := 10_000 + rng.Float64()*300_000

		got := ix.Within(center, radius)
		want := bruteForce(points, center, radius)
		assertSameMatches(t, got, want)
	}
}

func TestIndexWithinAcrossAntimeridian(t *testing.T) {
	ix := NewIndex()
	points := map[string]Point{
		"east": {Lon: 179.95, Lat: 10},
		"west": {Lon: -179.95, Lat: 10},
		"far":  {Lon: 170, Lat: 10},
	}
	for id, p := range points {
		if err := ix.Insert(id, p); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	got := ix.Within(Point{Lon: -179.99, Lat: 10}, 50_000)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches across the antimeridian, got %+v", got)
	}
	if got[0].ID != "west" || got[1].ID != "east" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestIndexRemoveAndMove(t *testing.T) {
	ix := NewIndex()
	for i := 0; i < 100; i++ {
		if err := ix.Insert(fmt.Sprintf("id-%d", i), Point{Lon: 67 + float64(i)*0.0001, Lat: 24}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	ix.Remove("id-0")
	ix.Remove("missing")
	if ix.Len() != 99 {
		t.Fatalf("expected 99 points, got %d", ix.Len())
	}
	for _, m := range ix.Within(Point{Lon: 67, Lat: 24}, 5_000) {
		if m.ID == "id-0" {
			t.Fatalf("removed point returned by query")
		}
	}

	if err := ix.Insert("id-1", Point{Lon: -70, Lat: -33}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if ix.Len() != 99 {
		t.Fatalf("move changed size: %d", ix.Len())
	}
	got := ix.Within(Point{Lon: -70, Lat: -33}, 10)
	if len(got) != 1 || got[0].ID != "id-1" {
		t.Fatalf("moved point not found at new location: %+v", got)
	}
}

func TestIndexInsertRejectsInvalidPoint(t *testing.T) {
	ix := NewIndex()
	if err := ix.Insert("bad", Point{Lon: 200, Lat: 0}); err == nil {
		t.Fatal("expected invalid point error")
	}
	if ix.Has("bad") {
		t.Fatal("invalid point was indexed")
	}
}

func bruteForce(points map[string]Point, center Point, radius float64) []Match {
	var out []Match
	for id, p := range points {
		d := Distance(center, p)
		if d <= radius {
			out = append(out, Match{ID: id, Point: p, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func assertSameMatches(t *testing.T, got, want []Match) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Fatalf("match %d: expected %s, got %s", i, want[i].ID, got[i].ID)
		}
		if i > 0 && got[i].Distance < got[i-1].Distance {
			t.Fatalf("matches not sorted at %d", i)
		}
	}
}
