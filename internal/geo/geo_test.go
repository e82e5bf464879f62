package geo

import (
	"math"
	"testing"
)

func TestHaversineKm_Zero(t *testing.T) {
	p := Point{Lat: 24.7136, Lng: 46.6753}
	if d := HaversineKm(p, p); d != 0 {
		t.Errorf("expected 0 for identical points, got %f", d)
	}
}

func TestHaversineKm_Commutative(t *testing.T) {
	a := Point{Lat: 24.7136, Lng: 46.6753}
	b := Point{Lat: 25.2048, Lng: 55.2708}

	if math.Abs(HaversineKm(a, b)-HaversineKm(b, a)) > 1e-9 {
		t.Error("expected HaversineKm to be commutative")
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Riyadh to Dubai, roughly 870km great-circle.
	riyadh := Point{Lat: 24.7136, Lng: 46.6753}
	dubai := Point{Lat: 25.2048, Lng: 55.2708}

	d := HaversineKm(riyadh, dubai)
	if d < 800 || d > 950 {
		t.Errorf("expected distance in [800,950]km, got %f", d)
	}
}

func TestHaversineKm_NonNegative(t *testing.T) {
	a := Point{Lat: -10, Lng: -20}
	b := Point{Lat: 10, Lng: 20}
	if HaversineKm(a, b) < 0 {
		t.Error("distance must be non-negative")
	}
}

func TestStraightLineMinutes_DefaultSpeed(t *testing.T) {
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 0, Lng: 1}

	km := HaversineKm(a, b)
	want := km / DefaultSpeedKph * 60.0

	got := StraightLineMinutes(a, b, 0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %f minutes, got %f", want, got)
	}
}

func TestStraightLineMinutes_CustomSpeed(t *testing.T) {
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 0, Lng: 1}

	slow := StraightLineMinutes(a, b, 10)
	fast := StraightLineMinutes(a, b, 60)

	if slow <= fast {
		t.Error("expected slower speed to take longer")
	}
}
