package cache

import (
	"context"
	"testing"
	"time"
)

func TestNearestPickupCache_SetGet(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	npc := NewNearestPickupCache(memCache, 5*time.Minute)

	ctx := context.Background()
	result := &CachedNearestPickup{PickupID: "P1", DistanceKm: 2.4}

	if err := npc.Set(ctx, 24.7136, 46.6753, result, 0); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	got, found, err := npc.Get(ctx, 24.7136, 46.6753)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !found {
		t.Fatal("expected to find cached result")
	}
	if got.PickupID != "P1" {
		t.Errorf("expected pickup P1, got %s", got.PickupID)
	}
	if got.DistanceKm != 2.4 {
		t.Errorf("expected distance 2.4, got %f", got.DistanceKm)
	}
}

func TestNearestPickupCache_GetNotFound(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	npc := NewNearestPickupCache(memCache, 5*time.Minute)

	result, found, err := npc.Get(context.Background(), 1.0, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected not found")
	}
	if result != nil {
		t.Error("expected nil result")
	}
}

func TestNearestPickupCache_NearbyCoordinatesShareEntry(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	npc := NewNearestPickupCache(memCache, 5*time.Minute)
	ctx := context.Background()

	npc.Set(ctx, 24.71360, 46.67530, &CachedNearestPickup{PickupID: "P1"}, 0)

	got, found, _ := npc.Get(ctx, 24.71361, 46.67531)
	if !found {
		t.Fatal("expected nearby coordinate to hit the same cache entry")
	}
	if got.PickupID != "P1" {
		t.Errorf("expected P1, got %s", got.PickupID)
	}
}

func TestNearestPickupCache_Invalidate(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	npc := NewNearestPickupCache(memCache, 5*time.Minute)
	ctx := context.Background()

	npc.Set(ctx, 24.7136, 46.6753, &CachedNearestPickup{PickupID: "P1"}, 0)

	if err := npc.Invalidate(ctx, 24.7136, 46.6753); err != nil {
		t.Fatalf("failed to invalidate: %v", err)
	}

	_, found, _ := npc.Get(ctx, 24.7136, 46.6753)
	if found {
		t.Error("expected cache to be invalidated")
	}
}

func TestNearestPickupCache_InvalidateAll(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	npc := NewNearestPickupCache(memCache, 5*time.Minute)
	ctx := context.Background()

	npc.Set(ctx, 24.7136, 46.6753, &CachedNearestPickup{PickupID: "P1"}, 0)
	npc.Set(ctx, 25.2048, 55.2708, &CachedNearestPickup{PickupID: "P2"}, 0)

	count, err := npc.InvalidateAll(ctx)
	if err != nil {
		t.Fatalf("failed to invalidate all: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 invalidated, got %d", count)
	}
}
