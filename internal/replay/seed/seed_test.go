package seed

import (
	"fmt"
	"testing"
)

func TestDeriveIsPure(t *testing.T) {
	tests := []struct {
		gameSeed  int64
		entityID  string
		callKind  string
		frame     int64
		callIndex int
	}{
		{99999, "npc1", "dialogue", 15, 0},
		{99999, "npc1", "dialogue", 15, 1},
		{0, "", "", 0, 0},
		{-1, "npc2", "ambient", 1 << 40, 7},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s/%d/%d", tt.entityID, tt.callKind, tt.frame, tt.callIndex), func(t *testing.T) {
			first := Derive(tt.gameSeed, tt.entityID, tt.callKind, tt.frame, tt.callIndex)
			for i := 0; i < 10; i++ {
				if got := Derive(tt.gameSeed, tt.entityID, tt.callKind, tt.frame, tt.callIndex); got != first {
					t.Fatalf("Derive not stable: got %d, want %d", got, first)
				}
			}
		})
	}
}

func TestDeriveEntityDistributionHasNoCollisions(t *testing.T) {
	const samples = 10000
	seen := make(map[uint32]string, samples)
	for i := 0; i < samples; i++ {
		entityID := fmt.Sprintf("entity-%d", i)
		s := Derive(99999, entityID, "dialogue", 15, 0)
		if prev, ok := seen[s]; ok {
			t.Fatalf("seed collision between %q and %q: %d", prev, entityID, s)
		}
		seen[s] = entityID
	}
}

func TestDeriveVariesWithEachInput(t *testing.T) {
	base := Derive(99999, "npc1", "dialogue", 15, 0)
	variants := map[string]uint32{
		"gameSeed":  Derive(99998, "npc1", "dialogue", 15, 0),
		"entityID":  Derive(99999, "npc2", "dialogue", 15, 0),
		"callKind":  Derive(99999, "npc1", "ambient", 15, 0),
		"frame":     Derive(99999, "npc1", "dialogue", 16, 0),
		"callIndex": Derive(99999, "npc1", "dialogue", 15, 1),
	}
	for input, got := range variants {
		if got == base {
			t.Errorf("changing %s did not change the seed", input)
		}
	}
}

func TestNextSeedDisambiguatesRepeatedCalls(t *testing.T) {
	d := NewDeriver(99999)

	first, firstIndex := d.NextSeed("npc1", "dialogue", 15)
	second, secondIndex := d.NextSeed("npc1", "dialogue", 15)

	if firstIndex != 0 || secondIndex != 1 {
		t.Fatalf("expected call indexes 0 and 1, got %d and %d", firstIndex, secondIndex)
	}
	if first == second {
		t.Fatalf("expected distinct seeds for repeated calls, both were %d", first)
	}
	if first != Derive(99999, "npc1", "dialogue", 15, 0) {
		t.Error("first seed does not match Derive with index 0")
	}
	if second != Derive(99999, "npc1", "dialogue", 15, 1) {
		t.Error("second seed does not match Derive with index 1")
	}
}

func TestNextSeedResetsWhenFrameAdvances(t *testing.T) {
	d := NewDeriver(42)

	if _, index := d.NextSeed("npc1", "dialogue", 10); index != 0 {
		t.Fatalf("expected index 0 on frame 10, got %d", index)
	}
	if _, index := d.NextSeed("npc1", "dialogue", 10); index != 1 {
		t.Fatalf("expected index 1 on frame 10, got %d", index)
	}
	if _, index := d.NextSeed("npc1", "dialogue", 11); index != 0 {
		t.Fatalf("expected index reset to 0 on frame 11, got %d", index)
	}
}

func TestNextSeedTracksKeysIndependently(t *testing.T) {
	d := NewDeriver(42)

	_, _ = d.NextSeed("npc1", "dialogue", 5)
	if _, index := d.NextSeed("npc2", "dialogue", 5); index != 0 {
		t.Fatalf("expected independent index for npc2, got %d", index)
	}
	if _, index := d.NextSeed("npc1", "ambient", 5); index != 0 {
		t.Fatalf("expected independent index for ambient kind, got %d", index)
	}
	if _, index := d.NextSeed("npc1", "dialogue", 5); index != 1 {
		t.Fatalf("expected npc1 dialogue to continue at 1, got %d", index)
	}
}
