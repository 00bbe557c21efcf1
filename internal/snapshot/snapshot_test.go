package snapshot

import (
	"context"
	"testing"

	"leadgate/internal/db"
)

func TestMergeSetsUnknownFact(t *testing.T) {
	snap := New("lead-1")

	merged := Merge(snap, PartialFacts{
		"accounts.nyrion": {Value: "ativo", Confidence: 0.9, Source: "verify"},
	})

	if merged.Accounts["nyrion"] != "ativo" {
		t.Errorf("expected nyrion=ativo, got %q", merged.Accounts["nyrion"])
	}
	if merged.Evidence["accounts.nyrion"] != 0.9 {
		t.Errorf("expected evidence 0.9, got %v", merged.Evidence["accounts.nyrion"])
	}
	// Original must be untouched.
	if snap.Accounts["nyrion"] != StatusUnknown {
		t.Errorf("original snapshot mutated: %q", snap.Accounts["nyrion"])
	}
}

func TestMergeNeverDowngradesToUnknown(t *testing.T) {
	snap := New("lead-1")
	snap = Merge(snap, PartialFacts{
		"accounts.nyrion": {Value: "ativo", Confidence: 0.9},
	})

	merged := Merge(snap, PartialFacts{
		"accounts.nyrion": {Value: StatusUnknown, Confidence: 1.0},
	})

	if merged.Accounts["nyrion"] != "ativo" {
		t.Errorf("concrete fact was downgraded to %q", merged.Accounts["nyrion"])
	}
}

func TestMergeRejectsWeakerEvidence(t *testing.T) {
	snap := New("lead-1")
	snap = Merge(snap, PartialFacts{
		"agreements.can_deposit": {Value: true, Confidence: 0.9},
	})

	merged := Merge(snap, PartialFacts{
		"agreements.can_deposit": {Value: false, Confidence: 0.4},
	})

	if !merged.Agreements["can_deposit"] {
		t.Error("weaker evidence overwrote a stronger fact")
	}

	// Equal confidence is accepted.
	merged = Merge(merged, PartialFacts{
		"agreements.can_deposit": {Value: false, Confidence: 0.9},
	})
	if merged.Agreements["can_deposit"] {
		t.Error("equal-confidence evidence was rejected")
	}
}

func TestMergeIsMonotonic(t *testing.T) {
	s := New("lead-1")
	a := PartialFacts{"deposit.status": {Value: DepositConfirmed, Confidence: 0.8}}
	b := PartialFacts{"deposit.status": {Value: DepositPending, Confidence: 0.3}}

	after := Merge(Merge(s, a), b)
	if after.Deposit["status"] != DepositConfirmed {
		t.Errorf("merge lost information: %q", after.Deposit["status"])
	}
}

func TestMergeSkipsMalformedPaths(t *testing.T) {
	snap := New("lead-1")

	merged := Merge(snap, PartialFacts{
		"nodot":             {Value: "x", Confidence: 1},
		"badgroup.key":      {Value: "x", Confidence: 1},
		"agreements.wrong":  {Value: "not-a-bool-value", Confidence: 1},
		"accounts.quotex":   {Value: "ativo", Confidence: 0.7},
	})

	if merged.Accounts["quotex"] != "ativo" {
		t.Error("valid fact alongside malformed ones was not applied")
	}
	if _, ok := merged.Evidence["nodot"]; ok {
		t.Error("malformed path recorded evidence")
	}
}

func TestExtractCandidates(t *testing.T) {
	c := ExtractCandidates("meu email é joao@example.com, ID 12345678, quero testar")

	if c.Email != "joao@example.com" {
		t.Errorf("email = %q", c.Email)
	}
	if c.NyrionID != "12345678" {
		t.Errorf("nyrion id = %q", c.NyrionID)
	}
	if c.Intent != "teste" {
		t.Errorf("intent = %q", c.Intent)
	}

	facts := c.Facts()
	if facts["accounts.nyrion"].Value != "candidato" {
		t.Error("expected nyrion candidate fact")
	}
	if facts["agreements.wants_test"].Value != true {
		t.Error("expected wants_test fact")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	store := NewStore(database)
	ctx := context.Background()

	// Missing lead yields the default snapshot.
	snap, err := store.Load(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Accounts["nyrion"] != StatusUnknown {
		t.Errorf("default snapshot accounts = %v", snap.Accounts)
	}

	snap = Merge(snap, PartialFacts{
		"agreements.can_deposit": {Value: true, Confidence: 0.95},
		"deposit.status":         {Value: DepositConfirmed, Confidence: 0.95},
	})
	snap.HistorySummary = "confirmou depósito"
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, "lead-1")
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if !loaded.Agreements["can_deposit"] {
		t.Error("can_deposit lost in round trip")
	}
	if loaded.Deposit["status"] != DepositConfirmed {
		t.Errorf("deposit status = %q", loaded.Deposit["status"])
	}
	if loaded.HistorySummary != "confirmou depósito" {
		t.Errorf("history = %q", loaded.HistorySummary)
	}
	if loaded.Evidence["agreements.can_deposit"] != 0.95 {
		t.Errorf("evidence lost: %v", loaded.Evidence)
	}
}
