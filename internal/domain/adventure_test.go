package domain

import (
	"encoding/json"
	"testing"
)

func TestDecodeAdventureState_Garbage(t *testing.T) {
	for _, raw := range []string{"", "not json", "[]", "null", `{"spark": 5}`} {
		st := DecodeAdventureState("s1", []byte(raw))
		if st.SessionID != "s1" {
			t.Errorf("%q: session id = %q", raw, st.SessionID)
		}
		if st.Spark != nil || st.Frame != nil {
			t.Errorf("%q: expected nil spark/frame", raw)
		}
		if st.SceneArcs == nil || st.InscribedScenes == nil || st.VersionHistory == nil {
			t.Errorf("%q: collections must be non-nil", raw)
		}
		if st.Components.Confirmed == nil || st.Components.Threads == nil {
			t.Errorf("%q: component lists must be non-nil", raw)
		}
	}
}

func TestDecodeAdventureState_PartialFields(t *testing.T) {
	raw := `{
		"spark": {"name": "Ember", "vision": "a lantern city"},
		"components": {"tier": "2", "span": 7, "threads": ["lost heir"], "confirmedComponents": null},
		"frame": {"name": "Hollowmere"},
		"sceneArcs": [{"id": "a1", "title": "Arrival"}, "bogus", {"id": "a2"}],
		"inscribedScenes": "nope",
		"adventureName": 42
	}`
	st := DecodeAdventureState("s2", []byte(raw))

	if st.Spark == nil || st.Spark.Name != "Ember" {
		t.Fatalf("spark = %+v", st.Spark)
	}
	if v, _ := st.Components.Slot("tier"); v == nil || *v != "2" {
		t.Errorf("tier = %v", v)
	}
	if v, _ := st.Components.Slot("span"); v != nil {
		t.Errorf("malformed span should default to nil, got %q", *v)
	}
	if len(st.Components.Threads) != 1 || st.Components.Confirmed == nil {
		t.Errorf("components lists = %+v", st.Components)
	}
	if st.Frame == nil || st.Frame.Themes == nil {
		t.Errorf("frame themes should default to empty, got %+v", st.Frame)
	}
	if len(st.SceneArcs) != 2 {
		t.Errorf("expected malformed arc to be skipped, got %d arcs", len(st.SceneArcs))
	}
	if len(st.InscribedScenes) != 0 {
		t.Errorf("inscribed scenes = %+v", st.InscribedScenes)
	}
	if st.AdventureName != "" {
		t.Errorf("adventure name = %q", st.AdventureName)
	}
}

func TestAdventureState_RoundTripKeepsShape(t *testing.T) {
	st := NewAdventureState("s3")
	st.Spark = &Spark{Name: "Ember", Vision: "v"}
	st.Components.SetSlot("tenor", "grim")
	st.Components.Confirm("tenor")
	st.Components.Confirm("tenor")

	raw, err := MarshalState(st)
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}
	got := DecodeAdventureState("s3", raw)
	if got.Spark == nil || got.Spark.Vision != "v" {
		t.Errorf("spark = %+v", got.Spark)
	}
	if len(got.Components.Confirmed) != 1 {
		t.Errorf("confirm should be idempotent, got %v", got.Components.Confirmed)
	}
}

func TestRecordVersion(t *testing.T) {
	st := NewAdventureState("s4")
	st.RecordVersion("spark", (*Spark)(nil))
	st.RecordVersion("adventureName", "")
	if len(st.VersionHistory) != 0 {
		t.Fatalf("zero values should not be recorded: %v", st.VersionHistory)
	}

	st.RecordVersion("adventureName", "First")
	st.RecordVersion("adventureName", "Second")
	h := st.VersionHistory["adventureName"]
	if len(h) != 2 {
		t.Fatalf("history = %v", h)
	}
	var first string
	if err := json.Unmarshal(h[0], &first); err != nil || first != "First" {
		t.Errorf("history[0] = %s", h[0])
	}

	for i := 0; i < maxVersionsPerField+5; i++ {
		st.RecordVersion("adventureName", "n")
	}
	if len(st.VersionHistory["adventureName"]) != maxVersionsPerField {
		t.Errorf("history should be capped at %d", maxVersionsPerField)
	}
}

func TestComponents_UnknownSlot(t *testing.T) {
	var c Components
	if _, ok := c.SetSlot("weather", "x"); ok {
		t.Error("unknown slot should be rejected")
	}
	if IsComponentSlot("weather") || !IsComponentSlot("chorus") {
		t.Error("IsComponentSlot mismatch")
	}
}

func TestUpsertInscribed(t *testing.T) {
	st := NewAdventureState("s5")
	if prev := st.UpsertInscribed(InscribedScene{ArcID: "a1", Title: "One"}); prev != nil {
		t.Fatalf("first upsert returned %+v", prev)
	}
	prev := st.UpsertInscribed(InscribedScene{ArcID: "a1", Title: "Two"})
	if prev == nil || prev.Title != "One" {
		t.Fatalf("prev = %+v", prev)
	}
	if len(st.InscribedScenes) != 1 || st.InscribedScenes[0].Title != "Two" {
		t.Errorf("scenes = %+v", st.InscribedScenes)
	}
}
