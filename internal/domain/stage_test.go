package domain

import "testing"

func TestStageOrder_IsTotalAndFixed(t *testing.T) {
	want := []Stage{StageInvoking, StageAttuning, StageBinding, StageWeaving, StageInscribing, StageDelivering}
	if len(StageOrder) != len(want) {
		t.Fatalf("StageOrder has %d stages, want %d", len(StageOrder), len(want))
	}
	for i, s := range want {
		if StageOrder[i] != s {
			t.Errorf("StageOrder[%d] = %s, want %s", i, StageOrder[i], s)
		}
		if StageIndex(s) != i {
			t.Errorf("StageIndex(%s) = %d, want %d", s, StageIndex(s), i)
		}
	}
}

func TestNextStage(t *testing.T) {
	for i, s := range StageOrder {
		next, ok := NextStage(s)
		if i == len(StageOrder)-1 {
			if ok {
				t.Errorf("NextStage(%s) = %s, want none", s, next)
			}
			continue
		}
		if !ok || next != StageOrder[i+1] {
			t.Errorf("NextStage(%s) = (%s, %v), want %s", s, next, ok, StageOrder[i+1])
		}
	}
}

func TestNextStage_TwoStepsDefinedUnlessSecondToLast(t *testing.T) {
	for i, s := range StageOrder[:len(StageOrder)-1] {
		next, _ := NextStage(s)
		_, ok := NextStage(next)
		secondToLast := i == len(StageOrder)-2
		if ok == secondToLast {
			t.Errorf("NextStage(NextStage(%s)) defined=%v, want %v", s, ok, !secondToLast)
		}
	}
}

func TestNextStage_Unknown(t *testing.T) {
	if _, ok := NextStage(Stage("nowhere")); ok {
		t.Error("NextStage(unknown) should be none")
	}
}

func TestIsValidStage(t *testing.T) {
	for _, s := range StageOrder {
		if !IsValidStage(string(s)) {
			t.Errorf("IsValidStage(%s) = false", s)
		}
	}
	for _, v := range []string{"", "Invoking", "done"} {
		if IsValidStage(v) {
			t.Errorf("IsValidStage(%q) = true", v)
		}
	}
}

func TestBefore(t *testing.T) {
	if !Before(StageInvoking, StageDelivering) {
		t.Error("invoking should be before delivering")
	}
	if Before(StageWeaving, StageBinding) {
		t.Error("weaving should not be before binding")
	}
	if Before(StageWeaving, StageWeaving) {
		t.Error("a stage is not before itself")
	}
	if Before(Stage("x"), StageDelivering) {
		t.Error("unknown stages are never before")
	}
}

func TestInitialAndFinal(t *testing.T) {
	if InitialStage() != StageInvoking {
		t.Errorf("InitialStage = %s", InitialStage())
	}
	if !FinalStage().IsFinal() || FinalStage() != StageDelivering {
		t.Errorf("FinalStage = %s", FinalStage())
	}
}
