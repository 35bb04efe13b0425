package llm

import (
	"fmt"
	"strings"

	"github.com/ashureev/unfolding/internal/domain"
)

var stageGuidance = map[domain.Stage]string{
	domain.StageInvoking: "Draw out the seed of the adventure. Ask what excites the user, then record it with set_spark. " +
		"Offer a working title with suggest_adventure_name when one suggests itself.",
	domain.StageAttuning: "Tune the adventure's components one at a time: span, scenes, members, tier, tenor, pillars, chorus. " +
		"Record each with set_component and only call confirm_component after the user agrees. " +
		"Capture recurring ideas as threads with add_thread.",
	domain.StageBinding: "Bind the frame: the setting, its texture, and the themes it puts under pressure. " +
		"Record it with set_frame once the user is happy with it.",
	domain.StageWeaving: "Weave the scene arcs in play order with set_scene_arcs. Keep arc ids stable across revisions " +
		"and use update_scene_arc for small edits.",
	domain.StageInscribing: "Inscribe each scene arc in full with inscribe_scene: narrative, NPCs, adversaries, items. " +
		"Work through the arcs in order and tell the user which remain.",
	domain.StageDelivering: "Review the finished adventure with the user. When everything is inscribed and the user is " +
		"satisfied, call finalize_adventure with a short pitch.",
}

// BuildSystemPrompt returns the system instruction for a session at stage.
func BuildSystemPrompt(title string, stage domain.Stage, state *domain.AdventureState) string {
	var b strings.Builder

	b.WriteString("You are the guide of the Unfolding, a six-stage process for authoring tabletop adventures ")
	b.WriteString("together with a game master. Be warm and concise, ask one question at a time, and use tools ")
	b.WriteString("to record decisions instead of repeating them back in prose.\n\n")

	fmt.Fprintf(&b, "Session: %q\n", title)
	fmt.Fprintf(&b, "Current stage: %s (%d of %d)\n", stage, domain.StageIndex(stage)+1, len(domain.StageOrder))
	if guidance, ok := stageGuidance[stage]; ok {
		fmt.Fprintf(&b, "Stage goal: %s\n", guidance)
	}
	if !stage.IsFinal() {
		b.WriteString("When this stage has what it needs, call signal_ready with a one line summary.\n")
	}

	if state != nil {
		b.WriteString("\nWhat has been decided so far:\n")
		writeSnapshot(&b, state)
	}
	return b.String()
}

func writeSnapshot(b *strings.Builder, st *domain.AdventureState) {
	wrote := false
	line := func(format string, args ...any) {
		fmt.Fprintf(b, "- "+format+"\n", args...)
		wrote = true
	}

	if st.AdventureName != "" {
		line("Adventure name: %s", st.AdventureName)
	}
	if st.Spark != nil {
		line("Spark: %s. %s", st.Spark.Name, st.Spark.Vision)
	}

	confirmed := make(map[string]bool, len(st.Components.Confirmed))
	for _, c := range st.Components.Confirmed {
		confirmed[c] = true
	}
	for _, slot := range domain.ComponentSlots {
		v, _ := st.Components.Slot(slot)
		if v == nil {
			continue
		}
		mark := ""
		if confirmed[slot] {
			mark = " (confirmed)"
		}
		line("Component %s: %s%s", slot, *v, mark)
	}
	if len(st.Components.Threads) > 0 {
		line("Threads: %s", strings.Join(st.Components.Threads, "; "))
	}

	if st.Frame != nil {
		line("Frame: %s. %s", st.Frame.Name, st.Frame.Description)
		if len(st.Frame.Themes) > 0 {
			line("Themes: %s", strings.Join(st.Frame.Themes, ", "))
		}
	}

	inscribed := make(map[string]bool, len(st.InscribedScenes))
	for _, s := range st.InscribedScenes {
		inscribed[s.ArcID] = true
	}
	for _, a := range st.SceneArcs {
		status := "planned"
		if inscribed[a.ID] {
			status = "inscribed"
		}
		line("Scene arc %s [%s]: %s (%s, %s)", a.ID, status, a.Title, orDash(a.SceneType), orDash(a.Location))
	}

	if !wrote {
		b.WriteString("- Nothing yet.\n")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
