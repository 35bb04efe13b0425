package domain

import (
	"encoding/json"
)

// maxVersionsPerField bounds versionHistory growth for a single field.
const maxVersionsPerField = 20

// Spark is the seed premise of an adventure.
type Spark struct {
	Name   string `json:"name"`
	Vision string `json:"vision"`
}

// ComponentSlots lists the fixed component slots in display order.
var ComponentSlots = []string{"span", "scenes", "members", "tier", "tenor", "pillars", "chorus"}

// Components is the fixed-shape record tuned during attuning.
type Components struct {
	Span      *string  `json:"span"`
	Scenes    *string  `json:"scenes"`
	Members   *string  `json:"members"`
	Tier      *string  `json:"tier"`
	Tenor     *string  `json:"tenor"`
	Pillars   *string  `json:"pillars"`
	Chorus    *string  `json:"chorus"`
	Confirmed []string `json:"confirmedComponents"`
	Threads   []string `json:"threads"`
}

func (c *Components) slot(name string) **string {
	switch name {
	case "span":
		return &c.Span
	case "scenes":
		return &c.Scenes
	case "members":
		return &c.Members
	case "tier":
		return &c.Tier
	case "tenor":
		return &c.Tenor
	case "pillars":
		return &c.Pillars
	case "chorus":
		return &c.Chorus
	}
	return nil
}

// IsComponentSlot reports whether name is one of ComponentSlots.
func IsComponentSlot(name string) bool {
	var c Components
	return c.slot(name) != nil
}

// Slot returns the current value of a slot. ok is false for unknown names.
func (c *Components) Slot(name string) (value *string, ok bool) {
	p := c.slot(name)
	if p == nil {
		return nil, false
	}
	return *p, true
}

// SetSlot assigns a slot value and returns the previous one.
func (c *Components) SetSlot(name, value string) (prev *string, ok bool) {
	p := c.slot(name)
	if p == nil {
		return nil, false
	}
	prev = *p
	v := value
	*p = &v
	return prev, true
}

// Confirm marks a slot as confirmed. Confirming twice is a no-op.
func (c *Components) Confirm(name string) {
	for _, existing := range c.Confirmed {
		if existing == name {
			return
		}
	}
	c.Confirmed = append(c.Confirmed, name)
}

// Frame is the bound setting of the adventure.
type Frame struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Themes      []string `json:"themes"`
}

// SceneArc is a planned scene that has not been detailed yet.
type SceneArc struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SceneType   string `json:"sceneType"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// InscribedScene is a fully detailed scene, keyed by the arc it realizes.
type InscribedScene struct {
	ArcID       string   `json:"arcId"`
	Title       string   `json:"title"`
	Narrative   string   `json:"narrative"`
	NPCs        []string `json:"npcs"`
	Adversaries []string `json:"adversaries"`
	Items       []string `json:"items"`
}

// AdventureState is the per-session mutable document edited by tools.
type AdventureState struct {
	SessionID       string                       `json:"-"`
	Spark           *Spark                       `json:"spark"`
	Components      Components                   `json:"components"`
	Frame           *Frame                       `json:"frame"`
	SceneArcs       []SceneArc                   `json:"sceneArcs"`
	InscribedScenes []InscribedScene             `json:"inscribedScenes"`
	VersionHistory  map[string][]json.RawMessage `json:"versionHistory"`
	AdventureName   string                       `json:"adventureName"`
}

// NewAdventureState returns a fully shaped, empty state.
func NewAdventureState(sessionID string) *AdventureState {
	st := &AdventureState{SessionID: sessionID}
	st.fillDefaults()
	return st
}

func (s *AdventureState) fillDefaults() {
	if s.Components.Confirmed == nil {
		s.Components.Confirmed = []string{}
	}
	if s.Components.Threads == nil {
		s.Components.Threads = []string{}
	}
	if s.SceneArcs == nil {
		s.SceneArcs = []SceneArc{}
	}
	if s.InscribedScenes == nil {
		s.InscribedScenes = []InscribedScene{}
	}
	if s.VersionHistory == nil {
		s.VersionHistory = map[string][]json.RawMessage{}
	}
}

// RecordVersion appends prior to the history of field. Zero values
// (nil pointers, empty strings, empty slices) are not recorded.
func (s *AdventureState) RecordVersion(field string, prior any) {
	raw, err := json.Marshal(prior)
	if err != nil {
		return
	}
	switch string(raw) {
	case "null", `""`, "[]", "{}":
		return
	}
	if s.VersionHistory == nil {
		s.VersionHistory = map[string][]json.RawMessage{}
	}
	h := append(s.VersionHistory[field], raw)
	if len(h) > maxVersionsPerField {
		h = h[len(h)-maxVersionsPerField:]
	}
	s.VersionHistory[field] = h
}

// FindArc returns the index of the arc with id, or -1.
func (s *AdventureState) FindArc(id string) int {
	for i, a := range s.SceneArcs {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// UpsertInscribed replaces the scene for scene.ArcID or appends it. The
// previous scene, if any, is returned.
func (s *AdventureState) UpsertInscribed(scene InscribedScene) *InscribedScene {
	for i, existing := range s.InscribedScenes {
		if existing.ArcID == scene.ArcID {
			prev := existing
			s.InscribedScenes[i] = scene
			return &prev
		}
	}
	s.InscribedScenes = append(s.InscribedScenes, scene)
	return nil
}

// MarshalState encodes the state for the row store.
func MarshalState(s *AdventureState) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeAdventureState parses a persisted state document. It never fails:
// any missing or malformed field falls back to its default, and an
// unparseable document yields an empty state.
func DecodeAdventureState(sessionID string, raw []byte) *AdventureState {
	st := NewAdventureState(sessionID)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return st
	}

	decodeField(fields["spark"], &st.Spark)
	if st.Spark != nil && st.Spark.Name == "" && st.Spark.Vision == "" {
		st.Spark = nil
	}
	decodeField(fields["frame"], &st.Frame)
	if st.Frame != nil && st.Frame.Themes == nil {
		st.Frame.Themes = []string{}
	}
	decodeField(fields["adventureName"], &st.AdventureName)
	st.Components = decodeComponents(fields["components"])
	st.SceneArcs = decodeList[SceneArc](fields["sceneArcs"])
	st.InscribedScenes = decodeList[InscribedScene](fields["inscribedScenes"])
	decodeField(fields["versionHistory"], &st.VersionHistory)

	st.fillDefaults()
	return st
}

// decodeField unmarshals raw into dst, leaving dst untouched on failure.
func decodeField[T any](raw json.RawMessage, dst *T) {
	if len(raw) == 0 {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	*dst = v
}

// decodeList keeps the well-formed elements of a JSON array.
func decodeList[T any](raw json.RawMessage) []T {
	out := []T{}
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return out
	}
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func decodeComponents(raw json.RawMessage) Components {
	var c Components
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return c
	}
	for _, name := range ComponentSlots {
		var v *string
		decodeField(fields[name], &v)
		if v != nil {
			*c.slot(name) = v
		}
	}
	decodeField(fields["confirmedComponents"], &c.Confirmed)
	decodeField(fields["threads"], &c.Threads)
	return c
}
