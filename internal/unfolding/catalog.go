package unfolding

import (
	"github.com/ashureev/unfolding/internal/domain"
	"github.com/ashureev/unfolding/internal/tools"
)

// Catalog decides which tools are advertised to the model in each stage.
// The registry itself accepts any registered name at any stage.
type Catalog struct {
	stages map[domain.Stage][]string
	always []string
}

// DefaultCatalog returns the stage-to-tool table of the Unfolding.
// signal_ready is offered everywhere except the final stage, where
// finalize_adventure takes its place.
func DefaultCatalog() *Catalog {
	return &Catalog{
		stages: map[domain.Stage][]string{
			domain.StageInvoking:   {ToolSetSpark, ToolSuggestAdventureName},
			domain.StageAttuning:   {ToolSetComponent, ToolConfirmComponent, ToolAddThread},
			domain.StageBinding:    {ToolSetFrame},
			domain.StageWeaving:    {ToolSetSceneArcs, ToolUpdateSceneArc},
			domain.StageInscribing: {ToolInscribeScene},
			domain.StageDelivering: {ToolFinalizeAdventure},
		},
		always: []string{ToolSignalReady},
	}
}

// ToolsFor returns the tool names advertised in stage. Unknown stages get
// no tools.
func (c *Catalog) ToolsFor(stage domain.Stage) []string {
	own, ok := c.stages[stage]
	if !ok {
		return nil
	}
	names := append([]string(nil), own...)
	if !stage.IsFinal() {
		names = append(names, c.always...)
	}
	return names
}

// RegisterAll registers every stage's tools.
func RegisterAll(reg *tools.Registry, editor StateEditor) {
	RegisterInvoking(reg, editor)
	RegisterAttuning(reg, editor)
	RegisterBinding(reg, editor)
	RegisterWeaving(reg, editor)
	RegisterInscribing(reg, editor)
	RegisterDelivering(reg, editor)
}
