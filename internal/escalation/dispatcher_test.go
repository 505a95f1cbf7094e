package escalation

import (
	"testing"

	"github.com/transfa/dunning-service/internal/domain"
)

func TestDispatch_EveryStageProducesDirectives(t *testing.T) {
	for _, stage := range DefaultStageTable().Stages() {
		directives := dispatch(stage)
		if len(directives) == 0 {
			t.Fatalf("stage %q produced no directives", stage.Action)
		}
	}
}

func TestDispatch_RestrictionPrecedesNotification(t *testing.T) {
	var restrictStage domain.StageDefinition
	for _, stage := range DefaultStageTable().Stages() {
		if stage.Action == domain.ActionRestrictService {
			restrictStage = stage
		}
	}

	directives := dispatch(restrictStage)
	if len(directives) != 2 {
		t.Fatalf("expected 2 directives, got %d", len(directives))
	}
	if directives[0].Kind != domain.DirectiveRestrictService {
		t.Fatalf("expected restriction first, got %q", directives[0].Kind)
	}
	if len(directives[0].Restrictions) != len(restrictStage.Restrictions) {
		t.Fatalf("restriction set not carried: %+v", directives[0])
	}
	if directives[1].Kind != domain.DirectiveNotifyEmail || directives[1].EmailTemplate != templateServiceRestricted {
		t.Fatalf("expected restriction notification second, got %+v", directives[1])
	}
}

func TestDispatch_IrreversibleDirectivesCarryRetention(t *testing.T) {
	stages := DefaultStageTable().Stages()

	suspend := dispatch(stages[4])
	if suspend[0].Kind != domain.DirectiveSuspendAccount {
		t.Fatalf("expected suspend directive first, got %q", suspend[0].Kind)
	}
	if suspend[0].DataRetentionDays == nil || *suspend[0].DataRetentionDays != 30 {
		t.Fatalf("suspend retention window missing or wrong: %+v", suspend[0])
	}

	del := dispatch(stages[5])
	if del[0].Kind != domain.DirectiveDeleteAccount {
		t.Fatalf("expected delete directive first, got %q", del[0].Kind)
	}
	if del[0].DataRetentionDays == nil || *del[0].DataRetentionDays != 0 {
		t.Fatalf("delete retention window missing or wrong: %+v", del[0])
	}
}

func TestDispatch_NotificationStagesUseDistinctTemplates(t *testing.T) {
	templates := make(map[string]domain.Action)
	for _, stage := range DefaultStageTable().Stages() {
		for _, directive := range dispatch(stage) {
			if directive.Kind != domain.DirectiveNotifyEmail {
				continue
			}
			if directive.EmailTemplate == "" {
				t.Fatalf("stage %q emits a notification without a template", stage.Action)
			}
			if prior, dup := templates[directive.EmailTemplate]; dup {
				t.Fatalf("template %q reused by %q and %q", directive.EmailTemplate, prior, stage.Action)
			}
			templates[directive.EmailTemplate] = stage.Action
		}
	}
}
