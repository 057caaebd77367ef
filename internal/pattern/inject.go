package pattern

import "github.com/fyrsmithlabs/patternd/internal/evidence"

// InjectTarget names the document type a warning should be injected into.
type InjectTarget string

const (
	InjectContextPack InjectTarget = "context_pack"
	InjectSpec        InjectTarget = "spec"
	InjectBoth        InjectTarget = "both"
)

// ValidInjectTargets contains all valid injection targets.
var ValidInjectTargets = map[InjectTarget]bool{
	InjectContextPack: true,
	InjectSpec:        true,
	InjectBoth:        true,
}

// IsValid returns true if the injection target is recognized.
func (t InjectTarget) IsValid() bool {
	return ValidInjectTargets[t]
}

// Matches reports whether a warning configured with target t should surface
// when injecting into the given document type. "both" matches everything.
func (t InjectTarget) Matches(target InjectTarget) bool {
	return t == target || t == InjectBoth
}

// CarrierStage converts the injection target into the carrier stage recorded
// on a pattern promoted from an alert. "both" collapses to the context pack,
// which is the stage agents read first.
func (t InjectTarget) CarrierStage() evidence.CarrierStage {
	if t == InjectSpec {
		return evidence.CarrierStageSpec
	}
	return evidence.CarrierStageContextPack
}

// TargetForStage maps a carrier stage back to the injection target warnings
// about it should default to.
func TargetForStage(stage evidence.CarrierStage) InjectTarget {
	if stage == evidence.CarrierStageSpec {
		return InjectSpec
	}
	return InjectContextPack
}
