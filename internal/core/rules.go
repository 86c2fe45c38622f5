package core

import "shrimptrace/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewRiskConsistencyRule())
	engine.Register(NewMovementSequenceRule())
	return engine
}
