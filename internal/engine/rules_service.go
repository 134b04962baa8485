package engine

import (
	"photokeep/internal/models"
	"photokeep/internal/repo"
	"photokeep/internal/rules"
)

// RulesService persists folder rules and seeds the initial rule set.
type RulesService struct {
	repo *repo.RuleRepository
}

func NewRulesService(ruleRepo *repo.RuleRepository) *RulesService {
	return &RulesService{repo: ruleRepo}
}

// Load returns the persisted rule set.
func (s *RulesService) Load() ([]models.FolderRule, error) {
	return s.repo.All()
}

// SetRule inserts or replaces the rule for a path.
func (s *RulesService) SetRule(path string, action models.RuleAction) error {
	return s.repo.Upsert(&models.FolderRule{Path: rules.Normalize(path), Action: action})
}

// RemoveRule drops the rule at path. Content eviction is the job of
// ResetRules, not of rule bookkeeping.
func (s *RulesService) RemoveRule(path string) error {
	return s.repo.DeleteByPath(path)
}

// Seed imports the configured watch paths as Always rules, but only when the
// rule table is still empty.
func (s *RulesService) Seed(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	existing, err := s.repo.All()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, path := range paths {
		rule := models.FolderRule{Path: rules.Normalize(path), Action: models.RuleAlways}
		if err := s.repo.Upsert(&rule); err != nil {
			return err
		}
	}
	return nil
}
