package repo

import (
	"errors"
	"strings"

	"photokeep/internal/models"
	"photokeep/internal/rules"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateRule is returned when two rules target the same path.
var ErrDuplicateRule = errors.New("duplicate rule for path")

type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) All() ([]models.FolderRule, error) {
	var out []models.FolderRule
	err := r.db.Order("path ASC").Find(&out).Error
	return out, err
}

// Upsert inserts the rule or replaces the action of the rule at that path.
func (r *RuleRepository) Upsert(rule *models.FolderRule) error {
	rule.Path = rules.Normalize(rule.Path)
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.Assignments(map[string]any{"action": rule.Action}),
	}).Create(rule).Error
}

// ReplaceAll swaps the whole rule set in one transaction. The candidate set
// must hold at most one rule per path.
func (r *RuleRepository) ReplaceAll(candidate []models.FolderRule) error {
	seen := make(map[string]struct{}, len(candidate))
	for i := range candidate {
		path := strings.ToLower(rules.Normalize(candidate[i].Path))
		if _, dup := seen[path]; dup {
			return ErrDuplicateRule
		}
		seen[path] = struct{}{}
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.FolderRule{}).Error; err != nil {
			return err
		}
		for i := range candidate {
			row := models.FolderRule{
				Path:   rules.Normalize(candidate[i].Path),
				Action: candidate[i].Action,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RuleRepository) DeleteByPath(path string) error {
	return r.db.Where("path = ?", rules.Normalize(path)).Delete(&models.FolderRule{}).Error
}
