package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/utils"
	"gorm.io/gorm"
)

type TemplateScope string

const (
	TemplateScopeUnified TemplateScope = "unified"
	TemplateScopePerUnit TemplateScope = "per-unit"
)

func (s TemplateScope) IsValid() bool {
	return s == TemplateScopeUnified || s == TemplateScopePerUnit
}

// Bilingual holds the two fixed document languages.
type Bilingual struct {
	En string `json:"en"`
	Ar string `json:"ar"`
}

type TemplateField struct {
	Key      string    `json:"key" validate:"required,max=64"`
	Label    Bilingual `json:"label"`
	Required bool      `json:"required"`
}

// ContractTemplate is a bilingual contract body with named placeholders.
type ContractTemplate struct {
	ID         string          `gorm:"primaryKey;size:64" json:"id"`
	Name       string          `gorm:"size:150;not null" json:"name"`
	Scope      TemplateScope   `gorm:"size:20;not null;index" json:"scope"`
	PropertyId string          `gorm:"size:64;index" json:"property_id,omitempty"`
	BodyEn     string          `gorm:"type:text" json:"body_en"`
	BodyAr     string          `gorm:"type:text" json:"body_ar"`
	Fields     []TemplateField `gorm:"type:text;serializer:json" json:"fields"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewContractTemplate struct {
	ID         string          `json:"id"`
	Name       string          `json:"name" validate:"required,max=150"`
	Scope      TemplateScope   `json:"scope" validate:"required"`
	PropertyId string          `json:"property_id"`
	BodyEn     string          `json:"body_en"`
	BodyAr     string          `json:"body_ar"`
	Fields     []TemplateField `json:"fields" validate:"dive"`
}

// Render substitutes fields into both bodies. Unknown placeholders become empty strings.
func (t ContractTemplate) Render(fields map[string]string) Bilingual {
	return Bilingual{
		En: utils.RenderPlaceholders(t.BodyEn, fields),
		Ar: utils.RenderPlaceholders(t.BodyAr, fields),
	}
}

// MissingRequired lists required field keys with no non-blank value.
func (t ContractTemplate) MissingRequired(fields map[string]string) []string {
	var missing []string
	for _, f := range t.Fields {
		if f.Required && strings.TrimSpace(fields[f.Key]) == "" {
			missing = append(missing, f.Key)
		}
	}
	return missing
}

// UndeclaredPlaceholders lists keys referenced in either body but absent from Fields.
func (t ContractTemplate) UndeclaredPlaceholders() []string {
	declared := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		declared[f.Key] = true
	}
	var out []string
	seen := map[string]bool{}
	for _, body := range []string{t.BodyEn, t.BodyAr} {
		for _, k := range utils.PlaceholderKeys(body) {
			if !declared[k] && !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func (input *NewContractTemplate) validate() error {
	fields, err := validateInput(input)
	if err != nil {
		return err
	}
	if !input.Scope.IsValid() {
		fields["scope"] = "oneof unified per-unit"
	}
	if input.Scope == TemplateScopePerUnit && strings.TrimSpace(input.PropertyId) == "" {
		fields["property_id"] = "required"
	}
	if strings.TrimSpace(input.BodyEn) == "" && strings.TrimSpace(input.BodyAr) == "" {
		fields["body_en"] = "required"
	}
	seen := map[string]bool{}
	for _, f := range input.Fields {
		if seen[f.Key] {
			fields["fields."+f.Key] = "unique"
		}
		seen[f.Key] = true
	}
	if len(fields) > 0 {
		return newValidationError("invalid template", fields)
	}
	return nil
}

// CreateTemplate stores a new template. Re-creating an existing id overwrites its content.
func CreateTemplate(ctx context.Context, input *NewContractTemplate) (*ContractTemplate, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	tpl := ContractTemplate{
		ID:         strings.TrimSpace(input.ID),
		Name:       strings.TrimSpace(input.Name),
		Scope:      input.Scope,
		PropertyId: strings.TrimSpace(input.PropertyId),
		BodyEn:     input.BodyEn,
		BodyAr:     input.BodyAr,
		Fields:     input.Fields,
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.Fields == nil {
		tpl.Fields = []TemplateField{}
	}
	if err := config.GetDB().WithContext(ctx).Save(&tpl).Error; err != nil {
		return nil, err
	}
	if undeclared := tpl.UndeclaredPlaceholders(); len(undeclared) > 0 {
		config.GetLogger().WithFields(map[string]interface{}{
			"template_id": tpl.ID,
			"keys":        undeclared,
		}).Warn("template references placeholders that are not declared as fields")
	}
	if err := utils.RemoveRedisItem[ContractTemplate](tpl.ID); err != nil {
		config.LogWarn(config.GetLogger(), "ContractTemplate", "CreateTemplate", "cache invalidate", tpl.ID, err)
	}
	if err := utils.RemoveRedisList[ContractTemplate](templateListSuffix(""), templateListSuffix(TemplateScopeUnified), templateListSuffix(TemplateScopePerUnit)); err != nil {
		config.LogWarn(config.GetLogger(), "ContractTemplate", "CreateTemplate", "list cache invalidate", tpl.ID, err)
	}
	return &tpl, nil
}

// GetTemplate reads through the redis cache.
func GetTemplate(ctx context.Context, id string) (*ContractTemplate, error) {
	if cached, err := utils.RetrieveRedis[ContractTemplate](id); err == nil && cached != nil {
		return cached, nil
	}
	tpl, err := findTemplate(config.GetDB().WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedis(tpl, id); err != nil {
		config.LogWarn(config.GetLogger(), "ContractTemplate", "GetTemplate", "cache store", id, err)
	}
	return tpl, nil
}

func findTemplate(db *gorm.DB, id string) (*ContractTemplate, error) {
	var tpl ContractTemplate
	if err := db.Where("id = ?", id).Take(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("template", id)
		}
		return nil, err
	}
	return &tpl, nil
}

// ListTemplates filters by scope when one is given.
func ListTemplates(ctx context.Context, scope TemplateScope) ([]ContractTemplate, error) {
	db := config.GetDB().WithContext(ctx)
	if scope != "" {
		if !scope.IsValid() {
			return nil, newValidationError("invalid scope", map[string]string{"scope": "oneof unified per-unit"})
		}
		db = db.Where("scope = ?", scope)
	}
	if cached, err := utils.RetrieveRedisList[ContractTemplate](templateListSuffix(scope)); err == nil && cached != nil {
		templates := make([]ContractTemplate, 0, len(cached))
		for _, t := range cached {
			templates = append(templates, *t)
		}
		return templates, nil
	}
	var templates []ContractTemplate
	if err := db.Order("name").Find(&templates).Error; err != nil {
		return nil, err
	}
	list := make([]*ContractTemplate, 0, len(templates))
	for i := range templates {
		list = append(list, &templates[i])
	}
	if err := utils.StoreRedisList(list, templateListSuffix(scope)); err != nil {
		config.LogWarn(config.GetLogger(), "ContractTemplate", "ListTemplates", "cache store", string(scope), err)
	}
	return templates, nil
}

func templateListSuffix(scope TemplateScope) string {
	if scope == "" {
		return "all"
	}
	return string(scope)
}
