package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mmdatafocus/lease_backend/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// seedFile is the layout of templates.example.yaml.
type seedFile struct {
	ContractTemplates []struct {
		ID         string `yaml:"id"`
		Name       string `yaml:"name"`
		Scope      string `yaml:"scope"`
		PropertyId string `yaml:"property_id"`
		BodyEn     string `yaml:"body_en"`
		BodyAr     string `yaml:"body_ar"`
		Fields     []struct {
			Key      string `yaml:"key"`
			LabelEn  string `yaml:"label_en"`
			LabelAr  string `yaml:"label_ar"`
			Required bool   `yaml:"required"`
		} `yaml:"fields"`
	} `yaml:"contract_templates"`
	NotificationTemplates []struct {
		Name    string `yaml:"name"`
		Channel string `yaml:"channel"`
		Subject string `yaml:"subject"`
		Body    string `yaml:"body"`
		Enabled *bool  `yaml:"enabled"`
	} `yaml:"notification_templates"`
}

func parseSeedFile(r io.Reader) (*seedFile, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// applySeed upserts every template in f. Contract templates are matched by id.
func applySeed(ctx context.Context, db *gorm.DB, f *seedFile) (contracts int, notifications int, err error) {
	for _, t := range f.ContractTemplates {
		input := models.NewContractTemplate{
			ID:         t.ID,
			Name:       t.Name,
			Scope:      models.TemplateScope(t.Scope),
			PropertyId: t.PropertyId,
			BodyEn:     t.BodyEn,
			BodyAr:     t.BodyAr,
		}
		for _, field := range t.Fields {
			input.Fields = append(input.Fields, models.TemplateField{
				Key:      field.Key,
				Label:    models.Bilingual{En: field.LabelEn, Ar: field.LabelAr},
				Required: field.Required,
			})
		}
		if _, err := models.CreateTemplate(ctx, &input); err != nil {
			return contracts, notifications, fmt.Errorf("contract template %q: %w", t.Name, err)
		}
		contracts++
	}
	for _, t := range f.NotificationTemplates {
		enabled := true
		if t.Enabled != nil {
			enabled = *t.Enabled
		}
		tpl := models.NotificationTemplate{
			Name:    t.Name,
			Channel: models.NotificationChannel(t.Channel),
			Subject: t.Subject,
			Body:    t.Body,
			Enabled: enabled,
		}
		if err := models.UpsertNotificationTemplate(ctx, db, &tpl); err != nil {
			return contracts, notifications, fmt.Errorf("notification template %s/%s: %w", t.Name, t.Channel, err)
		}
		notifications++
	}
	return contracts, notifications, nil
}

func seedTemplatesCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed-templates",
		Short: "Upsert contract and notification templates from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(path)
			if err != nil {
				return err
			}
			defer fh.Close()
			f, err := parseSeedFile(fh)
			if err != nil {
				return err
			}
			db, err := connect()
			if err != nil {
				return err
			}
			contracts, notifications, err := applySeed(systemContext(), db, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d contract templates, %d notification templates\n", contracts, notifications)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "templates.example.yaml", "seed file")
	return cmd
}
