package main

import (
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mmdatafocus/lease_backend/config"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeedFile(t *testing.T) {
	fh, err := os.Open("../../templates.example.yaml")
	require.NoError(t, err)
	defer fh.Close()

	f, err := parseSeedFile(fh)
	require.NoError(t, err)
	require.Len(t, f.ContractTemplates, 1)
	tpl := f.ContractTemplates[0]
	assert.Equal(t, "standard-residential", tpl.ID)
	assert.Equal(t, "unified", tpl.Scope)
	assert.Contains(t, tpl.BodyEn, "{{contractNumber}}")
	require.NotEmpty(t, tpl.Fields)
	assert.Equal(t, "contractNumber", tpl.Fields[0].Key)
	assert.False(t, tpl.Fields[0].Required)
	assert.True(t, tpl.Fields[1].Required)
	assert.Len(t, f.NotificationTemplates, 5)
	assert.Nil(t, f.NotificationTemplates[0].Enabled)
}

func TestParseSeedFileRejectsUnknownFields(t *testing.T) {
	_, err := parseSeedFile(strings.NewReader("contract_templates:\n  - id: x\n    colour: red\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestApplySeed(t *testing.T) {
	db, err := config.OpenDatabase(config.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.MigrateTable(db))
	prev := config.GetDB()
	config.SetDB(db)
	config.UseRedis(nil)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})

	fh, err := os.Open("../../templates.example.yaml")
	require.NoError(t, err)
	defer fh.Close()
	f, err := parseSeedFile(fh)
	require.NoError(t, err)

	ctx := systemContext()
	contracts, notifications, err := applySeed(ctx, db, f)
	require.NoError(t, err)
	assert.Equal(t, 1, contracts)
	assert.Equal(t, 5, notifications)

	// a second run overwrites instead of duplicating
	_, _, err = applySeed(ctx, db, f)
	require.NoError(t, err)

	tpl, err := models.GetTemplate(ctx, "standard-residential")
	require.NoError(t, err)
	assert.Empty(t, tpl.UndeclaredPlaceholders())

	var count int64
	require.NoError(t, db.Model(&models.ContractTemplate{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	rows, err := models.ListNotificationTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}
