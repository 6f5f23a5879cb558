// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package database

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tomtom215/onixmirror/internal/metrics"
)

func ensure(t *testing.T, db *DB, table string, cols ...string) error {
	t.Helper()
	return db.Transaction(context.Background(), func(tx *gorm.DB) error {
		return db.Schema().Ensure(context.Background(), tx, table, cols)
	})
}

func TestSchemaRegistry_AdditiveOnly(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, ensure(t, db, "Measure", "Measure_MeasureType", "Measure_Measurement"))
	require.NoError(t, ensure(t, db, "Measure", "Measure_MeasureUnitCode"))
	require.NoError(t, ensure(t, db, "Measure", "Measure_MeasureType"))

	assert.Equal(t,
		[]string{"Measure_MeasureType", "Measure_MeasureUnitCode", "Measure_Measurement", "id", "identifier"},
		db.Schema().Columns("Measure"))

	cols, err := db.Gorm().Migrator().ColumnTypes("Measure")
	require.NoError(t, err)
	assert.Len(t, cols, 5)
}

func TestSchemaRegistry_KnownColumnsSkipDDL(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, ensure(t, db, "Extent", "Extent_ExtentValue"))

	before := testutil.ToFloat64(metrics.SchemaColumnsAdded.WithLabelValues("Extent"))
	for i := 0; i < 3; i++ {
		require.NoError(t, ensure(t, db, "Extent", "Extent_ExtentValue", "extent_extentvalue"))
	}
	after := testutil.ToFloat64(metrics.SchemaColumnsAdded.WithLabelValues("Extent"))
	assert.Equal(t, before, after)
}

func TestSchemaRegistry_CountsAddedColumns(t *testing.T) {
	db := setupTestDB(t)

	before := testutil.ToFloat64(metrics.SchemaColumnsAdded.WithLabelValues("Audience"))
	require.NoError(t, ensure(t, db, "Audience", "Audience_AudienceCodeType", "Audience_AudienceCodeValue"))
	after := testutil.ToFloat64(metrics.SchemaColumnsAdded.WithLabelValues("Audience"))
	assert.Equal(t, before+2, after)
}

func TestSchemaRegistry_CacheMissReadsStore(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Gorm().Exec(`CREATE TABLE "Publisher" (id INTEGER PRIMARY KEY, identifier TEXT, "Publisher_PublisherName" TEXT)`).Error)

	require.NoError(t, ensure(t, db, "Publisher", "Publisher_PublisherName", "Publisher_PublishingRole"))
	assert.True(t, db.Schema().Known("Publisher", "Publisher_PublisherName"))
	assert.True(t, db.Schema().Known("Publisher", "Publisher_PublishingRole"))
}

func TestSchemaRegistry_RejectsInvalidNames(t *testing.T) {
	db := setupTestDB(t)

	tests := []struct {
		table string
		cols  []string
	}{
		{"bad-table", nil},
		{"ledger", []string{"x"}},
		{"sqlite_master", nil},
		{"Ok", []string{`x" TEXT); DROP TABLE ledger; --`}},
	}
	for _, tt := range tests {
		err := ensure(t, db, tt.table, tt.cols...)
		assert.ErrorIs(t, err, ErrInvalidName, tt.table)
	}
	assert.Empty(t, db.Schema().Tables())
}

func TestSchemaRegistry_StagedTablesVisibleBeforeCommit(t *testing.T) {
	db := setupTestDB(t)
	err := db.Transaction(context.Background(), func(tx *gorm.DB) error {
		if err := db.Schema().Ensure(context.Background(), tx, "Language", []string{"Language_LanguageCode"}); err != nil {
			return err
		}
		assert.Contains(t, db.Schema().Tables(), "Language")
		assert.False(t, db.Schema().Known("Language", "Language_LanguageCode"), "not committed yet")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, db.Schema().Known("Language", "Language_LanguageCode"))
}
