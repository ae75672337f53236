package models

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryStoredAsWKB(t *testing.T) {
	db, err := OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	poly := orb.Polygon{orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	row := Geometry{CollectionID: 1, SourceID: 1, FID: 7}
	require.NoError(t, row.SetOrb(poly))
	require.NoError(t, db.Create(&row).Error)

	var loaded Geometry
	require.NoError(t, db.First(&loaded, row.ID).Error)
	g, err := loaded.Orb()
	require.NoError(t, err)
	assert.Equal(t, poly, g)

	// 同一集合内同一 fid 只能有一个 live 版本
	dup := Geometry{CollectionID: 1, SourceID: 2, FID: 7, Geom: row.Geom}
	assert.Error(t, db.Create(&dup).Error)
	dup.Superseded = true
	assert.NoError(t, db.Create(&dup).Error)
}

func TestCollectionBound(t *testing.T) {
	var c Collection
	c.SetBound(orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}})
	assert.Equal(t, orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}, c.Bound())
}
