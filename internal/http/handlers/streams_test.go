package handlers

import (
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/repository"
)

func setupStreamsAPI(t *testing.T) (humatest.TestAPI, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Stream{}, &models.StreamTombstone{}))

	_, api := humatest.New(t)
	NewStreamsHandler(repository.NewStreamRepository(db), nil).Register(api)
	return api, db
}

func TestStreamsAPI_CreateAndGet(t *testing.T) {
	api, _ := setupStreamsAPI(t)

	resp := api.Post("/api/streams", map[string]any{
		"name": "front",
		"url":  "rtsp://camera.local/stream1",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = api.Get("/api/streams/front")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"name":"front"`)
}

func TestStreamsAPI_GetUnknownIs404(t *testing.T) {
	api, _ := setupStreamsAPI(t)

	resp := api.Get("/api/streams/ghost")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStreamsAPI_CreateInvalidIs422(t *testing.T) {
	api, _ := setupStreamsAPI(t)

	resp := api.Post("/api/streams", map[string]any{
		"name":                "front",
		"url":                 "rtsp://camera.local/stream1",
		"detection_threshold": 2.5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestStreamsAPI_SoftDeleteKeepsRow(t *testing.T) {
	api, db := setupStreamsAPI(t)

	resp := api.Post("/api/streams", map[string]any{
		"name": "front",
		"url":  "rtsp://camera.local/stream1",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = api.Delete("/api/streams/front")
	require.Less(t, resp.Code, 300)

	var count int64
	require.NoError(t, db.Model(&models.Stream{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stream models.Stream
	require.NoError(t, db.Where("name = ?", "front").First(&stream).Error)
	assert.False(t, stream.IsEnabled())
}

func TestStreamsAPI_PermanentDelete(t *testing.T) {
	api, db := setupStreamsAPI(t)

	resp := api.Post("/api/streams", map[string]any{
		"name": "front",
		"url":  "rtsp://camera.local/stream1",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = api.Delete("/api/streams/front?permanent=true")
	require.Less(t, resp.Code, 300)

	var count int64
	require.NoError(t, db.Model(&models.Stream{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	var tombstones int64
	require.NoError(t, db.Model(&models.StreamTombstone{}).Count(&tombstones).Error)
	assert.Equal(t, int64(1), tombstones)
}

func TestStreamsAPI_List(t *testing.T) {
	api, _ := setupStreamsAPI(t)

	for _, name := range []string{"a", "b"} {
		resp := api.Post("/api/streams", map[string]any{
			"name": name,
			"url":  "rtsp://camera.local/" + name,
		})
		require.Equal(t, http.StatusCreated, resp.Code)
	}

	resp := api.Get("/api/streams")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"count":2`)
}
