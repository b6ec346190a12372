package controller

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentify/agentifyd/pkg/models"
)

var tinyPNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestSaveImagesDataURL(t *testing.T) {
	insp := &fakeInspector{}
	c, _, _, _ := newTestController(insp)
	dir := t.TempDir()

	payload := base64.StdEncoding.EncodeToString(tinyPNG)
	insp.images = []models.ImageRef{
		{Src: "blob:xyz", Alt: "diagram", DataURL: "data:image/png;base64," + payload},
		{Src: "blob:bad", DataURL: "data:image/png;base64,%%%not-base64%%%"},
	}

	saved, err := c.SaveImages(context.Background(), dir, 6)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	assert.Equal(t, "image/png", saved[0].MIME)
	assert.Equal(t, "diagram", saved[0].Alt)
	assert.Equal(t, "blob:xyz", saved[0].Source)
	assert.Equal(t, ".png", filepath.Ext(saved[0].Path))
	data, err := os.ReadFile(saved[0].Path)
	require.NoError(t, err)
	assert.Equal(t, tinyPNG, data)
}

func TestSaveImagesFetchesHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	insp := &fakeInspector{images: []models.ImageRef{{Src: srv.URL + "/pic"}}}
	c, _, _, _ := newTestController(insp)
	dir := t.TempDir()

	saved, err := c.SaveImages(context.Background(), dir, 6)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "image/jpeg", saved[0].MIME)
	assert.Equal(t, ".jpg", filepath.Ext(saved[0].Path))
}

func TestSaveImagesSkipsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	insp := &fakeInspector{images: []models.ImageRef{
		{Src: srv.URL + "/missing"},
		{Src: "ftp://unsupported/scheme"},
	}}
	c, _, _, _ := newTestController(insp)

	saved, err := c.SaveImages(context.Background(), t.TempDir(), 6)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestSaveImagesNoRefs(t *testing.T) {
	c, _, _, _ := newTestController(&fakeInspector{})
	dir := filepath.Join(t.TempDir(), "never-created")

	saved, err := c.SaveImages(context.Background(), dir, 6)
	require.NoError(t, err)
	assert.Empty(t, saved)
	assert.NoDirExists(t, dir)
}

func TestImageName(t *testing.T) {
	assert.Equal(t, "reply-42-1.png", imageName(42, 0, "image/png"))
	assert.Equal(t, "reply-42-3.bin", imageName(42, 2, "application/octet-stream"))
}
