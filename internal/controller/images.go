package controller

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentify/agentifyd/pkg/models"
)

var mimeExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/svg+xml": "svg",
}

// SaveImages collects images from the latest assistant message and
// writes them under dir. Data-URL images are decoded in place; plain
// http(s) references are fetched with the caller's context. Failures on
// individual images are skipped, not fatal.
func (c *Controller) SaveImages(ctx context.Context, dir string, max int) ([]models.SavedImage, error) {
	refs, err := c.insp.AssistantImages(max)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("image dir: %w", err)
	}

	stamp := c.now().UnixMilli()
	var saved []models.SavedImage
	for i, ref := range refs {
		var img models.SavedImage
		var ok bool
		switch {
		case ref.DataURL != "":
			img, ok = c.saveDataURL(dir, stamp, i, ref)
		case strings.HasPrefix(ref.Src, "http://") || strings.HasPrefix(ref.Src, "https://"):
			img, ok = c.fetchImage(ctx, dir, stamp, i, ref)
		}
		if ok {
			saved = append(saved, img)
		}
	}
	return saved, nil
}

func (c *Controller) saveDataURL(dir string, stamp int64, idx int, ref models.ImageRef) (models.SavedImage, bool) {
	// data:image/png;base64,....
	rest, found := strings.CutPrefix(ref.DataURL, "data:")
	if !found {
		return models.SavedImage{}, false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return models.SavedImage{}, false
	}
	mime := strings.TrimSuffix(meta, ";base64")
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		c.log.Debugw("skipping undecodable image", "src", ref.Src, "error", err)
		return models.SavedImage{}, false
	}

	path := filepath.Join(dir, imageName(stamp, idx, mime))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		c.log.Warnw("image write failed", "path", path, "error", err)
		return models.SavedImage{}, false
	}
	return models.SavedImage{Path: path, Alt: ref.Alt, MIME: mime, Source: ref.Src}, true
}

func (c *Controller) fetchImage(ctx context.Context, dir string, stamp int64, idx int, ref models.ImageRef) (models.SavedImage, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ref.Src, nil)
	if err != nil {
		return models.SavedImage{}, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.log.Debugw("image fetch failed", "src", ref.Src, "error", err)
		return models.SavedImage{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.SavedImage{}, false
	}

	mime := strings.Split(resp.Header.Get("Content-Type"), ";")[0]
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 15<<20))
	if err != nil {
		return models.SavedImage{}, false
	}

	path := filepath.Join(dir, imageName(stamp, idx, mime))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		c.log.Warnw("image write failed", "path", path, "error", err)
		return models.SavedImage{}, false
	}
	return models.SavedImage{Path: path, Alt: ref.Alt, MIME: mime, Source: ref.Src}, true
}

func imageName(stamp int64, idx int, mime string) string {
	ext := mimeExt[mime]
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("reply-%d-%d.%s", stamp, idx+1, ext)
}
