package gamesim

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// UploadBuild registers a build named name and uploads the zip at zipPath to
// the transfer URL the service hands back. It returns the build id.
func (c *Client) UploadBuild(ctx context.Context, name, zipPath string, metrics []string) (string, error) {
	data, err := os.ReadFile(zipPath)
	if err != nil {
		return "", fmt.Errorf("gamesim: read build: %w", err)
	}
	if metrics == nil {
		metrics = []string{}
	}

	raw, err := c.doRequestWithRetry(ctx, http.MethodPost, "v1/builds", uploadInfo{
		Name:              name,
		Description:       "Placeholder description",
		SimulationMetrics: metrics,
	})
	if err != nil {
		return "", fmt.Errorf("gamesim: request upload url: %w", err)
	}
	var target uploadURLResponse
	if err := json.Unmarshal(raw, &target); err != nil {
		return "", fmt.Errorf("gamesim: decode upload url: %w", err)
	}
	if target.ID == "" || target.UploadURI == "" {
		return "", errors.New("gamesim: upload url response is incomplete")
	}

	if err := c.put(ctx, target.UploadURI, data); err != nil {
		return "", err
	}
	return target.ID, nil
}

// put sends the archive to a pre-signed transfer URL. The URL carries its own
// credentials, so no bearer token is attached.
func (c *Client) put(ctx context.Context, uri string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("gamesim: create upload request: %w", err)
	}
	req.Header.Set("User-Agent", "gamesim/"+Version)
	req.Header.Set("Content-Type", "application/zip")
	req.ContentLength = int64(len(data))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gamesim: upload: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// ZipBuild packages a Linux player build directory into dest. Entries are
// stored relative to dir with forward slashes; dest itself is skipped when it
// lives inside dir.
func ZipBuild(dir, dest string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("gamesim: stat build dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("gamesim: %s is not a directory", dir)
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("gamesim: create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if abs, _ := filepath.Abs(path); abs == absDest {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})

	closeErr := zw.Close()
	if err := out.Close(); closeErr == nil {
		closeErr = err
	}
	if walkErr != nil {
		os.Remove(dest)
		return fmt.Errorf("gamesim: zip build: %w", walkErr)
	}
	if closeErr != nil {
		os.Remove(dest)
		return fmt.Errorf("gamesim: finish archive: %w", closeErr)
	}
	return nil
}

// HasLinuxPlayer reports whether dir looks like a Linux player build: a
// player binary such as Game.x86_64 next to a Game_Data directory.
func HasLinuxPlayer(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = e.IsDir()
	}
	for name, isDir := range names {
		if isDir {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if names[base+"_Data"] {
			return true
		}
	}
	return false
}
