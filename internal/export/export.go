// Package export turns a session into a downloaded file or an external document.
package export

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/studybuddy/internal/api"
	"github.com/hpungsan/studybuddy/internal/config"
	"github.com/hpungsan/studybuddy/internal/errors"
	"github.com/hpungsan/studybuddy/internal/session"
)

// DefaultFilename is the download name used when none is given.
const DefaultFilename = "StudyNotes"

// Service produces download artifacts and external documents.
type Service interface {
	Download(ctx context.Context, in api.DownloadRequest) ([]byte, error)
	Export(ctx context.Context, in api.ExportRequest) (string, error)
}

// Adapter hands session content to the Service and delivers the results.
type Adapter struct {
	svc         Service
	cfg         *config.Config
	downloadDir string
	loginURL    string
	log         *logrus.Logger
}

// New creates an Adapter writing downloads into downloadDir.
func New(svc Service, cfg *config.Config, downloadDir, loginURL string, log *logrus.Logger) *Adapter {
	return &Adapter{
		svc:         svc,
		cfg:         cfg,
		downloadDir: downloadDir,
		loginURL:    loginURL,
		log:         log,
	}
}

// DownloadInput contains parameters for Download.
type DownloadInput struct {
	Extracted string
	Summary   string
	Format    session.Format
	// Filename is the base name without extension. Defaults to DefaultFilename.
	Filename string
}

// DownloadOutput is returned by Download.
type DownloadOutput struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// Download asks the Service for the artifact and saves it under the download dir.
func (a *Adapter) Download(ctx context.Context, in DownloadInput) (*DownloadOutput, error) {
	format := in.Format
	if format == "" {
		format = session.FormatTxt
	}

	data, err := a.svc.Download(ctx, api.DownloadRequest{
		Extracted: in.Extracted,
		Summary:   in.Summary,
		Format:    string(format),
	})
	if err != nil {
		a.log.WithFields(logrus.Fields{"op": "download", "format": format}).WithError(err).Warn("download failed")
		return nil, errors.NewDownloadFailed(err)
	}

	name := strings.TrimSuffix(strings.TrimSpace(in.Filename), format.Ext())
	path := filepath.Join(a.downloadDir, SanitizeForFilename(name)+format.Ext())
	if err := os.MkdirAll(a.downloadDir, 0700); err != nil {
		return nil, errors.NewDownloadFailed(fmt.Errorf("create download directory: %w", err))
	}
	if err := ValidatePath(path, a.cfg, a.downloadDir); err != nil {
		return nil, err
	}
	if err := writeAtomic(path, data); err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewDownloadFailed(err)
	}

	a.log.WithFields(logrus.Fields{"op": "download", "path": path}).Info("artifact saved")
	return &DownloadOutput{Path: path, Bytes: len(data)}, nil
}

// ExportInput contains parameters for Export.
type ExportInput struct {
	Extracted string
	Summary   string
	Title     string
}

// Export creates an external document and returns its locator.
// Failures carry the login redirect as a fallback remediation.
func (a *Adapter) Export(ctx context.Context, in ExportInput) (string, error) {
	url, err := a.svc.Export(ctx, api.ExportRequest{
		Extracted: in.Extracted,
		Summary:   in.Summary,
		Title:     in.Title,
	})
	if err != nil {
		a.log.WithField("op", "export").WithError(err).Warn("export failed")
		return "", errors.NewExportFailed(err, a.loginURL)
	}
	return url, nil
}

// writeAtomic writes data to a temp file beside path and renames it into place.
// An existing file at path survives any failure.
func writeAtomic(path string, data []byte) (err error) {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Errorf("generate temp file name: %w", err)
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"

	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if file != nil {
			file.Close()
		}
		if err != nil {
			os.Remove(tempPath)
		}
	}()

	if _, err = file.Write(data); err != nil {
		return err
	}
	if err = file.Sync(); err != nil {
		return err
	}
	// Close before rename (required on Windows).
	if err = file.Close(); err != nil {
		return fmt.Errorf("close download file: %w", err)
	}
	file = nil

	// os.Rename would follow a symlinked destination.
	if info, lerr := os.Lstat(path); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewValidation("download path is a symlink")
	}

	if err = os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewValidation("download destination already exists; choose another file name")
			}
		}
		return fmt.Errorf("finalize download: %w", err)
	}
	return nil
}
