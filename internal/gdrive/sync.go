package gdrive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Syncer mirrors the call database and export documents into a Drive
// folder. File IDs are remembered per path so repeat syncs update the same
// Drive file instead of piling up copies.
type Syncer struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewSyncer(ctx context.Context, credPath, folderID string) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Syncer{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// Sync uploads the database file and every export JSON under exportDir.
// Missing paths are skipped; upload failures for one file do not stop the
// rest.
func (s *Syncer) Sync(ctx context.Context, dbPath, exportDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	if dbPath != "" {
		if err := s.syncFile(ctx, dbPath); err != nil {
			errs = append(errs, err)
		}
	}

	if exportDir != "" {
		entries, err := os.ReadDir(exportDir)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("read export dir: %w", err))
			}
			return errors.Join(errs...)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			if err := s.syncFile(ctx, filepath.Join(exportDir, entry.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (s *Syncer) syncFile(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := s.fileIDs[localPath]; ok {
		_, err = s.service.Files.Update(fileID, &drive.File{}).Media(f).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("drive update %s: %w", localPath, err)
		}
		return nil
	}

	doc, err := s.service.Files.Create(&drive.File{
		Name:    filepath.Base(localPath),
		Parents: []string{s.folderID},
	}).Media(f).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create %s: %w", localPath, err)
	}

	s.fileIDs[localPath] = doc.Id
	return nil
}
