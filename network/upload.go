package network

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"

	"github.com/filebeam/filebeam/network/rangeupload"
)

// UploadParams ...
type UploadParams struct {
	APIBaseURL string
	Token      string
	Username   string
	Password   string

	// LocalPath is a file path or a doublestar glob; every regular file it
	// matches is uploaded through its own session.
	LocalPath  string
	RemotePath string
	Secured    bool

	ChunkSizeBytes int
	RedirectMode   rangeupload.RedirectMode

	// Headers are caller-supplied extras added to every chunk request.
	Headers map[string]string
}

// Upload sends every file matched by params.LocalPath to the hosting service
// in range-addressed chunks. Login happens lazily, only when no token was
// supplied; a login failure aborts the whole operation.
func Upload(ctx context.Context, params UploadParams, logger log.Logger) error {
	if params.APIBaseURL == "" {
		return fmt.Errorf("API base URL is empty")
	}
	if params.Token == "" && params.Username == "" {
		return fmt.Errorf("no token and no credentials provided: %w", ErrAuthFailure)
	}

	client := newAPIClient(retryhttp.NewClient(logger), params.APIBaseURL, params.Token, logger)

	if client.token == "" {
		logger.Debugf("No cached token, logging in as %s", params.Username)
		if err := client.login(params.Username, params.Password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	paths, err := expandLocalPaths(params.LocalPath)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no file matches %s", params.LocalPath)
	}

	driver := rangeupload.New(rangeupload.Config{
		ChunkSizeBytes: params.ChunkSizeBytes,
		RedirectMode:   params.RedirectMode,
	}, logger)

	for _, path := range paths {
		if err := uploadFile(ctx, client, driver, path, params, logger); err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
	}

	return nil
}

func uploadFile(ctx context.Context, client *apiClient, driver *rangeupload.Driver, path string, params UploadParams, logger log.Logger) error {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	logger.Printf("File size: %s", units.HumanSizeWithPrecision(float64(fileInfo.Size()), 3))

	logger.Debugf("Create upload session")
	session, err := client.createUploadSession(createUploadSessionRequest{
		Name:    filepath.Base(path),
		Size:    fileInfo.Size(),
		Path:    params.RemotePath,
		Secured: params.Secured,
	})
	if err != nil {
		return fmt.Errorf("failed to create upload session: %w", err)
	}

	// A zero-length file needs the session but no transfer; the session
	// response is the operation's result.
	if fileInfo.Size() == 0 {
		logger.Infof("Zero-length file, session created at %s, nothing to transfer", session.Location)
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			logger.Errorf("failed to close file: %s", err)
		}
	}(file)

	result, err := driver.Upload(ctx, session.Location, fileInfo.Size(), file, client.sessionHeaders(params.Headers))
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	if result.Location != "" {
		logger.Printf("Upload location: %s", result.Location)
		return nil
	}

	logger.Donef("Uploaded %s", filepath.Base(path))
	logger.Debugf("Finished-file metadata: %s", string(result.Body))
	return nil
}

// expandLocalPaths resolves a path or doublestar glob to the regular files it
// matches.
func expandLocalPaths(pattern string) ([]string, error) {
	absPattern, err := filepath.Abs(pattern)
	if err != nil {
		return nil, fmt.Errorf("normalize path %s: %w", pattern, err)
	}

	base, glob := doublestar.SplitPattern(filepath.ToSlash(absPattern))
	matches, err := doublestar.Glob(os.DirFS(base), glob, doublestar.WithNoFollow())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	var files []string
	for _, match := range matches {
		path := filepath.Join(base, match)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		files = append(files, path)
	}

	return files, nil
}
