package network

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// DownloadParams ...
type DownloadParams struct {
	APIBaseURL string
	Token      string
	Username   string
	Password   string

	// FileRef is either a file ID known to the API or an absolute URL.
	FileRef string

	// OutputPath is the local destination (-o). When UseRemoteName is set
	// (-O) the name reported by the service wins instead.
	OutputPath    string
	UseRemoteName bool

	// FollowLocation mirrors -L: when false, the resolved download location
	// is reported instead of being fetched.
	FollowLocation bool

	Headers map[string]string
}

// Download resolves params.FileRef to a direct URL and streams it to disk.
// It returns the written file path, or the resolved location when
// params.FollowLocation is false.
func Download(ctx context.Context, params DownloadParams, logger log.Logger) (string, error) {
	if params.FileRef == "" {
		return "", fmt.Errorf("file reference is empty")
	}

	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = createCustomRetryFunction(logger)
	client := newAPIClient(retryableHTTPClient, params.APIBaseURL, params.Token, logger)

	if client.token == "" && params.Username != "" && params.APIBaseURL != "" {
		logger.Debugf("No cached token, logging in as %s", params.Username)
		if err := client.login(params.Username, params.Password); err != nil {
			return "", fmt.Errorf("login: %w", err)
		}
	}

	downloadURL := params.FileRef
	remoteName := ""
	if !isAbsoluteURL(params.FileRef) {
		if params.APIBaseURL == "" {
			return "", fmt.Errorf("API base URL is empty")
		}
		logger.Debugf("Get download URL")
		link, err := client.downloadLink(params.FileRef)
		if err != nil {
			return "", fmt.Errorf("failed to get download URL: %w", err)
		}
		downloadURL = link.URL
		remoteName = link.Name
	}

	if !params.FollowLocation {
		logger.Printf("Not following location: %s", downloadURL)
		return downloadURL, nil
	}

	dest, err := resolveDestination(params, downloadURL, remoteName)
	if err != nil {
		return "", err
	}

	logger.Debugf("Download file to %s", dest)
	err = downloadFile(ctx, retryableHTTPClient.StandardClient(), downloadURL, dest, client.sessionHeaders(params.Headers))
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}

	return dest, nil
}

func createCustomRetryFunction(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}
}

func downloadFile(ctx context.Context, client *http.Client, downloadURL string, dest string, headers map[string]string) error {
	download := got.NewDownload(ctx, downloadURL, dest)
	for k, v := range headers {
		download.Header = append(download.Header, got.GotHeader{Key: k, Value: v})
	}

	downloader := got.New()
	downloader.Client = client

	return downloader.Do(download)
}

func resolveDestination(params DownloadParams, downloadURL string, remoteName string) (string, error) {
	if params.OutputPath != "" && !params.UseRemoteName {
		return params.OutputPath, nil
	}

	if remoteName != "" {
		return remoteName, nil
	}

	parsed, err := url.Parse(downloadURL)
	if err != nil {
		return "", fmt.Errorf("parse download URL: %w", err)
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("cannot derive a file name from %s", downloadURL)
	}
	return name, nil
}

func isAbsoluteURL(ref string) bool {
	parsed, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
