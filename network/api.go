package network

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token         string `json:"token"`
	SessionCookie string `json:"session_cookie"`
}

type createUploadSessionRequest struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Path    string `json:"path"`
	Secured bool   `json:"secured"`
}

type createUploadSessionResponse struct {
	Location string `json:"location"`
}

type downloadLinkResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type apiClient struct {
	httpClient    *retryablehttp.Client
	baseURL       string
	token         string
	sessionCookie string
	logger        log.Logger
}

func newAPIClient(client *retryablehttp.Client, baseURL string, token string, logger log.Logger) *apiClient {
	return &apiClient{
		httpClient: client,
		baseURL:    baseURL,
		token:      token,
		logger:     logger,
	}
}

// login exchanges credentials for a session token and cookie. A transport-level
// success that carries no token is an auth failure.
func (c *apiClient) login(username, password string) error {
	url := fmt.Sprintf("%s/sessions", c.baseURL)

	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return unwrapError(resp)
	}

	var response loginResponse
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return err
	}

	if response.Token == "" {
		return ErrAuthFailure
	}

	c.token = response.Token
	c.sessionCookie = response.SessionCookie
	return nil
}

func (c *apiClient) createUploadSession(requestBody createUploadSessionRequest) (createUploadSessionResponse, error) {
	url := fmt.Sprintf("%s/upload-sessions", c.baseURL)

	body, err := json.Marshal(requestBody)
	if err != nil {
		return createUploadSessionResponse{}, err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return createUploadSessionResponse{}, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Content-type", "application/json")

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Upload session request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return createUploadSessionResponse{}, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return createUploadSessionResponse{}, unwrapError(resp)
	}

	var response createUploadSessionResponse
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return createUploadSessionResponse{}, err
	}

	// A session response without a location means the service refused the
	// upload for this identity.
	if response.Location == "" {
		return createUploadSessionResponse{}, ErrSessionCreation
	}

	return response, nil
}

func (c *apiClient) downloadLink(fileID string) (downloadLinkResponse, error) {
	apiURL := fmt.Sprintf("%s/files/%s/link", c.baseURL, url.PathEscape(fileID))

	req, err := retryablehttp.NewRequest(http.MethodGet, apiURL, nil)
	if err != nil {
		return downloadLinkResponse{}, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return downloadLinkResponse{}, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return downloadLinkResponse{}, ErrFileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return downloadLinkResponse{}, unwrapError(resp)
	}

	var response downloadLinkResponse
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return downloadLinkResponse{}, err
	}

	return response, nil
}

// sessionHeaders builds the header template for chunk requests: bearer token,
// session cookie, plus any caller-supplied extras (which win on conflict).
func (c *apiClient) sessionHeaders(extra map[string]string) map[string]string {
	headers := map[string]string{}
	if c.token != "" {
		headers["Authorization"] = fmt.Sprintf("Bearer %s", c.token)
	}
	if c.sessionCookie != "" {
		headers["Cookie"] = fmt.Sprintf("fb_session=%s", c.sessionCookie)
	}
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
