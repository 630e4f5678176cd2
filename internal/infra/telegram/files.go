package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ivankudzin/tgvault/internal/infra/httpclient"
)

const (
	defaultAPIBase  = "https://api.telegram.org/bot"
	defaultFileBase = "https://api.telegram.org/file/bot"

	defaultGetFileTimeout  = 20 * time.Second
	defaultDownloadTimeout = 30 * time.Second
)

// FileClient resolves Telegram file identifiers to their byte content.
// Each call is a synchronous getFile lookup followed by a single full
// download of the resolved path. No retries.
type FileClient struct {
	token    string
	apiBase  string
	fileBase string

	apiClient      *http.Client
	downloadClient *http.Client
}

type FileClientConfig struct {
	Token           string
	APIBase         string
	FileBase        string
	GetFileTimeout  time.Duration
	DownloadTimeout time.Duration
}

type getFileResponse struct {
	OK     bool   `json:"ok"`
	Result struct {
		FileID   string `json:"file_id"`
		FilePath string `json:"file_path"`
	} `json:"result"`
	Description string `json:"description"`
}

func NewFileClient(cfg FileClientConfig) (*FileClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	fileBase := cfg.FileBase
	if fileBase == "" {
		fileBase = defaultFileBase
	}
	getFileTimeout := cfg.GetFileTimeout
	if getFileTimeout <= 0 {
		getFileTimeout = defaultGetFileTimeout
	}
	downloadTimeout := cfg.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = defaultDownloadTimeout
	}

	return &FileClient{
		token:          strings.TrimSpace(cfg.Token),
		apiBase:        apiBase,
		fileBase:       fileBase,
		apiClient:      httpclient.New(getFileTimeout),
		downloadClient: httpclient.New(downloadTimeout),
	}, nil
}

// Download resolves fileID via getFile and fetches the content in full.
// Returns the bytes and the filename taken from the last segment of the
// resolved file path.
func (c *FileClient) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, "", fmt.Errorf("file id is required")
	}

	filePath, err := c.getFilePath(ctx, fileID)
	if err != nil {
		return nil, "", err
	}

	content, err := c.downloadPath(ctx, filePath)
	if err != nil {
		return nil, "", err
	}

	name := path.Base(filePath)
	if name == "." || name == "/" || name == "" {
		name = "file"
	}

	return content, name, nil
}

func (c *FileClient) getFilePath(ctx context.Context, fileID string) (string, error) {
	getFileURL := fmt.Sprintf("%s%s/getFile?%s", c.apiBase, c.token, url.Values{"file_id": {fileID}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getFileURL, nil)
	if err != nil {
		return "", fmt.Errorf("create getFile request: %w", err)
	}

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call telegram getFile: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload getFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode getFile response: %w", err)
	}

	if strings.TrimSpace(payload.Result.FilePath) == "" {
		if payload.Description != "" {
			return "", fmt.Errorf("telegram returned no file_path for file_id %s: %s", fileID, payload.Description)
		}
		return "", fmt.Errorf("telegram returned no file_path for file_id %s", fileID)
	}

	return payload.Result.FilePath, nil
}

func (c *FileClient) downloadPath(ctx context.Context, filePath string) ([]byte, error) {
	fileURL := fmt.Sprintf("%s%s/%s", c.fileBase, c.token, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create file download request: %w", err)
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download telegram file: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected telegram file status: %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read telegram file body: %w", err)
	}

	return content, nil
}
