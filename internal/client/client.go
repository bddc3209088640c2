// Package client 是上传/取回接口的类型化 HTTP 客户端，cmd/vaultctl 与上游服务都通过它调用。
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"textvault/internal/repository"

	"go.uber.org/zap"
)

const filesPath = "/api/files"

// Config 描述客户端连接参数。
type Config struct {
	// BaseURL 为服务根地址，如 "http://localhost:8080"
	BaseURL string
	// HTTPClient 为空时使用 http.DefaultClient
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client 调用文本文件服务的上传与下载接口。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New 创建客户端。
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: BaseURL %q must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// UploadResult 是上传接口的响应。
type UploadResult struct {
	ID           string `json:"id"`
	Deduplicated bool   `json:"deduplicated"`
}

// Download 是取回的文件，调用方负责关闭 Content。
type Download struct {
	ID      string
	Name    string
	Size    int64
	Content io.ReadCloser
}

// APIError 是服务端返回的非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: http %d", e.StatusCode)
	}
	return fmt.Sprintf("client: http %d: %s", e.StatusCode, e.Message)
}

// IsNotFound 判断 err 是否为服务端的 404。
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsInvalidInput 判断上传是否因内容不合法被拒绝（400 或 413）。
func IsInvalidInput(err error) bool {
	return hasStatus(err, http.StatusBadRequest) || hasStatus(err, http.StatusRequestEntityTooLarge)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Upload 以 multipart 形式流式上传 r 的内容，name 为显示文件名。
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*UploadResult, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+filesPath, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("client: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("client: upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	// 服务端提前拒绝时结束写入协程
	pr.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("client: decode upload response: %w", err)
	}
	c.logger.Debug("uploaded file",
		zap.String("name", name),
		zap.String("id", result.ID),
		zap.Bool("deduplicated", result.Deduplicated),
	)
	return &result, nil
}

// Download 取回 id 对应的原始字节与文件名。
func (c *Client) Download(ctx context.Context, id string) (*Download, error) {
	resp, err := c.get(ctx, filesPath+"/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}

	return &Download{
		ID:      id,
		Name:    name,
		Size:    resp.ContentLength,
		Content: resp.Body,
	}, nil
}

// Stat 返回 id 对应的元数据。
func (c *Client) Stat(ctx context.Context, id string) (*repository.FileRecord, error) {
	resp, err := c.get(ctx, filesPath+"/"+url.PathEscape(id)+"/meta")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var envelope struct {
		Data *repository.FileRecord `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("client: decode meta response: %w", err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("client: meta response has no data")
	}
	return envelope.Data, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: GET %s: %w", path, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
