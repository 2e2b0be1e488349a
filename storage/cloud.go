package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// CloudConfig points at a Cloudinary-style upload API.
type CloudConfig struct {
	UploadURL  string
	DestroyURL string
	APIKey     string
	APISecret  string
	// UploadPreset enables unsigned uploads when no secret is configured.
	UploadPreset string
	Timeout      time.Duration
}

// CloudHost uploads photos with signed (or preset-based) multipart
// requests and deletes them through the destroy endpoint.
type CloudHost struct {
	cfg    CloudConfig
	client *http.Client
	now    func() time.Time
}

func NewCloudHost(cfg CloudConfig) *CloudHost {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CloudHost{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, now: time.Now}
}

func (h *CloudHost) Name() string { return "cloud" }

type cloudUploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	PublicID  string `json:"public_id"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// sign returns the SHA-1 signature over the sorted parameters.
func (h *CloudHost) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&") + h.cfg.APISecret))
	return hex.EncodeToString(sum[:])
}

// signed adds the authentication fields to params.
func (h *CloudHost) signed(params map[string]string) map[string]string {
	if h.cfg.APISecret == "" {
		if h.cfg.UploadPreset != "" {
			params["upload_preset"] = h.cfg.UploadPreset
		}
		return params
	}
	params["timestamp"] = strconv.FormatInt(h.now().Unix(), 10)
	sig := h.sign(params)
	params["api_key"] = h.cfg.APIKey
	params["signature"] = sig
	return params
}

func (h *CloudHost) Upload(ctx context.Context, key string, data []byte, contentType string) (*Object, error) {
	folder, publicID := path.Split(key)
	params := map[string]string{"public_id": publicID}
	if folder = strings.Trim(folder, "/"); folder != "" {
		params["folder"] = folder
	}
	params = h.signed(params)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("file", publicID+extension(contentType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.UploadURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	var out cloudUploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid upload response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || out.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("upload rejected (status %d): %s", resp.StatusCode, msg)
	}

	u := out.SecureURL
	if u == "" {
		u = out.URL
	}
	if u == "" || out.PublicID == "" {
		return nil, fmt.Errorf("upload response missing url or public id")
	}
	return &Object{Key: out.PublicID, URL: u}, nil
}

func (h *CloudHost) Delete(ctx context.Context, key string) error {
	if h.cfg.DestroyURL == "" || h.cfg.APISecret == "" {
		return fmt.Errorf("deleting %s requires CLOUD_DESTROY_URL and CLOUD_API_SECRET", key)
	}
	params := h.signed(map[string]string{"public_id": key})
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.DestroyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("destroy request failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return fmt.Errorf("invalid destroy response (status %d): %w", resp.StatusCode, err)
	}
	if out.Result != "ok" && out.Result != "not found" {
		return fmt.Errorf("destroy %s failed: %s", key, out.Result)
	}
	return nil
}
