// Package storage hosts report photos and hands back their public URLs.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"olhovivo/config"
)

// Object is a hosted file.
type Object struct {
	Key string
	URL string
}

// ImageHost stores photos. Delete must be safe to call with a key whose
// upload never completed.
type ImageHost interface {
	Name() string
	Upload(ctx context.Context, key string, data []byte, contentType string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// NewKey returns a unique object key under folder.
func NewKey(folder string, t time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return strings.ToLower(id)
	}
	return folder + "/" + strings.ToLower(id)
}

// NewFromConfig builds the configured host wrapped in a circuit breaker.
func NewFromConfig(cfg *config.Config) (ImageHost, error) {
	var host ImageHost
	switch cfg.ImageHost {
	case "cloud":
		if cfg.CloudUploadURL == "" {
			return nil, fmt.Errorf("CLOUD_UPLOAD_URL is required for the cloud image host")
		}
		host = NewCloudHost(CloudConfig{
			UploadURL:    cfg.CloudUploadURL,
			DestroyURL:   cfg.CloudDestroyURL,
			APIKey:       cfg.CloudAPIKey,
			APISecret:    cfg.CloudAPISecret,
			UploadPreset: cfg.CloudUploadPreset,
			Timeout:      cfg.UploadTimeout,
		})
	case "local", "":
		local, err := NewLocalHost(cfg.LocalUploadDir, cfg.PublicBaseURL+"/uploads")
		if err != nil {
			return nil, err
		}
		host = local
	default:
		return nil, fmt.Errorf("unknown image host %q", cfg.ImageHost)
	}
	return NewBreakerHost(host, uint32(cfg.BreakerMaxFailures), cfg.BreakerOpenInterval), nil
}
