package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/campuslife/CampusChat/pkg/transport"
)

const storageRequestTimeout = 30 * time.Second

var errForeignMediaURL = errors.New("media url is not in the configured bucket")

// MediaStore keeps chat attachments. Keys are object paths relative to the
// bucket; URLs are what messages carry.
type MediaStore interface {
	Put(ctx context.Context, key string, content io.Reader) (string, error)
	Delete(ctx context.Context, mediaURL string) error
	Owns(mediaURL string) bool
}

// SupabaseMediaStore stores attachments in a public Supabase bucket.
type SupabaseMediaStore struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseMediaStore(baseURL, bucket, serviceKey string) *SupabaseMediaStore {
	return &SupabaseMediaStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: transport.NewClient(storageRequestTimeout),
	}
}

func (s *SupabaseMediaStore) Put(ctx context.Context, key string, content io.Reader) (string, error) {
	key, err := cleanObjectKey(key)
	if err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxMediaSizeBytes+1))
	if err != nil {
		return "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > MaxMediaSizeBytes {
		return "", fmt.Errorf("%w: file exceeds 10MB limit", ErrInvalidInput)
	}

	// bytes.Reader bodies get GetBody, so the retrying client can resend.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build media upload: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(data))
	req.Header.Set("Cache-Control", "max-age=31536000")
	req.Header.Set("x-upsert", "false")

	if err := s.send(req, "upload media"); err != nil {
		return "", err
	}
	return s.publicURL(key), nil
}

// Delete removes the object behind mediaURL. A missing object is not an
// error.
func (s *SupabaseMediaStore) Delete(ctx context.Context, mediaURL string) error {
	key, err := s.keyFromURL(mediaURL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("build media delete: %w", err)
	}
	err = s.send(req, "delete media")
	var status *storageStatusError
	if errors.As(err, &status) && status.code == http.StatusNotFound {
		return nil
	}
	return err
}

// Owns reports whether mediaURL was issued by this store.
func (s *SupabaseMediaStore) Owns(mediaURL string) bool {
	_, err := s.keyFromURL(mediaURL)
	return err == nil
}

type storageStatusError struct {
	op   string
	code int
	body string
}

func (e *storageStatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.op, e.code, e.body)
}

func (s *SupabaseMediaStore) send(req *http.Request, op string) error {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &storageStatusError{op: op, code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *SupabaseMediaStore) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, key)
}

func (s *SupabaseMediaStore) publicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key)
}

// keyFromURL accepts only public URLs on the store's own host.
func (s *SupabaseMediaStore) keyFromURL(mediaURL string) (string, error) {
	parsed, err := url.Parse(mediaURL)
	if err != nil {
		return "", fmt.Errorf("parse media url: %w", err)
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse storage url: %w", err)
	}
	if parsed.Scheme != base.Scheme || parsed.Host != base.Host {
		return "", errForeignMediaURL
	}

	prefix := strings.TrimRight(base.Path, "/") + "/storage/v1/object/public/" + s.bucket + "/"
	if !strings.HasPrefix(parsed.Path, prefix) {
		return "", errForeignMediaURL
	}
	return cleanObjectKey(strings.TrimPrefix(parsed.Path, prefix))
}

func cleanObjectKey(key string) (string, error) {
	key = strings.Trim(key, "/")
	if key == "" || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return "", fmt.Errorf("%w: bad media key %q", ErrInvalidInput, key)
	}
	return key, nil
}
