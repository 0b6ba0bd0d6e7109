// Package r2s3 mirrors site files to an S3-compatible bucket (Cloudflare R2,
// MinIO, AWS) using SigV4 signed PUTs.
package r2s3

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	algorithm = "AWS4-HMAC-SHA256"
	service   = "s3"
)

var ErrBadKey = errors.New("bad object key")

type Config struct {
	Endpoint        string
	Bucket          string
	Region          string // "auto" for R2
	AccessKeyID     string
	SecretAccessKey string
}

type Client struct {
	base   *url.URL
	cfg    Config
	httpc  *http.Client
	nowUTC func() time.Time
}

func New(cfg Config) (*Client, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKeyID = strings.TrimSpace(cfg.AccessKeyID)
	cfg.SecretAccessKey = strings.TrimSpace(cfg.SecretAccessKey)
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("r2s3: endpoint, bucket, access key and secret are required")
	}
	if !strings.Contains(cfg.Endpoint, "://") {
		cfg.Endpoint = "https://" + cfg.Endpoint
	}
	u, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("r2s3: endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("r2s3: endpoint %q has no host", cfg.Endpoint)
	}
	return &Client{
		base:   u,
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 2 * time.Minute},
		nowUTC: func() time.Time { return time.Now().UTC() },
	}, nil
}

// PutFile uploads localPath under key (path-style addressing).
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	key, ok := cleanKey(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("r2s3: %s is a directory", localPath)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	u := *c.base
	u.Path = "/" + c.cfg.Bucket + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	c.sign(req, hex.EncodeToString(h.Sum(nil)), c.nowUTC())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return fmt.Errorf("r2s3: put %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(body)))
}

// sign adds SigV4 headers over host, x-amz-content-sha256 and x-amz-date.
func (c *Client) sign(req *http.Request, payloadHash string, now time.Time) {
	stamp := now.Format("20060102T150405Z")
	day := now.Format("20060102")
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", stamp)

	const signed = "host;x-amz-content-sha256;x-amz-date"
	canonical := strings.Join([]string{
		req.Method,
		req.URL.EscapedPath(),
		req.URL.RawQuery,
		"host:" + req.URL.Host + "\n" +
			"x-amz-content-sha256:" + payloadHash + "\n" +
			"x-amz-date:" + stamp + "\n",
		signed,
		payloadHash,
	}, "\n")
	scope := day + "/" + c.cfg.Region + "/" + service + "/aws4_request"
	digest := sha256.Sum256([]byte(canonical))
	toSign := algorithm + "\n" + stamp + "\n" + scope + "\n" + hex.EncodeToString(digest[:])

	key := []byte("AWS4" + c.cfg.SecretAccessKey)
	for _, part := range []string{day, c.cfg.Region, service, "aws4_request"} {
		key = hmacSum(key, part)
	}
	sig := hex.EncodeToString(hmacSum(key, toSign))
	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, c.cfg.AccessKeyID, scope, signed, sig))
}

func hmacSum(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(data))
	return m.Sum(nil)
}

// cleanKey normalizes a slash-separated key and refuses ones escaping the root.
func cleanKey(key string) (string, bool) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return "", false
	}
	return clean, true
}
