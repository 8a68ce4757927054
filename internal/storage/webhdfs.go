package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebHDFS mints URLs against an HDFS namenode's WebHDFS endpoint. Upload and
// download URLs point at the datanode the namenode designates; the namenode
// answers the noredirect probe with the target location instead of a 307.
type WebHDFS struct {
	base string // http://namenode:9870
	user string
	http *http.Client
	now  func() time.Time
}

var _ Provider = (*WebHDFS)(nil)

func NewWebHDFS(namenode, user string) *WebHDFS {
	return &WebHDFS{
		base: strings.TrimRight(namenode, "/"),
		user: user,
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}
}

func (w *WebHDFS) opURL(bucket, object, op string, extra url.Values) string {
	v := url.Values{}
	v.Set("op", op)
	if w.user != "" {
		v.Set("user.name", w.user)
	}
	for k, vals := range extra {
		for _, val := range vals {
			v.Add(k, val)
		}
	}
	path := "/webhdfs/v1/" + strings.Trim(bucket, "/") + "/" + strings.TrimLeft(object, "/")
	return w.base + path + "?" + v.Encode()
}

// resolve asks the namenode for the datanode location of an operation.
func (w *WebHDFS) resolve(ctx context.Context, method, opurl string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, opurl, nil)
	if err != nil {
		return "", err
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhdfs: %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhdfs: %s: unexpected status %d", method, resp.StatusCode)
	}
	var body struct {
		Location string `json:"Location"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("webhdfs: decode location: %w", err)
	}
	if body.Location == "" {
		return "", fmt.Errorf("webhdfs: namenode returned no datanode location")
	}
	return body.Location, nil
}

func (w *WebHDFS) SignUpload(ctx context.Context, bucket, object string) (SignedURL, error) {
	opurl := w.opURL(bucket, object, "CREATE", url.Values{
		"overwrite":  {"true"},
		"noredirect": {"true"},
	})
	loc, err := w.resolve(ctx, http.MethodPut, opurl)
	if err != nil {
		return SignedURL{}, err
	}
	return SignedURL{URL: loc, Method: http.MethodPut, ExpiresAt: w.now().Add(URLExpiry)}, nil
}

func (w *WebHDFS) SignDownload(ctx context.Context, bucket, object string) (SignedURL, error) {
	opurl := w.opURL(bucket, object, "OPEN", url.Values{"noredirect": {"true"}})
	loc, err := w.resolve(ctx, http.MethodGet, opurl)
	if err != nil {
		return SignedURL{}, err
	}
	return SignedURL{URL: loc, Method: http.MethodGet, ExpiresAt: w.now().Add(URLExpiry)}, nil
}

func (w *WebHDFS) DeleteObject(ctx context.Context, bucket, object string) error {
	opurl := w.opURL(bucket, object, "DELETE", url.Values{"recursive": {"false"}})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, opurl, nil)
	if err != nil {
		return err
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhdfs: delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhdfs: delete: unexpected status %d", resp.StatusCode)
	}
	return nil
}
