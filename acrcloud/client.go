// Package acrcloud is a small client for an ACRCloud-compatible audio fingerprint
// identify endpoint. Requests are signed with HMAC-SHA1 over the request descriptor
// and sent as a multipart upload of the raw audio sample.
package acrcloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // the remote API mandates HMAC-SHA1 signatures
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoMatch is returned when the service recognised nothing in the sample.
	ErrNoMatch = errors.New("no match")
	// ErrMalformedResponse is returned when the response lacks the expected fields.
	ErrMalformedResponse = errors.New("malformed recognition response")
)

const (
	httpURI          = "/v1/identify"
	dataType         = "audio"
	signatureVersion = "1"

	statusSuccess  = 0
	statusNoResult = 1001
)

// SongMatch is a recognised song.
type SongMatch struct {
	Title           string
	Artists         []string
	Album           string
	Duration        time.Duration
	MultipleResults bool
}

// Client talks to the identify endpoint.
type Client struct {
	URL          string
	AccessKey    string
	AccessSecret string
	HTTPClient   *http.Client

	now func() time.Time
}

// New returns a Client. hostURL may be a bare host or a full identify URL.
func New(hostURL, accessKey, accessSecret string) *Client {
	u := strings.TrimRight(hostURL, "/")
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	if !strings.HasSuffix(u, httpURI) {
		u += httpURI
	}
	return &Client{
		URL:          u,
		AccessKey:    accessKey,
		AccessSecret: accessSecret,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) timestamp() string {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	return strconv.FormatInt(now().Unix(), 10)
}

// Sign computes the request signature for timestamp.
func Sign(secret, accessKey, timestamp string) string {
	toSign := strings.Join([]string{http.MethodPost, httpURI, accessKey, dataType, signatureVersion, timestamp}, "\n")
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(toSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// IdentifyFile reads path and identifies its contents.
func (c *Client) IdentifyFile(ctx context.Context, path string) (*SongMatch, error) {
	sample, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return c.Identify(ctx, sample)
}

// Identify uploads sample and returns the top match.
func (c *Client) Identify(ctx context.Context, sample []byte) (*SongMatch, error) {
	ts := c.timestamp()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fields := [][2]string{
		{"access_key", c.AccessKey},
		{"sample_bytes", strconv.Itoa(len(sample))},
		{"timestamp", ts},
		{"signature", Sign(c.AccessSecret, c.AccessKey, ts)},
		{"data_type", dataType},
		{"signature_version", signatureVersion},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="sample"; filename="sample.mp4"`)
	h.Set("Content-Type", "audio/mpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(sample); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("identify request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("identify status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return parseResponse(resp.Body)
}

type response struct {
	Status *struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	} `json:"status"`
	Metadata *struct {
		Music []struct {
			Title   string `json:"title"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album *struct {
				Name string `json:"name"`
			} `json:"album"`
			DurationMS int64 `json:"duration_ms"`
		} `json:"music"`
	} `json:"metadata"`
}

func parseResponse(r io.Reader) (*SongMatch, error) {
	var body response
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body.Status == nil {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	}
	if body.Status.Code == statusNoResult {
		return nil, ErrNoMatch
	}
	if body.Status.Code != statusSuccess || body.Status.Msg != "Success" {
		return nil, fmt.Errorf("identify failed: %s (code %d)", body.Status.Msg, body.Status.Code)
	}
	if body.Metadata == nil || len(body.Metadata.Music) == 0 {
		return nil, ErrNoMatch
	}
	top := body.Metadata.Music[0]
	if top.Title == "" || len(top.Artists) == 0 {
		return nil, fmt.Errorf("%w: top match lacks title or artists", ErrMalformedResponse)
	}
	m := &SongMatch{
		Title:           top.Title,
		Duration:        time.Duration(top.DurationMS) * time.Millisecond,
		MultipleResults: len(body.Metadata.Music) > 1,
	}
	for _, a := range top.Artists {
		if a.Name != "" {
			m.Artists = append(m.Artists, a.Name)
		}
	}
	if len(m.Artists) == 0 {
		return nil, fmt.Errorf("%w: artists without names", ErrMalformedResponse)
	}
	if top.Album != nil {
		m.Album = top.Album.Name
	}
	return m, nil
}
