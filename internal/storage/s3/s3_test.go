package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hatdata/internal/storage"
)

var _ storage.Adapter = (*Adapter)(nil)
var _ storage.Enumerator = (*Adapter)(nil)

// mockRoundTripper provides a tiny fake S3 subset sufficient to exercise the
// adapter without network access. Objects are keyed by object key.
type mockRoundTripper struct {
	state    map[string][]byte
	pageSize int
	fail     bool
}

func xmlResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/xml"}},
	}
}

func emptyResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.fail {
		return emptyResponse(http.StatusServiceUnavailable), nil
	}
	// Expect path-style: /bucket/key
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		return m.list(req), nil
	}
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		m.state[key] = body
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {"\"etag\""}}}, nil
	case http.MethodGet:
		body, ok := m.state[key]
		if !ok {
			return emptyResponse(http.StatusNotFound), nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {"application/json"},
		}}, nil
	case http.MethodDelete:
		delete(m.state, key)
		return emptyResponse(http.StatusNoContent), nil
	}
	return emptyResponse(http.StatusNotImplemented), nil
}

func (m *mockRoundTripper) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	start := 0
	if tok := req.URL.Query().Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	var keys []string
	for k := range m.state {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	end := len(keys)
	truncated := false
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
		truncated = true
	}
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><ListBucketResult>")
	if truncated {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%d</NextContinuationToken>", end)
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys[start:end] {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(m.state[k]))
	}
	b.WriteString("</ListBucketResult>")
	return xmlResponse(b.String())
}

// decodeChunked decodes a single-chunk aws-chunked payload: <hex>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	sz, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != sz || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newMockAdapter(t *testing.T, prefix string) (*Adapter, *mockRoundTripper) {
	t.Helper()
	rt := &mockRoundTripper{state: make(map[string][]byte)}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.RetryMaxAttempts = 1
	})
	return NewWithClient(client, "test-bucket", prefix), rt
}

func TestAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	a, rt := newMockAdapter(t, "app/")

	v, err := a.Get(ctx, "Users/1")
	require.NoError(t, err)
	assert.Nil(t, v, "missing object reads as nil")

	require.NoError(t, a.Set(ctx, "Users/1", map[string]any{"id": 1, "name": "ada"}))
	assert.Contains(t, rt.state, "app/Users/1")

	got, err := a.Get(ctx, "Users/1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "ada"}, got)

	require.NoError(t, a.Set(ctx, "Users/1", map[string]any{"id": 1, "name": "grace"}))
	got, err = a.Get(ctx, "Users/1")
	require.NoError(t, err)
	assert.Equal(t, "grace", got.(map[string]any)["name"])

	require.NoError(t, a.Delete(ctx, "Users/1"))
	got, err = a.Get(ctx, "Users/1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAdapter_GetAllKeysPaginated(t *testing.T) {
	ctx := context.Background()
	a, rt := newMockAdapter(t, "p/")
	rt.pageSize = 2
	rt.state["other/x"] = []byte("1")

	for _, k := range []string{"c", "a", "b", "d", "e"} {
		require.NoError(t, a.Set(ctx, k, k))
	}

	keys, err := a.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
}

func TestAdapter_BatchFallback(t *testing.T) {
	ctx := context.Background()
	a, _ := newMockAdapter(t, "")

	require.NoError(t, storage.SetMultiple(ctx, a, map[string]any{"x": 1, "y": 2}))
	got, err := storage.GetMultiple(ctx, a, []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, got)
}

func TestAdapter_ServerError(t *testing.T) {
	ctx := context.Background()
	a, rt := newMockAdapter(t, "")
	rt.fail = true

	_, err := a.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, a.Set(ctx, "k", 1))
	_, err = a.GetAllKeys(ctx)
	assert.Error(t, err)
}

func TestAdapter_SetRejectsUnencodable(t *testing.T) {
	a, rt := newMockAdapter(t, "")
	assert.Error(t, a.Set(context.Background(), "k", make(chan int)))
	assert.Empty(t, rt.state)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNew_ExplicitConfig(t *testing.T) {
	rt := &mockRoundTripper{state: make(map[string][]byte)}
	a, err := New(context.Background(), Config{
		Bucket:          "bkt",
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: rt},
	})
	require.NoError(t, err)
	assert.Equal(t, storage.DriverS3, a.Driver())

	require.NoError(t, a.Set(context.Background(), "k", "v"))
	assert.Contains(t, rt.state, "k")
}

func TestOpenFromEnv(t *testing.T) {
	t.Setenv("HATDATA_S3_BUCKET", "")
	_, err := OpenFromEnv(context.Background())
	require.Error(t, err)

	t.Setenv("HATDATA_S3_BUCKET", "bkt")
	t.Setenv("HATDATA_S3_REGION", "eu-west-1")
	t.Setenv("HATDATA_S3_PREFIX", "pfx/")
	t.Setenv("HATDATA_S3_PATH_STYLE", "true")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	a, err := OpenFromEnv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pfx/", a.prefix)
	assert.Equal(t, "bkt", a.bucket)
}
