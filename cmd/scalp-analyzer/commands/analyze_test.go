package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/scalpcheck/scalp-analyzer/internal/config"
	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	appfsm "github.com/scalpcheck/scalp-analyzer/pkg/fsm"
	"github.com/scalpcheck/scalp-analyzer/pkg/health"
	"github.com/scalpcheck/scalp-analyzer/pkg/storage"
	"github.com/scalpcheck/scalp-analyzer/pkg/transport"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		r := bufio.NewReader(strings.NewReader(tt.input))
		if got := confirm(io.Discard, r, "Retry? "); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPrintOutcome_JSON(t *testing.T) {
	var buf bytes.Buffer
	failure := &appfsm.Outcome{
		AttemptID: "a-1",
		Ordinal:   4,
		Retry:     1,
		Err:       errors.New(errors.CodeRateLimitExceeded),
		Duration:  1500 * time.Millisecond,
	}
	if err := printOutcome(&buf, "scalp.jpg", failure, true, 0); err != nil {
		t.Fatalf("printOutcome: %v", err)
	}

	var doc outcomeJSON
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if doc.Success || doc.Error == nil || doc.Error.Code != "RATE_LIMIT_EXCEEDED" || !doc.Error.Retryable {
		t.Errorf("unexpected failure document %+v", doc)
	}
	if doc.DurationMS != 1500 || doc.Retry != 1 {
		t.Errorf("duration/retry not carried: %+v", doc)
	}

	buf.Reset()
	success := &appfsm.Outcome{AttemptID: "a-2", Report: transport.Report(`{"scalp_type":"oily"}`)}
	if err := printOutcome(&buf, "scalp.jpg", success, true, 0); err != nil {
		t.Fatalf("printOutcome: %v", err)
	}
	if !strings.Contains(buf.String(), `"report":{"scalp_type":"oily"}`) {
		t.Errorf("report not embedded: %s", buf.String())
	}
}

func TestPrintOutcome_Human(t *testing.T) {
	var buf bytes.Buffer
	printOutcome(&buf, "scalp.png", &appfsm.Outcome{Err: errors.New(errors.CodeServiceUnhealthy)}, false, 5<<20)

	out := buf.String()
	if !strings.Contains(out, "[SERVICE_UNHEALTHY]") || !strings.Contains(out, "💡") {
		t.Errorf("failure output missing code or suggestion: %q", out)
	}
}

func TestPrintOutcome_ImageTooLargeShowsLimit(t *testing.T) {
	var buf bytes.Buffer
	tooLarge := &appfsm.Outcome{Err: errors.New(errors.CodeImageTooLarge)}
	if err := printOutcome(&buf, "scalp.png", tooLarge, false, 5<<20); err != nil {
		t.Fatalf("printOutcome: %v", err)
	}
	if !strings.Contains(buf.String(), "limit: 5.0 MB") {
		t.Errorf("size limit missing from output: %q", buf.String())
	}

	buf.Reset()
	printOutcome(&buf, "scalp.png", &appfsm.Outcome{Err: errors.New(errors.CodeRateLimitExceeded)}, false, 5<<20)
	if strings.Contains(buf.String(), "limit:") {
		t.Errorf("limit should only be shown for oversized images: %q", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestPrintOutcome_JSONWriteError(t *testing.T) {
	err := printOutcome(failingWriter{}, "scalp.jpg", &appfsm.Outcome{Err: errors.New(errors.CodeUnknownError)}, true, 0)
	if !stderrors.Is(err, io.ErrClosedPipe) {
		t.Errorf("err = %v, want the write error", err)
	}
}

func TestPrintHealth_ListsDownServices(t *testing.T) {
	var buf bytes.Buffer
	status := &health.Status{
		Reported: "degraded",
		Services: map[string]bool{"storage": false, "model": true, "queue": false},
	}
	if err := printHealth(&buf, status, errors.Unhealthy("degraded"), false); err != nil {
		t.Fatalf("printHealth: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Down: queue, storage") {
		t.Errorf("down services missing: %q", out)
	}
	if !strings.Contains(out, "[SERVICE_UNHEALTHY]") {
		t.Errorf("gate error missing: %q", out)
	}

	buf.Reset()
	healthy := &health.Status{Healthy: true, Reported: "healthy", Services: map[string]bool{"model": true}}
	printHealth(&buf, healthy, nil, false)
	if strings.Contains(buf.String(), "Down:") {
		t.Errorf("healthy status should list nothing down: %q", buf.String())
	}
}

func TestPrintHealth_JSON(t *testing.T) {
	var buf bytes.Buffer
	status := &health.Status{Healthy: true, Reported: "healthy", Services: map[string]bool{"model": true}}
	if err := printHealth(&buf, status, nil, true); err != nil {
		t.Fatalf("printHealth: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if doc["healthy"] != true || doc["status"] != "healthy" {
		t.Errorf("unexpected document %v", doc)
	}
	if err := printHealth(failingWriter{}, status, nil, true); err == nil {
		t.Error("expected the write error")
	}
}

// missingObjects answers every HEAD with NotFound and fails any download.
type missingObjects struct {
	gets int
}

func (m *missingObjects) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, &types.NotFound{Message: aws.String("not found")}
}

func (m *missingObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.gets++
	return nil, &types.NoSuchKey{}
}

func (m *missingObjects) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{}, nil
}

func TestSourceSet_MissingObject(t *testing.T) {
	api := &missingObjects{}
	s := &sourceSet{
		cfg:     &config.Config{MaxImageSize: 5 << 20},
		buckets: map[string]*storage.Client{"scans": storage.NewClientWithAPI(api, "scans")},
	}

	_, err := s.load(context.Background(), "s3://scans/head.jpg")
	if err == nil || !strings.Contains(err.Error(), "object not found: s3://scans/head.jpg") {
		t.Fatalf("err = %v, want a not found error", err)
	}
	if api.gets != 0 {
		t.Errorf("missing objects must not be downloaded, got %d gets", api.gets)
	}
}
