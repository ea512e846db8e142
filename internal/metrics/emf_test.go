package metrics

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"
)

// captureOutput redirects flushed documents into a buffer for the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "insight-api"
	t.Cleanup(func() { functionName = "" })

	r := New()
	if r.namespace != Namespace {
		t.Errorf("expected namespace %s, got %s", Namespace, r.namespace)
	}
	if r.dimensions["FunctionName"] != "insight-api" {
		t.Errorf("expected FunctionName dimension insight-api, got %s", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := captureOutput(t)
	functionName = ""

	New().
		Dimension("Operation", "analyze").
		Metric("AnalysisLatencyMs", 1234.5, UnitMilliseconds).
		Count("AnalysisCount").
		Property("userId", "user-1").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]any)
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	if ns := cwArr[0].(map[string]any)["Namespace"]; ns != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, ns)
	}

	if doc["Operation"] != "analyze" {
		t.Errorf("expected Operation=analyze, got %v", doc["Operation"])
	}
	if doc["AnalysisLatencyMs"] != 1234.5 {
		t.Errorf("expected AnalysisLatencyMs=1234.5, got %v", doc["AnalysisLatencyMs"])
	}
	if doc["AnalysisCount"] != float64(1) {
		t.Errorf("expected AnalysisCount=1, got %v", doc["AnalysisCount"])
	}
	if doc["userId"] != "user-1" {
		t.Errorf("expected userId=user-1, got %v", doc["userId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := captureOutput(t)

	New().Dimension("Operation", "noop").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Duration(t *testing.T) {
	rec := New().Duration("GenerationLatencyMs", 1500*time.Millisecond)

	if v := rec.values["GenerationLatencyMs"]; v != float64(1500) {
		t.Errorf("expected 1500, got %v", v)
	}
	if m := rec.metrics["GenerationLatencyMs"]; m.Unit != UnitMilliseconds {
		t.Errorf("expected unit Milliseconds, got %v", m.Unit)
	}
}

func TestSetOutputNilDiscards(t *testing.T) {
	SetOutput(nil)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	if out != io.Discard {
		t.Error("SetOutput(nil) should discard output")
	}
	New().Count("Calls").Flush()
}
