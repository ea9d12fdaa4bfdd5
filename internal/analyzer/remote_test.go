package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestRemoteAnalyzerPostsTarget(t *testing.T) {
	var gotPath string
	var gotBody remoteRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Result{Success: true, Score: 0.8, Output: "two faces"})
	}))
	defer server.Close()

	a := NewRemoteAnalyzer(server.URL, FaceRecognition, server.Client(), zap.NewNop())
	result, err := a.Analyze(context.Background(), Request{
		ImagePath:  "./static/images/alice/abcd.png",
		OutputPath: "./static/images/alice/output/abcd.png",
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if gotPath != "/analyze/face_recognition" {
		t.Fatalf("unexpected request path: %s", gotPath)
	}
	if gotBody.ImagePath != "./static/images/alice/abcd.png" {
		t.Fatalf("unexpected image path: %s", gotBody.ImagePath)
	}
	if gotBody.OutputPath != "./static/images/alice/output/abcd.png" {
		t.Fatalf("unexpected output path: %s", gotBody.OutputPath)
	}
	if !result.Success || result.Output != "two faces" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRemoteAnalyzerRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	a := NewRemoteAnalyzer(server.URL, Classifier, server.Client(), zap.NewNop())
	if _, err := a.Analyze(context.Background(), Request{ImagePath: "x.png"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRemoteAnalyzerUnreachable(t *testing.T) {
	a := NewRemoteAnalyzer("http://127.0.0.1:1", Classifier, nil, zap.NewNop())
	if _, err := a.Analyze(context.Background(), Request{ImagePath: "x.png"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRemoteRegistry("http://localhost:8500", nil, zap.NewNop())

	for _, name := range []string{WritingRecognition, FaceRecognition, ColorRecognition, Classifier} {
		cap, err := reg.Lookup(name)
		if err != nil {
			t.Fatalf("expected %s registered, got %v", name, err)
		}
		if cap.Analyzer == nil {
			t.Fatalf("nil analyzer for %s", name)
		}
	}

	face, _ := reg.Lookup(FaceRecognition)
	if !face.WritesOutput {
		t.Fatal("face recognition must write derivative output")
	}
	color, _ := reg.Lookup(ColorRecognition)
	if color.WritesOutput {
		t.Fatal("color recognition must not write derivative output")
	}

	if _, err := reg.Lookup("sentiment"); err == nil {
		t.Fatal("expected ErrUnknownAnalyzer")
	}
}
