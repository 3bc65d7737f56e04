package ocr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDisabledExtractor(t *testing.T) {
	_, err := Disabled{}.ExtractText(context.Background(), []byte("img"))
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestSpaceClientParsesFirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("apikey") != "test-key" {
			t.Errorf("missing api key, got %q", r.FormValue("apikey"))
		}
		if !strings.HasPrefix(r.FormValue("base64Image"), "data:image/jpeg;base64,") {
			t.Errorf("image payload not base64 encoded")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ParsedResults":[{"ParsedText":"12345678901234"}],"IsErroredOnProcessing":false}`))
	}))
	defer srv.Close()

	client := NewSpaceClient("test-key", time.Second)
	client.rest.SetBaseURL(srv.URL)

	text, err := client.ExtractText(context.Background(), []byte("fake image"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "12345678901234" {
		t.Fatalf("got %q", text)
	}
}

func TestSpaceClientProcessingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"IsErroredOnProcessing":true,"ErrorMessage":["image too large"]}`))
	}))
	defer srv.Close()

	client := NewSpaceClient("test-key", time.Second)
	client.rest.SetBaseURL(srv.URL)

	_, err := client.ExtractText(context.Background(), []byte("fake image"))
	if err == nil || !strings.Contains(err.Error(), "image too large") {
		t.Fatalf("expected processing error, got %v", err)
	}
}
