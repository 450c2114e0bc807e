package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTranscribeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
		} else {
			file.Close()
			if header.Filename != "voice.ogg" {
				t.Errorf("filename = %q", header.Filename)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  hello from the voice note  "}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "whisper-1", "sk-test")
	got, err := c.Transcribe(context.Background(), strings.NewReader("fake-ogg-bytes"), "voice.ogg")
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello from the voice note" {
		t.Fatalf("text = %q", got)
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "whisper-1", "")
	_, err := c.Transcribe(context.Background(), strings.NewReader("x"), "voice.ogg")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v", err)
	}
}

func TestTranscribeBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "")
	if _, err := c.Transcribe(context.Background(), strings.NewReader("x"), "a.ogg"); err == nil {
		t.Fatal("expected parse error")
	}
}
