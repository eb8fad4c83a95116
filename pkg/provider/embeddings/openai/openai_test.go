package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestModelDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"some-future-model", 1536},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			if got := modelDimensions(tc.model); got != tc.want {
				t.Errorf("modelDimensions(%q) = %d, want %d", tc.model, got, tc.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}

	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID = %q, want %q", p.ModelID(), DefaultModel)
	}
	if p.Dimensions() != 1536 {
		t.Errorf("Dimensions = %d, want 1536", p.Dimensions())
	}

	p, err = New("sk-test", "text-embedding-3-small", WithDimensions(384))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Dimensions() != 384 {
		t.Errorf("Dimensions = %d, want 384", p.Dimensions())
	}
}

// embeddingServer answers /embeddings with a two-dimensional vector per input
// whose first component is the input's index.
func embeddingServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)
		var body struct {
			Input json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var inputs []string
		if err := json.Unmarshal(body.Input, &inputs); err != nil {
			var single string
			if err := json.Unmarshal(body.Input, &single); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			inputs = []string{single}
		}
		var data []string
		for i := range inputs {
			data = append(data, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d,0.5]}`, i, i))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","model":"text-embedding-3-small","data":[%s],"usage":{"prompt_tokens":1,"total_tokens":1}}`,
			strings.Join(data, ","))
	}))
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := embeddingServer(t, &requests)
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec, err := p.Embed(context.Background(), "clinic timings")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[1] != 0.5 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbedBatch_SplitsLargeInputs(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := embeddingServer(t, &requests)
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := make([]string, maxBatch+3)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	// Second request restarts indices at 0, so element maxBatch+1 carries 1.
	if vecs[maxBatch+1][0] != 1 {
		t.Errorf("vecs[maxBatch+1][0] = %v, want 1", vecs[maxBatch+1][0])
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test", "")
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("EmbedBatch(nil) = %v, %v", vecs, err)
	}
}
