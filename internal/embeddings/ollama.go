package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

type ollamaProvider struct {
	host  string
	model string
	dims  int
	http  *http.Client
}

func newOllamaFromEnv() Provider {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		return nil
	}
	model := os.Getenv("OLLAMA_EMBEDDINGS_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	// Default 60s to tolerate cold model loads. OLLAMA_HTTP_TIMEOUT accepts a
	// Go duration ("60s") or plain seconds ("60").
	timeout := 60 * time.Second
	if v := strings.TrimSpace(os.Getenv("OLLAMA_HTTP_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		} else if n, err2 := strconv.Atoi(v); err2 == nil {
			timeout = time.Duration(n) * time.Second
		}
	}

	return &ollamaProvider{host: host, model: model, dims: 768, http: &http.Client{Timeout: timeout}}
}

func (p *ollamaProvider) Name() string    { return "ollama" }
func (p *ollamaProvider) Dimensions() int { return p.dims }

func (p *ollamaProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	base, err := url.Parse(p.host)
	if err != nil {
		return nil, err
	}
	embedURL := *base
	embedURL.Path = path.Join(embedURL.Path, "/api/embed")

	reqBody := map[string]any{"model": p.model, "input": inputs}
	body, _ := json.Marshal(reqBody)

	doPost := func() (*http.Response, error) {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, embedURL.String(), bytes.NewReader(body))
		if rerr != nil {
			return nil, rerr
		}
		req.Header.Set("Content-Type", "application/json")
		return p.http.Do(req)
	}

	resp, err := doPost()
	if err != nil {
		// Retry once on timeout (cold model start).
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			resp, err = doPost()
		}
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var b struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		if b.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", b.Error)
		}
		return nil, fmt.Errorf("ollama http status: %s", resp.Status)
	}
	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(inputs))
	}
	return out.Embeddings, nil
}

// isTimeout returns true if the error represents a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
