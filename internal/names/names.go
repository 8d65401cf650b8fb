// Package names allocates agent names from the optional name service, falling
// back to a local adjective+noun+number generator.
package names

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

var (
	adjectives = []string{"Swift", "Silent", "Iron", "Shadow", "Crimson", "Frost", "Storm", "Wild", "Lone", "Night"}
	nouns      = []string{"Wolf", "Falcon", "Tiger", "Eagle", "Raven", "Panther", "Dragon", "Viper", "Hawk", "Bear"}
)

const maxUniqueAttempts = 16

// Local returns a random name such as "FrostRaven4821".
func Local() string {
	return fmt.Sprintf("%s%s%d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		rand.IntN(9999))
}

type Generator struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewGenerator returns a generator. An empty baseURL disables the service.
func NewGenerator(baseURL string, timeout time.Duration, logger *slog.Logger) *Generator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

// Next returns a name for which taken reports false. The service is asked
// first; any service failure falls back to Local. If every attempt collides a
// numeric suffix is appended.
func (g *Generator) Next(ctx context.Context, taken func(string) bool) string {
	if taken == nil {
		taken = func(string) bool { return false }
	}
	useService := g.baseURL != ""
	var name string
	for i := 0; i < maxUniqueAttempts; i++ {
		name = ""
		if useService {
			n, err := g.fetch(ctx)
			if err != nil {
				g.logger.Warn("name service unavailable, using local names", "err", err)
				useService = false
			} else {
				name = n
			}
		}
		if name == "" {
			name = Local()
		}
		if !taken(name) {
			return name
		}
	}
	base := name
	for i := 2; ; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
		if !taken(name) {
			return name
		}
	}
}

type generateResponse struct {
	Name string `json:"name"`
}

func (g *Generator) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/generate-name", nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate-name: status %d", resp.StatusCode)
	}
	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return "", fmt.Errorf("generate-name: decode: %w", err)
	}
	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		return "", errors.New("generate-name: empty name")
	}
	return out.Name, nil
}
