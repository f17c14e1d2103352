package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sightama/canifuckingdownwindtoday/internal/circuitbreaker"
	"github.com/sightama/canifuckingdownwindtoday/internal/models"
	"github.com/sightama/canifuckingdownwindtoday/internal/observability"
)

// Generator produces commentary pools. All methods may fail; a failure or a
// partially-parseable result is a failure for that call only and the caller
// leaves existing cached text untouched.
type Generator interface {
	// GenerateBatch returns lines for every configured persona for one mode.
	GenerateBatch(ctx context.Context, reading models.Reading, rating int, mode models.Mode) (models.PersonaPool, error)
	// GenerateOne returns lines for a single persona for one mode.
	GenerateOne(ctx context.Context, reading models.Reading, rating int, mode models.Mode, persona string) ([]string, error)
	// GenerateOfflinePool returns rating-independent lines per persona for
	// display while the sensor is offline.
	GenerateOfflinePool(ctx context.Context) (models.PersonaPool, error)
}

var (
	ErrGenerationFailed = errors.New("generation failed")
	ErrUnparseable      = errors.New("generation result unparseable")
)

// personaStyles maps persona ids to the voice instruction used in prompts.
// Unknown personas get the default style.
var personaStyles = map[string]string{
	"drill_sergeant": "You are a merciless drill sergeant who thinks everyone is soft",
	"zen_coach":      "You are an infuriatingly calm zen coach who weaponizes serenity",
	"salty_local":    "You are a salty local who has seen every kook mistake twice",
}

const defaultStyle = "You are an extremely passive-aggressive asshole"

// Client calls a Gemini-style generateContent REST API. The upstream is
// rate-limited and slow, so calls go through a client-side limiter and an
// optional circuit breaker.
type Client struct {
	apiKey   string
	apiURL   string
	model    string
	personas []string
	timeout  time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *circuitbreaker.CircuitBreaker
}

// NewClient creates a generator client for the given model and persona list.
func NewClient(apiKey, apiURL, model string, personas []string, timeout time.Duration, limiter *rate.Limiter) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("generator API key is required")
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("at least one persona is required")
	}
	return &Client{
		apiKey:   apiKey,
		apiURL:   apiURL,
		model:    model,
		personas: personas,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
	}, nil
}

// SetCircuitBreaker installs a breaker around upstream calls.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Personas returns the configured persona ids.
func (c *Client) Personas() []string {
	return append([]string(nil), c.personas...)
}

// GenerateBatch asks for three lines per persona for one mode in a single
// call and parses the JSON the model returns.
func (c *Client) GenerateBatch(ctx context.Context, reading models.Reading, rating int, mode models.Mode) (models.PersonaPool, error) {
	prompt := c.batchPrompt(reading, rating, mode)
	text, err := c.call(ctx, "batch", prompt)
	if err != nil {
		return nil, err
	}
	pool, err := parsePersonaPool(text)
	if err != nil {
		return nil, err
	}
	// Personas the model skipped are a partial result; drop only what is
	// missing and let the caller decide whether that is enough.
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: no personas in batch result", ErrUnparseable)
	}
	return pool, nil
}

// GenerateOne asks for three lines for a single persona for one mode.
func (c *Client) GenerateOne(ctx context.Context, reading models.Reading, rating int, mode models.Mode, persona string) ([]string, error) {
	prompt := c.singlePrompt(reading, rating, mode, persona)
	text, err := c.call(ctx, "single", prompt)
	if err != nil {
		return nil, err
	}
	lines, err := parseLines(text)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty single result", ErrUnparseable)
	}
	return lines, nil
}

// GenerateOfflinePool asks for rating-independent "sensor is down" lines per
// persona. Generated once and cached indefinitely.
func (c *Client) GenerateOfflinePool(ctx context.Context) (models.PersonaPool, error) {
	prompt := c.offlinePrompt()
	text, err := c.call(ctx, "offline_pool", prompt)
	if err != nil {
		return nil, err
	}
	pool, err := parsePersonaPool(text)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: no personas in offline result", ErrUnparseable)
	}
	return pool, nil
}

// call runs one generateContent request through the limiter and breaker and
// returns the model's text.
func (c *Client) call(ctx context.Context, kind, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			observability.GeneratorCallsTotal.WithLabelValues(kind, "error").Inc()
			return "", fmt.Errorf("%w: limiter: %v", ErrGenerationFailed, err)
		}
	}

	var text string
	do := func() error {
		var err error
		text, err = c.doRequest(ctx, kind, prompt)
		return err
	}
	if c.breaker != nil {
		if err := c.breaker.Call(do); err != nil {
			return "", err
		}
		return text, nil
	}
	if err := do(); err != nil {
		return "", err
	}
	return text, nil
}

type promptPart struct {
	Text string `json:"text"`
}

type promptContent struct {
	Parts []promptPart `json:"parts"`
}

type generateRequest struct {
	Contents []promptContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content promptContent `json:"content"`
	} `json:"candidates"`
}

func (c *Client) doRequest(ctx context.Context, kind, prompt string) (string, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := generateRequest{
		Contents: []promptContent{{Parts: []promptPart{{Text: prompt}}}},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", strings.TrimRight(c.apiURL, "/"), c.model, c.apiKey)
	req, err := http.NewRequestWithContext(reqCtx, "POST", endpoint, bytes.NewReader(raw))
	if err != nil {
		observability.GeneratorCallsTotal.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		observability.GeneratorCallsTotal.WithLabelValues(kind, "error").Inc()
		observability.GeneratorCallDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	observability.GeneratorCallDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		observability.GeneratorCallsTotal.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("%w: HTTP %d", ErrGenerationFailed, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.GeneratorCallsTotal.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("read response body: %w", err)
	}

	var apiResp generateResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		observability.GeneratorCallsTotal.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		observability.GeneratorCallsTotal.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("%w: empty candidates", ErrUnparseable)
	}

	observability.GeneratorCallsTotal.WithLabelValues(kind, "success").Inc()
	return apiResp.Candidates[0].Content.Parts[0].Text, nil
}

func (c *Client) batchPrompt(reading models.Reading, rating int, mode models.Mode) string {
	var sb strings.Builder
	sb.WriteString("Write downwind condition commentary for ")
	sb.WriteString(modeName(mode))
	sb.WriteString(" riders in Jupiter, FL.\n\n")
	fmt.Fprintf(&sb, "CONDITIONS: %.1fkts %s (gusts %.1f, lulls %.1f). Rating: %d/10.\n\n",
		reading.WindSpeedKts, reading.WindDirection, reading.WindGustKts, reading.WindLullKts, rating)
	sb.WriteString("For each persona below, write exactly 3 distinct lines, 2-3 sentences each, in that persona's voice, addressed directly at the reader:\n")
	for _, id := range c.personas {
		style := personaStyles[id]
		if style == "" {
			style = defaultStyle
		}
		fmt.Fprintf(&sb, "- %s: %s\n", id, style)
	}
	sb.WriteString("\nRespond with ONLY a JSON object mapping persona id to an array of 3 strings. No markdown fences, no commentary.")
	return sb.String()
}

func (c *Client) singlePrompt(reading models.Reading, rating int, mode models.Mode, persona string) string {
	style := personaStyles[persona]
	if style == "" {
		style = defaultStyle
	}
	return fmt.Sprintf(`%s.

You are giving a %s downwind rating to someone checking if they should go out in Jupiter, FL.

CONDITIONS: %.1fkts %s (gusts %.1f, lulls %.1f). Rating: %d/10.

Write exactly 3 distinct lines, 2-3 sentences each, in your voice, addressed directly at the reader.
Respond with ONLY a JSON array of 3 strings. No markdown fences, no commentary.`,
		style, modeName(mode),
		reading.WindSpeedKts, reading.WindDirection, reading.WindGustKts, reading.WindLullKts, rating)
}

func (c *Client) offlinePrompt() string {
	var sb strings.Builder
	sb.WriteString("The wind sensor for a downwind conditions app is offline and no live data is available.\n")
	sb.WriteString("For each persona below, write exactly 3 distinct lines telling the reader the sensor is down, in that persona's voice. Do not mention any specific wind numbers.\n")
	for _, id := range c.personas {
		style := personaStyles[id]
		if style == "" {
			style = defaultStyle
		}
		fmt.Fprintf(&sb, "- %s: %s\n", id, style)
	}
	sb.WriteString("\nRespond with ONLY a JSON object mapping persona id to an array of 3 strings. No markdown fences, no commentary.")
	return sb.String()
}

func modeName(mode models.Mode) string {
	if mode == models.ModeParawing {
		return "parawing"
	}
	return "SUP foil"
}

// parsePersonaPool extracts the persona→lines object from model output,
// tolerating stray markdown fences.
func parsePersonaPool(text string) (models.PersonaPool, error) {
	cleaned := stripFences(text)
	var pool models.PersonaPool
	if err := json.Unmarshal([]byte(cleaned), &pool); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	for id, lines := range pool {
		if len(lines) == 0 {
			delete(pool, id)
		}
	}
	return pool, nil
}

// parseLines extracts a string array from model output.
func parseLines(text string) ([]string, error) {
	cleaned := stripFences(text)
	var lines []string
	if err := json.Unmarshal([]byte(cleaned), &lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return lines, nil
}

// stripFences removes a leading/trailing markdown code fence if the model
// added one despite instructions.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
