package redteam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/config"
)

// Result records one payload fired at the target.
type Result struct {
	PayloadID   string        `json:"payload_id"`
	Name        string        `json:"name"`
	Category    Category      `json:"category"`
	Severity    Severity      `json:"severity"`
	Endpoint    string        `json:"endpoint"`
	Compromised bool          `json:"compromised"`
	Evidence    string        `json:"evidence"`
	Response    string        `json:"response,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Attacker fires the payload corpus at a running target over HTTP.
type Attacker struct {
	Base      string
	AuthToken string
	Client    *http.Client
	Logger    *log.Logger
}

func NewAttacker(cfg config.RedTeamConfig, logger *log.Logger) *Attacker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Attacker{
		Base:      strings.TrimRight(cfg.Target, "/"),
		AuthToken: cfg.AuthToken,
		Client:    &http.Client{Timeout: cfg.Timeout},
		Logger:    logger,
	}
}

// endpointFor routes payloads to the surface they stress. Action and tool
// attacks need the tool-calling agent; everything else probes plain chat.
func endpointFor(cat Category) string {
	switch cat {
	case CategoryUnauthorizedAction, CategoryToolAbuse:
		return "/api/agent"
	default:
		return "/api/chat"
	}
}

// Run fires every payload in the selected categories sequentially and
// returns the per-payload results. Transport failures are recorded on the
// result, not returned, so one flaky request does not abort the sweep.
func (a *Attacker) Run(ctx context.Context, categories []string) ([]Result, error) {
	corpus := Payloads(categories)
	if len(corpus) == 0 {
		return nil, fmt.Errorf("no payloads match categories %v", categories)
	}
	results := make([]Result, 0, len(corpus))
	for _, p := range corpus {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
		res := a.fire(ctx, p)
		status := "blocked"
		if res.Compromised {
			status = "COMPROMISED"
		}
		a.Logger.Printf("%s %s (%s/%s): %s", res.PayloadID, status, res.Category, res.Severity, res.Evidence)
		results = append(results, res)
	}
	return results, nil
}

func (a *Attacker) fire(ctx context.Context, p Payload) Result {
	endpoint := endpointFor(p.Category)
	res := Result{
		PayloadID: p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Severity:  p.Severity,
		Endpoint:  endpoint,
	}
	start := time.Now()
	text, err := a.send(ctx, endpoint, p.Payload)
	res.Duration = time.Since(start)
	if err != nil {
		// A refused or errored request means the attack did not land.
		res.Error = err.Error()
		res.Evidence = "request failed"
		return res
	}
	res.Response = truncate(text, 2000)
	verdict := Evaluate(p, text)
	res.Compromised = verdict.Compromised
	res.Evidence = verdict.Evidence
	return res
}

// send posts the payload as a user message and extracts the answer text.
func (a *Attacker) send(ctx context.Context, endpoint, message string) (string, error) {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Base+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.AuthToken)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, truncate(string(raw), 200))
	}
	var parsed struct {
		Response string `json:"response"`
		Answer   string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if parsed.Response != "" {
		return parsed.Response, nil
	}
	return parsed.Answer, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
