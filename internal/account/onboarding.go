package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/poemonsense/geminicli-proxy-go/internal/config"
	"github.com/poemonsense/geminicli-proxy-go/internal/utils"
)

// loadCodeAssistResponse is the part of the loadCodeAssist reply the proxy
// consumes for tier and project discovery.
type loadCodeAssistResponse struct {
	CloudAICompanionProject string          `json:"cloudaicompanionProject,omitempty"`
	CurrentTier             *codeAssistTier `json:"currentTier,omitempty"`
	AllowedTiers            []codeAssistTier `json:"allowedTiers,omitempty"`
}

type codeAssistTier struct {
	ID                                 string `json:"id"`
	IsDefault                          bool   `json:"isDefault,omitempty"`
	UserDefinedCloudaicompanionProject bool   `json:"userDefinedCloudaicompanionProject,omitempty"`
}

// onboardUserResponse is the long-running-operation reply of onboardUser
type onboardUserResponse struct {
	Done     bool `json:"done"`
	Response struct {
		CloudAICompanionProject struct {
			ID string `json:"id"`
		} `json:"cloudaicompanionProject"`
	} `json:"response"`
}

// EnsureOnboarded performs the one-time CodeAssist handshake for an account:
// loadCodeAssist for tier and project discovery, then onboardUser polling
// when no tier is active yet. The discovered project id is cached on the
// account and persisted. Safe to call on every request; after the first
// success it returns the cached project id without network calls.
func (p *Pool) EnsureOnboarded(ctx context.Context, acc *Account) (string, error) {
	acc.onboardMu.Lock()
	defer acc.onboardMu.Unlock()

	onboarded, project := p.snapshotOnboarded(acc)
	if onboarded && project != "" {
		return project, nil
	}
	if project == "" {
		project = p.projectHint
	}

	token := p.snapshotToken(acc)
	if token == "" {
		return "", fmt.Errorf("account %s has no access token", acc.Name())
	}

	load, err := p.loadCodeAssist(ctx, token, project)
	if err != nil {
		return "", fmt.Errorf("loadCodeAssist for %s: %w", acc.Name(), err)
	}

	if project == "" {
		project = load.CloudAICompanionProject
	}

	if load.CurrentTier != nil {
		if project == "" {
			return "", fmt.Errorf("no project id discovered for %s", acc.Name())
		}
		p.setProject(acc, project, true)
		utils.Info("[Onboarding] %s already onboarded, project %s", acc.Name(), project)
		return project, nil
	}

	tier := defaultTier(load.AllowedTiers)
	if tier.UserDefinedCloudaicompanionProject && project == "" {
		return "", fmt.Errorf("account %s requires GOOGLE_CLOUD_PROJECT for tier %s", acc.Name(), tier.ID)
	}

	utils.Info("[Onboarding] Onboarding %s with tier %s", acc.Name(), tier.ID)

	pollCtx, cancel := context.WithTimeout(ctx, config.OnboardTimeoutSec*time.Second)
	defer cancel()

	for {
		lro, err := p.onboardUser(pollCtx, token, tier.ID, project)
		if err != nil {
			return "", fmt.Errorf("onboardUser for %s: %w", acc.Name(), err)
		}
		if lro.Done {
			if id := lro.Response.CloudAICompanionProject.ID; id != "" {
				project = id
			}
			break
		}

		select {
		case <-pollCtx.Done():
			return "", fmt.Errorf("onboarding %s timed out after %ds", acc.Name(), config.OnboardTimeoutSec)
		case <-time.After(config.OnboardPollSec * time.Second):
		}
	}

	if project == "" {
		return "", fmt.Errorf("onboarding %s finished without a project id", acc.Name())
	}

	p.setProject(acc, project, true)
	utils.Success("[Onboarding] %s onboarded, project %s", acc.Name(), project)
	return project, nil
}

func defaultTier(tiers []codeAssistTier) codeAssistTier {
	for _, t := range tiers {
		if t.IsDefault {
			return t
		}
	}
	return codeAssistTier{ID: "legacy-tier", UserDefinedCloudaicompanionProject: true}
}

func (p *Pool) loadCodeAssist(ctx context.Context, token, project string) (*loadCodeAssistResponse, error) {
	body := map[string]interface{}{
		"metadata": config.ClientMetadata(project),
	}
	if project != "" {
		body["cloudaicompanionProject"] = project
	}

	var out loadCodeAssistResponse
	if err := p.postCodeAssist(ctx, token, "loadCodeAssist", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Pool) onboardUser(ctx context.Context, token, tierID, project string) (*onboardUserResponse, error) {
	body := map[string]interface{}{
		"tierId":   tierID,
		"metadata": config.ClientMetadata(project),
	}
	if project != "" {
		body["cloudaicompanionProject"] = project
	}

	var out onboardUserResponse
	if err := p.postCodeAssist(ctx, token, "onboardUser", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Pool) postCodeAssist(ctx context.Context, token, action string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := p.Endpoint + "/v1internal:" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())

	resp, err := p.refreshClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", action, resp.StatusCode, snippet)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// snapshotToken reads the current access token under the pool mutex
func (p *Pool) snapshotToken(acc *Account) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return acc.Token
}
