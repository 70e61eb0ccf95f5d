package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/aibridge-io/aibridge/internal/constant"
	"github.com/aibridge-io/aibridge/internal/credential"
)

const (
	codeAssistEndpoint   = "https://cloudcode-pa.googleapis.com"
	codeAssistAPIVersion = "v1internal"

	geminiOAuthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	geminiOAuthClientSecret = "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"

	onboardPollInterval = 2 * time.Second
)

// Gemini talks to the Google Code Assist companion API using Gemini CLI
// OAuth credentials.
type Gemini struct {
	store    *credential.Store
	policy   retryPolicy
	client   *http.Client
	oauthCfg *oauth2.Config

	projectMu sync.Mutex
	projectID string
}

// NewGemini builds the gemini-cli-oauth adapter. An empty projectID is
// discovered lazily on first use.
func NewGemini(store *credential.Store, projectID string, policy retryPolicy) *Gemini {
	return &Gemini{
		store:     store,
		projectID: projectID,
		policy:    policy,
		client:    newHTTPClient(60 * time.Second),
		oauthCfg: &oauth2.Config{
			ClientID:     geminiOAuthClientID,
			ClientSecret: geminiOAuthClientSecret,
			Endpoint:     google.Endpoint,
		},
	}
}

func (a *Gemini) Provider() string            { return constant.GeminiCLIOAuth }
func (a *Gemini) Protocol() constant.Protocol { return constant.ProtocolGemini }

// RefreshToken exchanges the stored refresh token for a new access token
// and persists the result. With force false this is a no-op for an
// unexpired token.
func (a *Gemini) RefreshToken(ctx context.Context, force bool) error {
	return a.store.Refresh(force, func(current []byte) ([]byte, error) {
		refreshToken := gjson.GetBytes(current, "refresh_token").String()
		if refreshToken == "" {
			return nil, ErrAuthFailed
		}
		log.Info("refreshing Gemini access token")
		src := a.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}
		out, _ := sjson.SetBytes(current, "access_token", tok.AccessToken)
		if tok.RefreshToken != "" {
			out, _ = sjson.SetBytes(out, "refresh_token", tok.RefreshToken)
		}
		if !tok.Expiry.IsZero() {
			out, _ = sjson.SetBytes(out, "expiry_date", tok.Expiry.Unix())
		}
		return out, nil
	})
}

// callAPI posts one v1internal method for the resolved project.
func (a *Gemini) callAPI(ctx context.Context, method string, body []byte) ([]byte, error) {
	if err := a.RefreshToken(ctx, false); err != nil {
		return nil, err
	}
	projectID, err := a.resolveProjectID(ctx)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s/projects/%s/locations/us-central1/cloudaicompanion:%s",
		codeAssistEndpoint, codeAssistAPIVersion, projectID, method)
	return a.post(ctx, url, body)
}

// post sends a Code Assist request with retry plus one forced refresh on a
// 403.
func (a *Gemini) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	resp, err := a.policy.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if errReq != nil {
			return nil, errReq
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.store.Get("access_token"))
		return a.client.Do(req)
	}, func(ctx context.Context) error {
		return a.RefreshToken(ctx, true)
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// resolveProjectID returns the configured project or discovers one through
// loadCodeAssist, onboarding the user when no project exists yet.
func (a *Gemini) resolveProjectID(ctx context.Context) (string, error) {
	a.projectMu.Lock()
	defer a.projectMu.Unlock()
	if a.projectID != "" {
		return a.projectID, nil
	}
	log.Info("discovering Gemini project ID")

	loadURL := fmt.Sprintf("%s/%s:loadCodeAssist", codeAssistEndpoint, codeAssistAPIVersion)
	loadBody := []byte(`{"metadata":{"pluginType":"GEMINI"}}`)
	respBody, err := a.post(ctx, loadURL, loadBody)
	if err != nil {
		return "", err
	}
	if project := gjson.GetBytes(respBody, "cloudaicompanionProject").String(); project != "" {
		a.projectID = project
		log.Infof("discovered project ID: %s", project)
		return project, nil
	}

	// No project yet; onboard with the default tier and poll the long
	// running operation until it completes.
	tierID := "free-tier"
	gjson.GetBytes(respBody, "allowedTiers").ForEach(func(_, tier gjson.Result) bool {
		if tier.Get("isDefault").Bool() {
			if id := tier.Get("id").String(); id != "" {
				tierID = id
			}
			return false
		}
		return true
	})

	onboard := []byte(`{"metadata":{"pluginType":"GEMINI"},"cloudaicompanionProject":"default"}`)
	onboard, _ = sjson.SetBytes(onboard, "tierId", tierID)
	onboardURL := fmt.Sprintf("%s/%s:onboardUser", codeAssistEndpoint, codeAssistAPIVersion)

	lro, err := a.post(ctx, onboardURL, onboard)
	if err != nil {
		return "", err
	}
	for !gjson.GetBytes(lro, "done").Bool() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(onboardPollInterval):
		}
		if lro, err = a.post(ctx, onboardURL, onboard); err != nil {
			return "", err
		}
	}
	project := gjson.GetBytes(lro, "response.cloudaicompanionProject.id").String()
	if project == "" {
		return "", fmt.Errorf("onboarding did not yield a project ID")
	}
	a.projectID = project
	log.Infof("project onboarded: %s", project)
	return project, nil
}

// GenerateContent performs one generation call and unwraps the companion
// envelope into the standard Gemini response shape.
func (a *Gemini) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	body, _ = sjson.SetBytes(body, "model", model)
	respBody, err := a.callAPI(ctx, "generateContent", body)
	if err != nil {
		return nil, err
	}
	out := []byte(`{}`)
	for _, key := range []string{"candidates", "usageMetadata", "promptFeedback"} {
		if v := gjson.GetBytes(respBody, key); v.Exists() {
			out, _ = sjson.SetRawBytes(out, key, []byte(v.Raw))
		}
	}
	return out, nil
}

// StreamContent synthesises a single-chunk stream from the non-streaming
// call; the companion API does not expose token-level streaming here.
func (a *Gemini) StreamContent(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
	respBody, err := a.GenerateContent(ctx, model, body)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk, 1)
	out <- StreamChunk{Data: respBody}
	close(out)
	return out, nil
}

// ListModels returns the static Gemini model catalog.
func (a *Gemini) ListModels(ctx context.Context) ([]byte, error) {
	models := make([]any, 0, len(constant.GeminiModels))
	for _, id := range constant.GeminiModels {
		models = append(models, map[string]any{
			"name":        "models/" + id,
			"displayName": id,
		})
	}
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "models", models)
	return out, nil
}
