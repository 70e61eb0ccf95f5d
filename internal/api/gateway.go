package api

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/aibridge-io/aibridge/internal/adapter"
	"github.com/aibridge-io/aibridge/internal/config"
	"github.com/aibridge-io/aibridge/internal/constant"
	"github.com/aibridge-io/aibridge/internal/pool"
	"github.com/aibridge-io/aibridge/internal/prompt"
	"github.com/aibridge-io/aibridge/internal/translator"
)

// errBadRequest marks client-side request problems that map to HTTP 400.
var errBadRequest = errors.New("bad request")

// Gateway resolves the adapter for each request and runs the
// convert-dispatch-convert pipeline. Non-pool adapters are constructed once
// and cached; pool entries produce a fresh adapter per request so rotated
// credentials take effect immediately.
type Gateway struct {
	cfg      *config.Config
	pools    *pool.Manager
	injector *prompt.Injector
	plog     *prompt.Logger

	mu       sync.Mutex
	adapters map[string]adapter.Adapter
}

// NewGateway wires the gateway. pools may be nil when no pool is
// configured.
func NewGateway(cfg *config.Config, pools *pool.Manager, injector *prompt.Injector, plog *prompt.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		pools:    pools,
		injector: injector,
		plog:     plog,
		adapters: make(map[string]adapter.Adapter),
	}
}

// releaseFunc reports the request outcome back to the pool. It is a no-op
// for non-pool adapters.
type releaseFunc func(success bool)

func noopRelease(bool) {}

// resolve picks the adapter for a request. The pinned provider (from a
// path override) wins, then the Model-Provider header, then the configured
// default.
func (g *Gateway) resolve(pinned, headerProvider string) (adapter.Adapter, releaseFunc, error) {
	provider := pinned
	if provider == "" {
		provider = headerProvider
	}
	if provider == "" {
		provider = g.cfg.ModelProvider
	}
	if !constant.IsProvider(provider) {
		return nil, nil, fmt.Errorf("%w: unknown provider %q", errBadRequest, provider)
	}

	if g.pools != nil && g.pools.Has(provider) {
		uuid, entry, err := g.pools.Select(provider)
		if err != nil {
			return nil, nil, err
		}
		ad, err := adapter.NewFromPoolEntry(provider, entry, g.cfg)
		if err != nil {
			g.pools.MarkUnhealthy(provider, uuid)
			return nil, nil, err
		}
		release := func(success bool) {
			if success {
				g.pools.MarkHealthy(provider, uuid)
			} else {
				g.pools.MarkUnhealthy(provider, uuid)
			}
		}
		return ad, release, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if ad, ok := g.adapters[provider]; ok {
		return ad, noopRelease, nil
	}
	ad, err := adapter.New(provider, g.cfg)
	if err != nil {
		return nil, nil, err
	}
	g.adapters[provider] = ad
	return ad, noopRelease, nil
}

// Preload constructs and caches the adapter for a provider tag so that
// credential problems surface at boot. Pool-backed providers build their
// adapters per request and need no preload.
func (g *Gateway) Preload(provider string) (adapter.Adapter, error) {
	if g.pools != nil && g.pools.Has(provider) {
		return nil, nil
	}
	ad, _, err := g.resolve(provider, "")
	return ad, err
}

// prepare applies system-prompt capture and injection, logs the prompt and
// converts the request body to the adapter's native protocol.
func (g *Gateway) prepare(clientProto constant.Protocol, ad adapter.Adapter, body []byte, model string) ([]byte, error) {
	if text := prompt.IncomingSystemText(clientProto, body); text != "" {
		g.injector.SaveIncoming(text)
	}
	body = g.injector.Apply(clientProto, body)
	g.plog.LogInput(prompt.ExtractPrompt(clientProto, body))
	return translator.Convert(body, translator.Request, clientProto, ad.Protocol(), model)
}

// errorResponse maps an internal error to an HTTP status and a client-safe
// message. Full detail goes to the log only.
func errorResponse(err error) (int, string) {
	var conv *translator.UnsupportedConversionError
	var upstream *adapter.UpstreamError
	var transport *adapter.TransportError

	switch {
	case errors.Is(err, errBadRequest):
		return 400, err.Error()
	case errors.As(err, &conv):
		log.Errorf("conversion failed: %v", err)
		return 500, "internal conversion error"
	case errors.Is(err, adapter.ErrAuthFailed):
		log.Errorf("upstream authentication failed: %v", err)
		return 502, "upstream authentication failed"
	case errors.As(err, &upstream):
		log.Errorf("upstream error %d: %s", upstream.Status, upstream.Body)
		return 502, "upstream provider error"
	case errors.As(err, &transport):
		log.Errorf("upstream transport failure: %v", err)
		return 502, "upstream provider unreachable"
	case errors.Is(err, pool.ErrNoneAvailable):
		log.Warnf("no healthy provider: %v", err)
		return 503, "no healthy provider available"
	}
	log.Errorf("request failed: %v", err)
	return 500, "internal server error"
}
