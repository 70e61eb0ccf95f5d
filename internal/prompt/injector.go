// Package prompt handles system-prompt injection into inbound requests and
// conversation prompt logging.
package prompt

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aibridge-io/aibridge/internal/config"
	"github.com/aibridge-io/aibridge/internal/constant"
)

// Injector applies a configured system prompt to requests in any of the
// three client protocols. The prompt content follows the prompt file on
// disk.
type Injector struct {
	mu       sync.RWMutex
	content  string
	mode     string
	filePath string
}

// NewInjector loads the prompt file (a missing or empty file means no
// injection) and records the injection mode.
func NewInjector(filePath, mode string) *Injector {
	inj := &Injector{mode: mode, filePath: filePath}
	inj.reload()
	return inj
}

func (inj *Injector) reload() {
	if inj.filePath == "" {
		return
	}
	raw, err := os.ReadFile(inj.filePath)
	if err != nil {
		log.Debugf("system prompt file not loaded: %v", err)
		return
	}
	content := string(raw)
	if strings.TrimSpace(content) == "" {
		log.Debugf("system prompt file %s is empty", inj.filePath)
		return
	}
	inj.mu.Lock()
	inj.content = content
	inj.mu.Unlock()
	log.Infof("loaded system prompt from %s", inj.filePath)
}

// Content returns the current prompt text.
func (inj *Injector) Content() string {
	inj.mu.RLock()
	defer inj.mu.RUnlock()
	return inj.content
}

// Watch follows the prompt file with fsnotify and reloads it on change,
// until the context is cancelled. The parent directory is watched so the
// file may be created or atomically replaced after startup.
func (inj *Injector) Watch(ctx context.Context) error {
	if inj.filePath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(inj.filePath)
	if err = watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	target := filepath.Clean(inj.filePath)

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Debugf("system prompt file changed (%s), reloading", event.Op)
					inj.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("system prompt watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Apply injects the prompt into a request body of the given client
// protocol. With mode none or no loaded content the body passes through
// unchanged.
func (inj *Injector) Apply(protocol constant.Protocol, body []byte) []byte {
	content := inj.Content()
	if content == "" || inj.mode == config.SystemPromptNone {
		return body
	}
	switch protocol {
	case constant.ProtocolOpenAI:
		return inj.applyOpenAI(body, content)
	case constant.ProtocolClaude:
		return inj.applyClaude(body, content)
	case constant.ProtocolGemini:
		return inj.applyGemini(body, content)
	}
	return body
}

func (inj *Injector) applyOpenAI(body []byte, content string) []byte {
	messages := gjson.GetBytes(body, "messages").Array()
	systemMsg := map[string]any{"role": "system", "content": content}

	if inj.mode == config.SystemPromptOverwrite {
		kept := []any{systemMsg}
		for _, msg := range messages {
			if msg.Get("role").String() != "system" {
				kept = append(kept, msg.Value())
			}
		}
		out, _ := sjson.SetBytes(body, "messages", kept)
		return out
	}

	// Append mode extends the first system message, or inserts one when
	// the request carries none.
	for i, msg := range messages {
		if msg.Get("role").String() != "system" {
			continue
		}
		merged := msg.Get("content").String() + "\n\n" + content
		out, _ := sjson.SetBytes(body, "messages."+strconv.Itoa(i)+".content", merged)
		return out
	}
	kept := []any{systemMsg}
	for _, msg := range messages {
		kept = append(kept, msg.Value())
	}
	out, _ := sjson.SetBytes(body, "messages", kept)
	return out
}

func (inj *Injector) applyClaude(body []byte, content string) []byte {
	if inj.mode == config.SystemPromptOverwrite {
		out, _ := sjson.SetBytes(body, "system", content)
		return out
	}
	existing := gjson.GetBytes(body, "system").String()
	if existing != "" {
		content = existing + "\n\n" + content
	}
	out, _ := sjson.SetBytes(body, "system", content)
	return out
}

func (inj *Injector) applyGemini(body []byte, content string) []byte {
	if inj.mode == config.SystemPromptAppend {
		if existing := gjson.GetBytes(body, "systemInstruction.parts.0.text").String(); existing != "" {
			content = existing + "\n\n" + content
		}
	}
	out, _ := sjson.SetBytes(body, "systemInstruction", map[string]any{
		"parts": []any{map[string]any{"text": content}},
	})
	return out
}

// SaveIncoming mirrors the request's own system prompt to
// fetch_system_prompt.txt next to the configured prompt file, skipping the
// write when the content is unchanged.
func (inj *Injector) SaveIncoming(text string) {
	if inj.filePath == "" || text == "" {
		return
	}
	fetchPath := filepath.Join(filepath.Dir(inj.filePath), "fetch_system_prompt.txt")
	current, _ := os.ReadFile(fetchPath)
	if string(current) == text {
		return
	}
	if err := os.WriteFile(fetchPath, []byte(text), 0o644); err != nil {
		log.Warnf("failed to save incoming system prompt: %v", err)
		return
	}
	log.Infof("saved incoming system prompt to %s", fetchPath)
}

// IncomingSystemText pulls the request's own system prompt text for the
// given client protocol.
func IncomingSystemText(protocol constant.Protocol, body []byte) string {
	switch protocol {
	case constant.ProtocolOpenAI:
		var texts []string
		gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
			if msg.Get("role").String() == "system" {
				texts = append(texts, msg.Get("content").String())
			}
			return true
		})
		return strings.Join(texts, "\n")
	case constant.ProtocolClaude:
		system := gjson.GetBytes(body, "system")
		if system.Type == gjson.String {
			return system.String()
		}
		var texts []string
		system.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				texts = append(texts, block.Get("text").String())
			}
			return true
		})
		return strings.Join(texts, "\n")
	case constant.ProtocolGemini:
		var texts []string
		gjson.GetBytes(body, "systemInstruction.parts").ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text").String(); t != "" {
				texts = append(texts, t)
			}
			return true
		})
		return strings.Join(texts, "\n")
	}
	return ""
}
