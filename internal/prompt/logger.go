package prompt

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/aibridge-io/aibridge/internal/config"
	"github.com/aibridge-io/aibridge/internal/constant"
)

// Logger records the prompts entering the gateway and the text coming
// back, to the console or to a timestamped log file.
type Logger struct {
	mu       sync.Mutex
	mode     string
	filePath string
}

// NewLogger builds a conversation logger. In file mode the target is
// <baseName>-YYYYMMDD-HHMMSS.log, one file per process run.
func NewLogger(mode, baseName string) *Logger {
	l := &Logger{mode: mode}
	if mode == config.PromptLogFile {
		l.filePath = fmt.Sprintf("%s-%s.log", baseName, time.Now().UTC().Format("20060102-150405"))
	}
	return l
}

// LogInput records the prompt side of one exchange.
func (l *Logger) LogInput(content string) { l.write("INPUT", content) }

// LogOutput records the response side of one exchange.
func (l *Logger) LogOutput(content string) { l.write("OUTPUT", content) }

// LogError records an upstream failure.
func (l *Logger) LogError(content string) { l.write("ERROR", content) }

func (l *Logger) write(kind, content string) {
	if l.mode == config.PromptLogNone || content == "" {
		return
	}
	entry := fmt.Sprintf("%s [%s]:\n%s\n--------------------------------------\n",
		time.Now().UTC().Format("2006-01-02 15:04:05"), kind, content)

	if l.mode == config.PromptLogConsole {
		log.Info(entry)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warnf("failed to open prompt log: %v", err)
		return
	}
	defer func() { _ = f.Close() }()
	if _, err = f.WriteString(entry); err != nil {
		log.Warnf("failed to write prompt log: %v", err)
	}
}

// ExtractPrompt flattens a request of the given client protocol to
// "role: text" lines for logging.
func ExtractPrompt(protocol constant.Protocol, body []byte) string {
	var lines []string
	switch protocol {
	case constant.ProtocolOpenAI:
		gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
			if content := msg.Get("content"); content.Type == gjson.String {
				lines = append(lines, msg.Get("role").String()+": "+content.String())
			}
			return true
		})
	case constant.ProtocolClaude:
		if system := gjson.GetBytes(body, "system"); system.Type == gjson.String && system.String() != "" {
			lines = append(lines, "system: "+system.String())
		}
		gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
			content := msg.Get("content")
			text := content.String()
			if content.IsArray() {
				var texts []string
				content.ForEach(func(_, block gjson.Result) bool {
					if t := block.Get("text"); t.Exists() {
						texts = append(texts, t.String())
					}
					return true
				})
				text = strings.Join(texts, " ")
			}
			lines = append(lines, msg.Get("role").String()+": "+text)
			return true
		})
	case constant.ProtocolGemini:
		gjson.GetBytes(body, "systemInstruction.parts").ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text").String(); t != "" {
				lines = append(lines, "system: "+t)
			}
			return true
		})
		gjson.GetBytes(body, "contents").ForEach(func(_, content gjson.Result) bool {
			var texts []string
			content.Get("parts").ForEach(func(_, part gjson.Result) bool {
				if t := part.Get("text").String(); t != "" {
					texts = append(texts, t)
				}
				return true
			})
			if len(texts) > 0 {
				lines = append(lines, content.Get("role").String()+": "+strings.Join(texts, " "))
			}
			return true
		})
	}
	return strings.Join(lines, "\n")
}

// ExtractResponseText pulls the assistant text out of a response of the
// given client protocol.
func ExtractResponseText(protocol constant.Protocol, body []byte) string {
	var lines []string
	switch protocol {
	case constant.ProtocolOpenAI:
		gjson.GetBytes(body, "choices").ForEach(func(_, choice gjson.Result) bool {
			if t := choice.Get("message.content"); t.Type == gjson.String {
				lines = append(lines, t.String())
			}
			return true
		})
	case constant.ProtocolClaude:
		gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				lines = append(lines, block.Get("text").String())
			}
			return true
		})
	case constant.ProtocolGemini:
		gjson.GetBytes(body, "candidates").ForEach(func(_, candidate gjson.Result) bool {
			var texts []string
			candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
				if t := part.Get("text"); t.Exists() {
					texts = append(texts, t.String())
				}
				return true
			})
			lines = append(lines, strings.Join(texts, " "))
			return true
		})
	}
	return strings.Join(lines, "\n")
}
