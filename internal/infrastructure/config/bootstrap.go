package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name.
const AppName = "mediator"

// HomeDir returns the user's configuration home: ~/.mediator
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.mediator directory exists with default content.
// Called once at startup. Safe to call multiple times — only creates
// missing items, never overwrites user edits.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", root, err)
	}

	defaults := map[string]string{
		filepath.Join(root, "config.yaml"): defaultConfig,
		filepath.Join(root, "persona.md"):  defaultPersona,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			logger.Warn("failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("bootstrap complete", zap.String("home", root), zap.Int("files_created", created))
	} else {
		logger.Debug("home directory OK", zap.String("home", root))
	}
	return nil
}

const defaultConfig = `# Auto-generated on first launch — feel free to edit.

bot_identity: "mediator"

admin:
  sender_id: ""               # sender id treated as the admin command channel

credentials:
  primary_secrets: []         # preferred rotation order
  backup_secrets: []          # appended after the primaries in the same rotation order

llm:
  model: ""
  backend_base_url: ""
  persona_text: ""
  trait_guidance: []

scheduler:
  silence_seconds: 8
  max_queue_size: 10
  max_queue_age_seconds: 30
  drain_on_critical: true

stamina:
  max: 100
  consume_k: 1
  consume_p: 1
  momentum_alpha: 0.5
  momentum_beta: 0.1
  momentum_gamma: 0.4
  recover_rate: 5
  regen_interval: 1s
  low_threshold: 30
  critical_threshold: 10

task_runner:
  deliver_reply_max_attempts: 3
  record_thought_max_attempts: 1

correlator:
  ttl_minutes: 30
  fail_closed_on_ambiguous_correlation: false

database:
  type: sqlite
  dsn: mediator.db

log:
  level: info
  format: console
`

const defaultPersona = `You are a participant in a group chat, not an assistant answering a ticket queue.

- Reply only when you have something worth saying; silence is a valid outcome.
- Keep your voice consistent across a conversation.
- Never claim to have taken an action you were not actually asked to perform.
`
