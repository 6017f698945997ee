package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postrelay/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0
	files := []struct {
		name string
		data string
	}{
		{config.DefaultConfigFile, exampleConfig},
		{config.DefaultEnvFile, exampleEnv},
	}
	for _, f := range files {
		wrote, err := writeIfNotExists(filepath.Join(configDir, f.name), []byte(f.data))
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# postrelay configuration

timezone: Asia/Tehran

telegram:
  token_env: TELEGRAM_BOT_TOKEN
  target_env: TARGET_CHANNEL
  # api_url: https://api.telegram.org

sources:
  - channel_env: SOURCE_CHANNEL_1
    marker: "#خبرنامه_افسران"
  # - channel_env: SOURCE_CHANNEL_2
  #   marker: "#another_tag"

feed:
  format: html              # html (t.me/s preview) or rss
  base_url: https://t.me/s/
  timeout: 30s

window:
  mode: fixed               # fixed or rolling
  start: "22:00"
  start_day: yesterday      # yesterday or today
  end: "01:00"              # fixed mode
  cutoff: "03:00"           # rolling mode gives up after this
  retry_interval: 5m

media:
  work_dir: .
  on_photo_miss: next       # next or stop

transform:
  mode: none                # none, composite, or crop
  # overlay: overlay.png
  # resample: nearest       # nearest or catmull-rom
  # crop_top: 65

storage:
  path: .postrelay/postrelay.db
  retain_days: 30

privacy:
  redact:
    patterns: []
`

const exampleEnv = `# Values here do not override variables already set in the environment.
TELEGRAM_BOT_TOKEN=
SOURCE_CHANNEL_1=
# SOURCE_CHANNEL_2=
TARGET_CHANNEL=
`
