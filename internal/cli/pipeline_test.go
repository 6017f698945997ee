package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postrelay/internal/store"
)

const testMarker = "#خبرنامه_افسران"

type botCall struct {
	Method  string
	ChatID  string
	Caption string
}

type pipelineEnv struct {
	dir    string
	dbPath string
	mu     sync.Mutex
	calls  []botCall
}

func (e *pipelineEnv) botCalls() []botCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]botCall(nil), e.calls...)
}

func setupPipeline(t *testing.T) *pipelineEnv {
	t.Helper()
	env := &pipelineEnv{dir: t.TempDir()}
	env.dbPath = filepath.Join(env.dir, "journal", "postrelay.db")

	photo := testPNG(t)
	photos := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(photo)
	}))
	t.Cleanup(photos.Close)

	postedAt := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	page := fmt.Sprintf(`<html><body>
<div class="tgme_widget_message_wrap"><div class="tgme_widget_message" data-post="news_ch/5">
<a class="tgme_widget_message_photo_wrap" style="background-image:url('%s/p.jpg')"></a>
<div class="tgme_widget_message_text">today %s</div>
<a class="tgme_widget_message_date" href="https://t.me/news_ch/5"><time datetime="%s"></time></a>
</div></div>
<div class="tgme_widget_message_wrap"><div class="tgme_widget_message" data-post="news_ch/6">
<div class="tgme_widget_message_text">unrelated</div>
<a class="tgme_widget_message_date" href="https://t.me/news_ch/6"><time datetime="%s"></time></a>
</div></div>
</body></html>`, photos.URL, testMarker, postedAt, postedAt)

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/s/news_ch" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, page)
	}))
	t.Cleanup(feed.Close)

	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		env.mu.Lock()
		env.calls = append(env.calls, botCall{
			Method:  filepath.Base(r.URL.Path),
			ChatID:  r.FormValue("chat_id"),
			Caption: r.FormValue("caption"),
		})
		env.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1}}`)
	}))
	t.Cleanup(bot.Close)

	t.Setenv("TEST_RELAY_TOKEN", "777:pipeline")
	t.Setenv("TEST_RELAY_TARGET", "@dest")
	t.Setenv("TEST_RELAY_SOURCE", "@news_ch")

	writeTestConfig(t, env.dir, fmt.Sprintf(`
timezone: UTC
telegram:
  token_env: TEST_RELAY_TOKEN
  target_env: TEST_RELAY_TARGET
  api_url: %s
sources:
  - channel_env: TEST_RELAY_SOURCE
    marker: "%s"
feed:
  base_url: %s/s/
window:
  start: "00:00"
  end: "23:59"
media:
  work_dir: %s
publish:
  caption: pipeline caption
storage:
  path: %s
`, bot.URL, testMarker, feed.URL, filepath.Join(env.dir, "work"), env.dbPath))

	oldConfigDir, oldDryRun, oldLog := configDir, runDryRun, logOutput
	oldFormat, oldLimit, oldNoColor, oldAll := historyFormat, historyLimit, noColor, scanAll
	t.Cleanup(func() {
		configDir, runDryRun, logOutput = oldConfigDir, oldDryRun, oldLog
		historyFormat, historyLimit, noColor, scanAll = oldFormat, oldLimit, oldNoColor, oldAll
	})
	configDir = env.dir
	runDryRun = false
	logOutput = io.Discard
	noColor = true

	return env
}

func testCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestPipelineRunThenHistory(t *testing.T) {
	env := setupPipeline(t)

	out, err := captureStdout(t, func() error {
		return runOnce(testCmd(), nil)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Published 1 photo(s) after 1 attempt(s).")
	requireContains(t, out, "https://t.me/news_ch/5")

	calls := env.botCalls()
	if len(calls) != 1 {
		t.Fatalf("bot calls = %d, want 1", len(calls))
	}
	if calls[0] != (botCall{Method: "sendPhoto", ChatID: "@dest", Caption: "pipeline caption"}) {
		t.Errorf("bot call = %+v", calls[0])
	}
	if _, err := os.Stat(filepath.Join(env.dir, "work", "news_ch_image.jpg")); err != nil {
		t.Errorf("downloaded image missing: %v", err)
	}

	st := openStoreForPipelineTest(t, env.dbPath)
	runs, err := st.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.StatusPublished {
		t.Fatalf("journal = %+v", runs)
	}
	_ = st.Close()

	historyFormat = "json"
	historyLimit = 5
	hist, err := captureStdout(t, func() error {
		return historyAction(testCmd(), nil)
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var decoded struct {
		Meta struct {
			Runs      int `json:"runs"`
			Published int `json:"published"`
		} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(hist), &decoded); err != nil {
		t.Fatalf("decode history: %v\n%s", err, hist)
	}
	if decoded.Meta.Runs != 1 || decoded.Meta.Published != 1 {
		t.Errorf("history meta = %+v", decoded.Meta)
	}
}

func TestPipelineDryRunDoesNotPublish(t *testing.T) {
	env := setupPipeline(t)
	runDryRun = true

	out, err := captureStdout(t, func() error {
		return runOnce(testCmd(), nil)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Dry run: 1 photo(s) ready")
	if calls := env.botCalls(); len(calls) != 0 {
		t.Errorf("bot called during dry run: %+v", calls)
	}
}

func TestPipelineScan(t *testing.T) {
	env := setupPipeline(t)
	scanAll = true

	out, err := captureStdout(t, func() error {
		return scanAction(testCmd(), nil)
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, "@news_ch (marker "+testMarker+"): 2 posts, 1 match")
	requireContains(t, out, "no marker")
	requireContains(t, out, "selected: https://t.me/news_ch/5")
	if calls := env.botCalls(); len(calls) != 0 {
		t.Errorf("scan published: %+v", calls)
	}
}

func TestPipelineDoctor(t *testing.T) {
	setupPipeline(t)

	out, err := captureStdout(t, func() error {
		return doctorAction(testCmd(), nil)
	})
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "[ OK ] config (1 source channels, fixed window, target @dest)")
	requireContains(t, out, "All checks passed.")
}

func TestPipelineDoctorMissingOverlay(t *testing.T) {
	env := setupPipeline(t)
	cfg, err := os.ReadFile(filepath.Join(env.dir, "config.yaml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg = append(cfg, []byte("transform:\n  mode: composite\n  overlay: missing-overlay.png\n")...)
	writeTestConfig(t, env.dir, string(cfg))

	out, err := captureStdout(t, func() error {
		return doctorAction(testCmd(), nil)
	})
	if err == nil {
		t.Fatal("expected doctor failure")
	}
	requireContains(t, out, "[FAIL] overlay missing-overlay.png not found")
}

func TestInitCreatesExampleFiles(t *testing.T) {
	oldConfigDir := configDir
	t.Cleanup(func() { configDir = oldConfigDir })
	configDir = filepath.Join(t.TempDir(), "fresh")

	out, err := captureStdout(t, func() error {
		return initAction(testCmd(), nil)
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	requireContains(t, out, "with 2 config files")

	data, err := os.ReadFile(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !bytes.Contains(data, []byte("channel_env: SOURCE_CHANNEL_1")) {
		t.Error("example config missing source entry")
	}

	again, err := captureStdout(t, func() error {
		return initAction(testCmd(), nil)
	})
	if err != nil {
		t.Fatalf("init again: %v", err)
	}
	requireContains(t, again, "already initialized")
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("  hello\nworld", 10); got != "hello" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("abcdef", 3); got != "abc..." {
		t.Errorf("firstLine = %q", got)
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func writeTestConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func openStoreForPipelineTest(t *testing.T, path string) *store.Store {
	t.Helper()

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
