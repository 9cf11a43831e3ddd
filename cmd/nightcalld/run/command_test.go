package run_test

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"text/template"
	"time"

	"github.com/nightcall/nightcall/cmd/nightcalld/run"
)

func TestCommand_PIDFile(t *testing.T) {
	tmpdir, err := ioutil.TempDir(os.TempDir(), "nightcalld-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpdir)

	// Write out a config file that binds to a random port and keeps all
	// state inside the temporary directory.
	configFile := filepath.Join(tmpdir, "nightcall.conf")
	configTemplate := template.Must(template.New("config_file").Parse(`data_dir = "{{.TempDir}}/data"
[http]
  bind-address = "127.0.0.1:0"
[storage]
  boltdb = "{{.TempDir}}/nightcall.db"
[[oncall.responder]]
  id = "726b4971-f7a2-4bd3-b211-01e53b5a83ef"
  name = "alice"
  contact = "+15550100"
[[oncall.policy]]
  name = "default"
  priorities = ["low", "medium", "high", "critical"]
  [[oncall.policy.level]]
    timeout = "5m"
    [[oncall.policy.level.target]]
      responder = "alice"
      channel = "voice"
`))
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, map[string]string{"TempDir": tmpdir}); err != nil {
		t.Fatalf("unable to generate config file: %s", err)
	}
	if err := ioutil.WriteFile(configFile, buf.Bytes(), 0600); err != nil {
		t.Fatalf("unable to write %s: %s", configFile, err)
	}

	pidFile := filepath.Join(tmpdir, "nightcall.pid")

	cmd := run.NewCommand()
	if err := cmd.Run("-config", configFile, "-pidfile", pidFile); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if _, err := os.Stat(pidFile); err != nil {
		t.Fatalf("could not stat pid file: %s", err)
	}
	go cmd.Close()

	timeout := time.NewTimer(5 * time.Second)
	select {
	case <-timeout.C:
		t.Fatal("unexpected timeout")
	case <-cmd.Closed:
		timeout.Stop()
	}

	if _, err := os.Stat(pidFile); err == nil {
		t.Fatal("expected pid file to be removed")
	}
}
