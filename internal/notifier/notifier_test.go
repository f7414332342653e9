package notifier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	ps "github.com/mitchellh/go-ps"

	"github.com/julianstephens/habitsync/internal/constants"
)

type mockProcess struct {
	pid        int
	executable string
}

func (m *mockProcess) Pid() int           { return m.pid }
func (m *mockProcess) PPid() int          { return 0 }
func (m *mockProcess) Executable() string { return m.executable }

func stubProcess(t *testing.T, executable string) {
	t.Helper()
	old := findProcessFunc
	t.Cleanup(func() { findProcessFunc = old })
	findProcessFunc = func(pid int) (ps.Process, error) {
		if executable == "" {
			return nil, nil
		}
		return &mockProcess{pid: pid, executable: executable}, nil
	}
}

func stubConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := userConfigDirFunc
	t.Cleanup(func() { userConfigDirFunc = old })
	userConfigDirFunc = func() (string, error) { return dir, nil }
	return dir
}

func TestTrayConfigDir(t *testing.T) {
	base := stubConfigDir(t)

	want := filepath.Join(base, constants.TrayAppIdentifier)
	if dir, err := TrayConfigDir(); err != nil || dir != want {
		t.Errorf("TrayConfigDir() = %q, %v, want %q", dir, err, want)
	}

	if err := os.MkdirAll(want, 0o755); err != nil {
		t.Fatal(err)
	}
	custom := "/custom/habitsync/dir"
	settings := fmt.Sprintf(`{"settings": {"lockfile_dir": %q}}`, custom)
	if err := os.WriteFile(filepath.Join(want, "settings.json"), []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}
	if dir, err := TrayConfigDir(); err != nil || dir != custom {
		t.Errorf("TrayConfigDir() with settings = %q, %v, want %q", dir, err, custom)
	}
}

func TestParseLockfile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Tray
		wantErr string
	}{
		{"valid", "8080|12345|s3cret\n", Tray{Port: 8080, PID: 12345, Secret: "s3cret"}, ""},
		{"two parts", "8080|12345", Tray{}, "malformed"},
		{"garbage", "invalid", Tray{}, "malformed"},
		{"empty secret", "8080|12345|", Tray{}, "secret"},
		{"empty port", "|12345|s3cret", Tray{}, "port"},
		{"port out of range", "99999|12345|s3cret", Tray{}, "outside valid range"},
		{"bad pid", "8080|abc|s3cret", Tray{}, "process ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLockfile(tt.content)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("ParseLockfile() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseLockfile() = %+v, %v, want %+v", got, err, tt.want)
			}
		})
	}
}

func TestTrayVerify(t *testing.T) {
	tray := Tray{Port: 8080, PID: 42, Secret: "s"}

	stubProcess(t, "")
	if err := tray.Verify(); err == nil {
		t.Error("expected error for missing process")
	}

	stubProcess(t, "other-app")
	if err := tray.Verify(); err == nil || !strings.Contains(err.Error(), "other-app") {
		t.Errorf("expected wrong executable error, got %v", err)
	}

	stubProcess(t, constants.TrayAppExecutable)
	if err := tray.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestLocateTray(t *testing.T) {
	base := stubConfigDir(t)
	stubProcess(t, constants.TrayAppExecutable)

	if _, err := LocateTray(); err == nil || !strings.Contains(err.Error(), "not running") {
		t.Errorf("LocateTray() without lockfile error = %v", err)
	}

	dir := filepath.Join(base, constants.TrayAppIdentifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, constants.NotifierLockfileName), []byte("9000|7|abc"), 0o600); err != nil {
		t.Fatal(err)
	}
	tray, err := LocateTray()
	if err != nil {
		t.Fatalf("LocateTray() error = %v", err)
	}
	if tray.Port != 9000 || tray.Secret != "abc" {
		t.Errorf("LocateTray() = %+v", tray)
	}
}

func TestSend(t *testing.T) {
	var got WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SecretHeader) != "test-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized"))
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got.Text == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	n := New()

	if err := n.Send(Tray{Port: port, Secret: "test-secret"}, "hello"); err != nil {
		t.Errorf("Send() error = %v", err)
	}
	if got.Source != constants.AppName || got.Text != "hello" || got.DurationMs != constants.NotificationDurationMs {
		t.Errorf("payload = %+v", got)
	}

	if err := n.Send(Tray{Port: port, Secret: "wrong"}, "hello"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 error, got %v", err)
	}
	if err := n.Send(Tray{Port: port, Secret: "test-secret"}, "fail"); err == nil {
		t.Error("expected error for server failure")
	}
}

type recordingSender struct {
	sent []string
	err  error
}

func (r *recordingSender) Notify(text string) error {
	r.sent = append(r.sent, text)
	return r.err
}

func TestMilestoneMessage(t *testing.T) {
	if got := MilestoneMessage("Read", 7); got != "🔥 Read: 7 day streak" {
		t.Errorf("MilestoneMessage() = %q", got)
	}
	if got := MilestoneMessage("Run", 30); got != "🏆 Run: 30 day streak" {
		t.Errorf("MilestoneMessage() = %q", got)
	}
}

func TestNotifyMilestone(t *testing.T) {
	tests := []struct {
		name          string
		before, after int
		want          int
		sent          int
	}{
		{"no milestone", 3, 4, 0, 0},
		{"reach star", 2, 3, 3, 1},
		{"reach fire", 6, 7, 7, 1},
		{"already past", 7, 7, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSender{}
			if got := NotifyMilestone(s, "Read", tt.before, tt.after); got != tt.want {
				t.Errorf("NotifyMilestone() = %d, want %d", got, tt.want)
			}
			if len(s.sent) != tt.sent {
				t.Errorf("sent %d notifications, want %d", len(s.sent), tt.sent)
			}
		})
	}

	// Delivery failures are swallowed.
	failing := &recordingSender{err: fmt.Errorf("tray not running")}
	if got := NotifyMilestone(failing, "Read", 29, 30); got != 30 {
		t.Errorf("NotifyMilestone() with failing sender = %d, want 30", got)
	}
	if got := NotifyMilestone(nil, "Read", 2, 3); got != 3 {
		t.Errorf("NotifyMilestone(nil) = %d, want 3", got)
	}
}
