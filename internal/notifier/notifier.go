package notifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/streak"
)

// SecretHeader carries the shared secret from the tray app lockfile.
const SecretHeader = "X-Habitsync-Secret"

var (
	userConfigDirFunc = os.UserConfigDir
	findProcessFunc   = ps.FindProcess
)

// Sender delivers a desktop notification.
type Sender interface {
	Notify(text string) error
}

// Tray is a running tray app as advertised by its "port|pid|secret" lockfile.
type Tray struct {
	Port   int
	PID    int
	Secret string
}

// ParseLockfile decodes lockfile content without checking the process.
func ParseLockfile(content string) (Tray, error) {
	parts := strings.Split(strings.TrimSpace(content), "|")
	if len(parts) != 3 {
		return Tray{}, errors.New("lockfile is malformed")
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Tray{}, errors.New("invalid port number in lockfile")
	}
	if port < 1 || port > 65535 {
		return Tray{}, fmt.Errorf("port number %d is outside valid range (1-65535)", port)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Tray{}, errors.New("invalid process ID in lockfile")
	}
	secret := strings.TrimSpace(parts[2])
	if secret == "" {
		return Tray{}, errors.New("secret in lockfile is empty")
	}
	return Tray{Port: port, PID: pid, Secret: secret}, nil
}

// Verify checks that PID belongs to the tray executable and not a recycled process.
func (t Tray) Verify() error {
	process, err := findProcessFunc(t.PID)
	if err != nil || process == nil {
		return fmt.Errorf("%s process not running", constants.TrayAppExecutable)
	}
	if !strings.HasPrefix(process.Executable(), constants.TrayAppExecutable) {
		return fmt.Errorf("process with PID %d is not %s (is %s)", t.PID, constants.TrayAppExecutable, process.Executable())
	}
	return nil
}

func (t Tray) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", t.Port)
}

// Notifier posts notifications to the habitsync tray app.
type Notifier struct {
	client *http.Client
}

type WebhookPayload struct {
	Source     string `json:"source"`
	Text       string `json:"text"`
	DurationMs uint32 `json:"duration_ms"`
}

func New() *Notifier {
	return &Notifier{client: &http.Client{Timeout: 5 * time.Second}}
}

// MilestoneMessage renders the notification for reaching a streak milestone.
func MilestoneMessage(title string, days int) string {
	return fmt.Sprintf("%s %s: %d day streak", streak.TierFor(days).Icon(), title, days)
}

// NotifyMilestone sends a notification when a streak moving from before to after
// crosses a milestone. Delivery failures are logged and dropped; the tray app is
// optional. It reports the milestone crossed, 0 if none.
func NotifyMilestone(s Sender, title string, before, after int) int {
	m := streak.CrossedMilestone(before, after)
	if m == 0 || s == nil {
		return m
	}
	if err := s.Notify(MilestoneMessage(title, m)); err != nil {
		logger.Debug("milestone notification not delivered", "habit", title, "milestone", m, "error", err)
	}
	return m
}

func (n *Notifier) Notify(text string) error {
	tray, err := LocateTray()
	if err != nil {
		return err
	}
	return n.Send(tray, text)
}

// Send posts text to tray.
func (n *Notifier) Send(tray Tray, text string) error {
	body, err := json.Marshal(WebhookPayload{
		Source:     constants.AppName,
		Text:       text,
		DurationMs: constants.NotificationDurationMs,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, tray.URL(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, tray.Secret)

	res, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	msg, _ := io.ReadAll(res.Body)
	return fmt.Errorf("notification failed with status %d: %s", res.StatusCode, string(msg))
}

// LocateTray reads the tray lockfile and verifies the advertised process.
func LocateTray() (Tray, error) {
	dir, err := TrayConfigDir()
	if err != nil {
		return Tray{}, err
	}
	content, err := os.ReadFile(filepath.Join(dir, constants.NotifierLockfileName))
	if err != nil {
		return Tray{}, fmt.Errorf("%s is not running", constants.TrayAppExecutable)
	}
	tray, err := ParseLockfile(string(content))
	if err != nil {
		return Tray{}, err
	}
	if err := tray.Verify(); err != nil {
		return Tray{}, err
	}
	return tray, nil
}

// TrayConfigDir returns where the tray app keeps its lockfile. The tray's
// settings.json may move it through "lockfile_dir".
func TrayConfigDir() (string, error) {
	configDir, err := userConfigDirFunc()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	trayDir := filepath.Join(configDir, constants.TrayAppIdentifier)

	data, err := os.ReadFile(filepath.Join(trayDir, "settings.json"))
	if err != nil {
		return trayDir, nil
	}
	var settings struct {
		Settings struct {
			LockfileDir string `json:"lockfile_dir"`
		} `json:"settings"`
	}
	if err := json.Unmarshal(data, &settings); err == nil && settings.Settings.LockfileDir != "" {
		return settings.Settings.LockfileDir, nil
	}
	return trayDir, nil
}
