// Package adb drives the Android Debug Bridge command-line tool.
package adb

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Ning0612/Phonesync/internal/bridge"
	"github.com/Ning0612/Phonesync/internal/core/checksum"
	"github.com/Ning0612/Phonesync/internal/domain"
	"github.com/Ning0612/Phonesync/internal/logger"
)

// ScanBatchSize is the number of files announced per media scanner call
const ScanBatchSize = 10

const scanIntent = "android.intent.action.MEDIA_SCANNER_SCAN_FILE"

// DeviceInfo describes one connected device
type DeviceInfo struct {
	Serial       string
	State        string
	Model        string
	Manufacturer string
	// Attrs holds the key:value pairs printed by `adb devices -l`
	Attrs map[string]string
}

// Label returns a display name such as "Google Pixel 8 (1A2B3C)"
func (d DeviceInfo) Label() string {
	name := strings.TrimSpace(d.Manufacturer + " " + d.Model)
	if name == "" {
		name = strings.ReplaceAll(d.Attrs["model"], "_", " ")
	}
	if name == "" {
		return d.Serial
	}
	return fmt.Sprintf("%s (%s)", name, d.Serial)
}

// Chooser picks one of several devices, returning its index
type Chooser func(devices []DeviceInfo) (int, error)

// Client runs adb through a bridge.Runner
type Client struct {
	runner bridge.Runner
	path   string
}

// NewClient creates a client invoking the adb binary at adbPath
func NewClient(runner bridge.Runner, adbPath string) *Client {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &Client{runner: runner, path: adbPath}
}

func (c *Client) run(ctx context.Context, args ...string) (*bridge.Result, error) {
	return c.runner.Run(ctx, c.path, args...)
}

// Verify checks that adb can be started and returns its version line
func (c *Client) Verify(ctx context.Context) (string, error) {
	res, err := c.run(ctx, "version")
	if err != nil {
		return "", fmt.Errorf("adb unavailable: %w", err)
	}
	version, _, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\n")
	return strings.TrimSpace(version), nil
}

// Devices lists the connected devices that are ready for use. Unauthorized
// and offline devices are left out.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	res, err := c.run(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}

	var ready []DeviceInfo
	for _, d := range ParseDevices(res.Stdout) {
		if d.State == "device" {
			ready = append(ready, d)
		} else {
			logger.Get().Debug("ignoring device", "serial", d.Serial, "state", d.State)
		}
	}
	return ready, nil
}

// ParseDevices parses the output of `adb devices -l`
func ParseDevices(output string) []DeviceInfo {
	var devices []DeviceInfo

	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		d := DeviceInfo{Serial: fields[0], State: fields[1], Attrs: map[string]string{}}
		for _, f := range fields[2:] {
			if k, v, ok := strings.Cut(f, ":"); ok {
				d.Attrs[k] = v
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// Select picks the device to transfer to. A single device is used directly;
// several are handed to choose. Model and manufacturer are filled in from
// the device properties.
func (c *Client) Select(ctx context.Context, choose Chooser) (*Session, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}

	var picked DeviceInfo
	switch {
	case len(devices) == 0:
		return nil, domain.ErrNoDevice
	case len(devices) == 1 || choose == nil:
		picked = devices[0]
	default:
		idx, err := choose(devices)
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(devices) {
			return nil, fmt.Errorf("device index %d out of range", idx)
		}
		picked = devices[idx]
	}

	s := c.Session(picked.Serial)
	picked.Model = s.prop(ctx, "ro.product.model")
	picked.Manufacturer = s.prop(ctx, "ro.product.manufacturer")
	s.info = picked

	logger.Component("adb").Info("selected device", "device", picked.Label(), "serial", picked.Serial)
	return s, nil
}

// Session returns a device handle bound to serial
func (c *Client) Session(serial string) *Session {
	return &Session{client: c, info: DeviceInfo{Serial: serial, State: "device"}}
}

// Session is a device bound to one serial. It implements adapter.Device.
type Session struct {
	client *Client
	info   DeviceInfo
}

// Info returns what is known about the bound device
func (s *Session) Info() DeviceInfo {
	return s.info
}

// Serial implements adapter.Device
func (s *Session) Serial() string {
	return s.info.Serial
}

func (s *Session) run(ctx context.Context, args ...string) (*bridge.Result, error) {
	return s.client.run(ctx, append([]string{"-s", s.info.Serial}, args...)...)
}

func (s *Session) shell(ctx context.Context, command string) (*bridge.Result, error) {
	return s.run(ctx, "shell", command)
}

func (s *Session) prop(ctx context.Context, name string) string {
	res, err := s.shell(ctx, "getprop "+name)
	if err != nil {
		logger.Get().Debug("getprop failed", "property", name, "error", err)
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// Mkdir implements adapter.Device
func (s *Session) Mkdir(ctx context.Context, dir string) error {
	_, err := s.shell(ctx, "mkdir -p "+Quote(dir))
	return err
}

// Push implements adapter.Device. Only the exit status decides success.
func (s *Session) Push(ctx context.Context, localPath, remotePath string) error {
	_, err := s.run(ctx, "push", localPath, remotePath)
	return err
}

// Hash computes the digest of remotePath on the device
func (s *Session) Hash(ctx context.Context, remotePath string, algo checksum.Algorithm) (string, error) {
	res, err := s.shell(ctx, checksum.Command(algo)+" "+Quote(remotePath))
	if err != nil {
		return "", err
	}
	return checksum.ParseDigest(res.Stdout, algo)
}

// ScanMedia implements adapter.Device. Files are announced in batches of
// ScanBatchSize, one adb invocation per batch; every batch is attempted and
// the first failure is returned.
func (s *Session) ScanMedia(ctx context.Context, remotePaths []string) error {
	var firstErr error
	for start := 0; start < len(remotePaths); start += ScanBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+ScanBatchSize, len(remotePaths))
		if _, err := s.shell(ctx, scanCommand(remotePaths[start:end])); err != nil {
			logger.Component("adb").Warn("media scan broadcast failed", "files", end-start, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func scanCommand(paths []string) string {
	cmds := make([]string, len(paths))
	for i, p := range paths {
		uri := "file://" + path.Clean(p)
		cmds[i] = fmt.Sprintf("am broadcast -a %s -d %s >/dev/null", scanIntent, Quote(uri))
	}
	return strings.Join(cmds, " && ")
}

// Quote single-quotes s for the device shell
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
