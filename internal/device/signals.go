package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"time"
)

// Signals are the environment readings a device id is derived from
type Signals struct {
	UserAgent           string
	Platform            string
	Language            string
	ScreenWidth         int
	ScreenHeight        int
	TimezoneOffset      int // minutes, positive west of UTC
	Timezone            string
	HardwareConcurrency int
	RenderSample        string
}

// SignalSource supplies device signals
type SignalSource interface {
	Signals(ctx context.Context) (Signals, error)
}

// StaticSignals is a SignalSource that always returns the same readings
type StaticSignals Signals

func (s StaticSignals) Signals(context.Context) (Signals, error) {
	return Signals(s), nil
}

// HostSignalSource reads signals from the host the POS runs on
type HostSignalSource struct {
	Version      string
	ScreenWidth  int
	ScreenHeight int

	now    func() time.Time
	logger *slog.Logger
}

// NewHostSignalSource creates a host source. The screen size is configured since a
// terminal process cannot observe the attached display.
func NewHostSignalSource(version string, screenWidth, screenHeight int, logger *slog.Logger) *HostSignalSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostSignalSource{
		Version:      version,
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "host_signals")),
	}
}

// Signals reads the current host signals
func (h *HostSignalSource) Signals(ctx context.Context) (Signals, error) {
	now := h.now()
	_, offsetSeconds := now.Zone()

	return Signals{
		UserAgent:           fmt.Sprintf("carwash-pos/%s (%s; %s)", h.Version, runtime.GOOS, runtime.GOARCH),
		Platform:            platformName(runtime.GOOS, runtime.GOARCH),
		Language:            languageTag(os.Getenv("LC_ALL"), os.Getenv("LANG")),
		ScreenWidth:         h.ScreenWidth,
		ScreenHeight:        h.ScreenHeight,
		TimezoneOffset:      -offsetSeconds / 60,
		Timezone:            timezoneName(now),
		HardwareConcurrency: runtime.NumCPU(),
		RenderSample:        h.renderSample(ctx),
	}, nil
}

// renderSample stands in for a browser canvas fingerprint: a stable digest of
// host identity of which only the last 50 characters are used.
func (h *HostSignalSource) renderSample(ctx context.Context) string {
	hostname, err := hostName()
	if err != nil {
		h.logger.WarnContext(ctx, "hostname unavailable, using fallback", slog.String("error", err.Error()))
		hostname = "unknown-host"
	}

	mac, err := primaryMAC()
	if err != nil {
		h.logger.WarnContext(ctx, "MAC address unavailable, using fallback", slog.String("error", err.Error()))
		mac = "unknown-mac"
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{hostname, mac, cpuID()}, "|")))
	sample := hex.EncodeToString(sum[:])
	return sample[len(sample)-50:]
}

// primaryMAC returns the first usable hardware address, preferring interfaces that are up
func primaryMAC() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	usable := func(iface net.Interface) (string, bool) {
		if len(iface.HardwareAddr) == 0 {
			return "", false
		}
		mac := iface.HardwareAddr.String()
		return mac, mac != "" && mac != "00:00:00:00:00:00"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac, ok := usable(iface); ok {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac, ok := usable(iface); ok {
			return mac, nil
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

func hostName() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// cpuID describes the processor as precisely as the OS allows without privileges
func cpuID() string {
	switch runtime.GOOS {
	case "windows":
		if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			return id
		}
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					return strings.TrimSpace(line)
				}
			}
		}
	}
	return runtime.GOOS + "-" + runtime.GOARCH
}

// platformName mirrors the platform strings POS browsers reported
func platformName(goos, goarch string) string {
	switch goos {
	case "windows":
		return "Win32"
	case "darwin":
		return "MacIntel"
	case "linux":
		arch := goarch
		switch goarch {
		case "amd64":
			arch = "x86_64"
		case "arm64":
			arch = "aarch64"
		case "386":
			arch = "i686"
		}
		return "Linux " + arch
	default:
		return goos + " " + goarch
	}
}

// languageTag turns a POSIX locale like en_US.UTF-8 into a BCP 47 tag like en-US
func languageTag(values ...string) string {
	for _, v := range values {
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return "en-US"
}

func timezoneName(now time.Time) string {
	if name := now.Location().String(); name != "" && name != "Local" {
		return name
	}
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	name, _ := now.Zone()
	return name
}
