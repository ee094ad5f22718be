// Package device derives the POS device identifier and the machine-info file a
// vendor signs during offline activation.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"carwash/pkg/contracts/domain"
)

const (
	// DevDeviceID is the fixed id development builds use so a sample signature verifies
	DevDeviceID = "ABC123XYZ"

	deviceIDLength    = 12
	paddingLength     = 6
	renderSampleChars = 50
	base36Alphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Config controls device id generation
type Config struct {
	UseFixedID bool
	FixedID    string
}

// Generator produces device ids and DeviceInfo from a SignalSource
type Generator struct {
	source SignalSource
	cfg    Config
	now    func() time.Time
	pad    func() string
	logger *slog.Logger

	mu      sync.Mutex
	current string
}

// Option configures a Generator
type Option func(*Generator)

// WithClock overrides the time source used for DeviceInfo timestamps
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithPadding overrides the random suffix source
func WithPadding(pad func() string) Option {
	return func(g *Generator) { g.pad = pad }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger.With(slog.String("component", "device_generator"))
		}
	}
}

// NewGenerator creates a generator
func NewGenerator(source SignalSource, cfg Config, opts ...Option) *Generator {
	if cfg.UseFixedID && cfg.FixedID == "" {
		cfg.FixedID = DevDeviceID
	}
	g := &Generator{
		source: source,
		cfg:    cfg,
		now:    time.Now,
		pad:    randomPadding,
		logger: slog.Default().With(slog.String("component", "device_generator")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DeviceID derives a fresh device id. Outside fixed-id mode the id carries random
// padding, so two calls on the same host usually differ.
func (g *Generator) DeviceID(ctx context.Context) (string, error) {
	if g.cfg.UseFixedID {
		return g.cfg.FixedID, nil
	}

	signals, err := g.source.Signals(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read device signals: %w", err)
	}

	id := FormatHash(Hash(Fingerprint(signals))) + g.pad()
	if len(id) > deviceIDLength {
		id = id[:deviceIDLength]
	}
	return id, nil
}

// CurrentDeviceID returns the id for this session: the first id generated is
// reused for the generator's lifetime.
func (g *Generator) CurrentDeviceID(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != "" {
		return g.current, nil
	}
	id, err := g.DeviceID(ctx)
	if err != nil {
		return "", err
	}
	g.current = id
	return id, nil
}

// Generate builds the DeviceInfo for this session
func (g *Generator) Generate(ctx context.Context) (domain.DeviceInfo, error) {
	id, err := g.CurrentDeviceID(ctx)
	if err != nil {
		return domain.DeviceInfo{}, err
	}

	signals, err := g.source.Signals(ctx)
	if err != nil {
		return domain.DeviceInfo{}, fmt.Errorf("failed to read device signals: %w", err)
	}

	return domain.DeviceInfo{
		DeviceID:            id,
		AppID:               domain.AppID,
		Timestamp:           g.now().UnixMilli(),
		UserAgent:           signals.UserAgent,
		Platform:            signals.Platform,
		Language:            signals.Language,
		ScreenResolution:    fmt.Sprintf("%dx%d", signals.ScreenWidth, signals.ScreenHeight),
		Timezone:            signals.Timezone,
		HardwareConcurrency: signals.HardwareConcurrency,
	}, nil
}

// WriteMachineFile writes info to dir as machine-info-<unixms>.json and returns the path
func (g *Generator) WriteMachineFile(dir string, info domain.DeviceInfo) (string, error) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode machine info: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, "machine-info-"+strconv.FormatInt(g.now().UnixMilli(), 10)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write machine file: %w", err)
	}

	g.logger.Info("machine file written",
		slog.String("path", path),
		slog.String("device_id", info.DeviceID),
	)
	return path, nil
}

// Fingerprint joins the signals in hashing order
func Fingerprint(s Signals) string {
	sample := s.RenderSample
	if len(sample) > renderSampleChars {
		sample = sample[len(sample)-renderSampleChars:]
	}
	return strings.Join([]string{
		s.UserAgent,
		s.Language,
		fmt.Sprintf("%dx%d", s.ScreenWidth, s.ScreenHeight),
		strconv.Itoa(s.TimezoneOffset),
		strconv.Itoa(s.HardwareConcurrency),
		sample,
	}, "|")
}

func randomPadding() string {
	var b strings.Builder
	for i := 0; i < paddingLength; i++ {
		b.WriteByte(base36Alphabet[rand.IntN(len(base36Alphabet))])
	}
	return b.String()
}
