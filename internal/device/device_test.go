package device

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carwash/pkg/contracts/domain"
)

func TestHash(t *testing.T) {
	// reference values computed with the browser implementation
	tests := []struct {
		input string
		hash  int32
		hex   string
	}{
		{"", 0, "0"},
		{"a", 97, "61"},
		{"hello", 99162322, "5E918D2"},
		{"Mozilla/5.0|en-US|1920x1080|-420|8|abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMN", 953726147, "38D8B4C3"},
		{"héllo wörld ✓", 1283059084, "4C79ED8C"},
		{"carwash-mgmt", -322796069, "133D7A25"},
		{"device fingerprint", -2031885798, "791C1DE6"},
		{"Linux x86_64", 866703091, "33A8D6F3"},
		{"POS-01|id-ID|1366x768|-420|4|zz", 152565431, "917F6B7"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			h := Hash(tt.input)
			assert.Equal(t, tt.hash, h)
			assert.Equal(t, tt.hex, FormatHash(h))
		})
	}
}

func TestFormatHashMinInt32(t *testing.T) {
	assert.Equal(t, "80000000", FormatHash(math.MinInt32))
}

func posSignals() StaticSignals {
	return StaticSignals{
		UserAgent:           "POS-01",
		Platform:            "Linux x86_64",
		Language:            "id-ID",
		ScreenWidth:         1366,
		ScreenHeight:        768,
		TimezoneOffset:      -420,
		Timezone:            "Asia/Jakarta",
		HardwareConcurrency: 4,
		RenderSample:        "zz",
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "POS-01|id-ID|1366x768|-420|4|zz", Fingerprint(Signals(posSignals())))

	s := Signals(posSignals())
	s.RenderSample = "IGNORED-PREFIX-" + "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMN"
	assert.Equal(t, "POS-01|id-ID|1366x768|-420|4|abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMN", Fingerprint(s))
}

func TestGeneratorDeviceID(t *testing.T) {
	ctx := context.Background()

	t.Run("hash plus padding truncated to twelve", func(t *testing.T) {
		g := NewGenerator(posSignals(), Config{}, WithPadding(func() string { return "ABCDEF" }))
		id, err := g.DeviceID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "917F6B7ABCDE", id)
	})

	t.Run("random padding shape", func(t *testing.T) {
		g := NewGenerator(posSignals(), Config{})
		id, err := g.DeviceID(ctx)
		require.NoError(t, err)
		assert.Len(t, id, 12)
		assert.Regexp(t, regexp.MustCompile(`^917F6B7[0-9A-Z]{5}$`), id)
	})

	t.Run("fixed id", func(t *testing.T) {
		g := NewGenerator(posSignals(), Config{UseFixedID: true})
		id, err := g.DeviceID(ctx)
		require.NoError(t, err)
		assert.Equal(t, DevDeviceID, id)

		g = NewGenerator(posSignals(), Config{UseFixedID: true, FixedID: "POS0001"})
		id, err = g.DeviceID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "POS0001", id)
	})

	t.Run("current id is stable for the session", func(t *testing.T) {
		calls := 0
		g := NewGenerator(posSignals(), Config{}, WithPadding(func() string {
			calls++
			return string(rune('A'+calls)) + "ZZZZZ"
		}))

		first, err := g.CurrentDeviceID(ctx)
		require.NoError(t, err)
		second, err := g.CurrentDeviceID(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		fresh, err := g.DeviceID(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, first, fresh)
	})
}

func TestGeneratorGenerate(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	g := NewGenerator(posSignals(), Config{UseFixedID: true}, WithClock(func() time.Time { return now }))

	info, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceInfo{
		DeviceID:            DevDeviceID,
		AppID:               domain.AppID,
		Timestamp:           1700000000000,
		UserAgent:           "POS-01",
		Platform:            "Linux x86_64",
		Language:            "id-ID",
		ScreenResolution:    "1366x768",
		Timezone:            "Asia/Jakarta",
		HardwareConcurrency: 4,
	}, info)
}

func TestWriteMachineFile(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	g := NewGenerator(posSignals(), Config{UseFixedID: true}, WithClock(func() time.Time { return now }))
	info, err := g.Generate(context.Background())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	path, err := g.WriteMachineFile(dir, info)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "machine-info-1700000000000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "{\n  \"deviceId\": \"ABC123XYZ\",\n  \"appId\": \"carwash-mgmt\",")

	var decoded domain.DeviceInfo
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, info, decoded)
}

func TestHostSignalSource(t *testing.T) {
	src := NewHostSignalSource("1.2.3", 1920, 1080, nil)
	src.now = func() time.Time {
		return time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*60*60))
	}

	s, err := src.Signals(context.Background())
	require.NoError(t, err)

	assert.Contains(t, s.UserAgent, "carwash-pos/1.2.3 (")
	assert.Equal(t, -420, s.TimezoneOffset)
	assert.Equal(t, "WIB", s.Timezone)
	assert.Equal(t, 1920, s.ScreenWidth)
	assert.Positive(t, s.HardwareConcurrency)
	assert.Len(t, s.RenderSample, 50)

	again, err := src.Signals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.RenderSample, again.RenderSample, "render sample is stable on one host")
}

func TestPlatformAndLanguage(t *testing.T) {
	assert.Equal(t, "Linux x86_64", platformName("linux", "amd64"))
	assert.Equal(t, "Win32", platformName("windows", "amd64"))
	assert.Equal(t, "MacIntel", platformName("darwin", "arm64"))

	assert.Equal(t, "en-US", languageTag("", "en_US.UTF-8"))
	assert.Equal(t, "id-ID", languageTag("id_ID.UTF-8", "en_US.UTF-8"))
	assert.Equal(t, "en-US", languageTag("C", "POSIX"))
	assert.Equal(t, "de-DE", languageTag("de_DE@euro"))
}
