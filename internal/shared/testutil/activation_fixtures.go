package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"carwash/internal/activation"
	"carwash/internal/signer"
	"carwash/pkg/contracts/domain"
)

// FixedDeviceID is the development device id used across fixtures
const FixedDeviceID = "ABC123XYZ"

// FixtureTime is a fixed activation instant, 2023-11-14T22:13:20.000Z
var FixtureTime = time.UnixMilli(1700000000000).UTC()

var (
	keyOnce sync.Once
	keyPair *signer.KeyPair
	keyErr  error
)

// ActivationFixture bundles a vendor key pair with a key store that trusts it
type ActivationFixture struct {
	Keys     *signer.KeyPair
	Blob     string
	Checksum string
	KeyStore *activation.KeyStore
}

// NewActivationFixture returns a fixture over a process-wide RSA-2048 test key.
// Each call gets its own KeyStore.
func NewActivationFixture(t testing.TB, opts ...activation.KeyStoreOption) *ActivationFixture {
	t.Helper()

	keyOnce.Do(func() {
		keyPair, keyErr = signer.GenerateKeyPair(signer.DefaultKeyBits)
	})
	require.NoError(t, keyErr)

	blob, checksum := signer.EncodePublicKey(keyPair.PublicPEM)
	return &ActivationFixture{
		Keys:     keyPair,
		Blob:     blob,
		Checksum: checksum,
		KeyStore: activation.NewKeyStore(blob, checksum, opts...),
	}
}

// DeviceInfo returns a plausible POS device description
func DeviceInfo(deviceID string) domain.DeviceInfo {
	return domain.DeviceInfo{
		DeviceID:            deviceID,
		AppID:               domain.AppID,
		Timestamp:           FixtureTime.UnixMilli(),
		UserAgent:           "carwash-pos/1.0.0 (linux; amd64)",
		Platform:            "Linux x86_64",
		Language:            "id-ID",
		ScreenResolution:    "1366x768",
		Timezone:            "Asia/Jakarta",
		HardwareConcurrency: 4,
	}
}

// SignEnvelope signs claims with the fixture key and returns the .sig file body
func (f *ActivationFixture) SignEnvelope(t testing.TB, deviceID, appID, licenseType string) string {
	t.Helper()

	env, err := signer.Sign(f.Keys.Private, signer.Claims{
		DeviceID:    deviceID,
		AppID:       appID,
		Timestamp:   FixtureTime.UnixMilli(),
		LicenseType: licenseType,
	})
	require.NoError(t, err)

	data, err := signer.MarshalEnvelope(env)
	require.NoError(t, err)
	return string(data)
}
