package activation_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carwash/internal/activation"
	"carwash/internal/shared/testutil"
	"carwash/pkg/contracts/domain"
)

func TestCanonicalMessage(t *testing.T) {
	tests := []struct {
		name string
		env  domain.SignatureEnvelope
		want string
	}{
		{
			name: "all fields in signing order",
			env: domain.SignatureEnvelope{
				Signature:   "ignored",
				DeviceID:    "ABC123XYZ",
				AppID:       "carwash-mgmt",
				Timestamp:   json.RawMessage("1700000000000"),
				LicenseType: domain.LicenseTypeValue("STANDARD"),
			},
			want: `{"deviceId":"ABC123XYZ","appId":"carwash-mgmt","timestamp":1700000000000,"licenseType":"STANDARD"}`,
		},
		{
			name: "absent timestamp and license type are omitted",
			env: domain.SignatureEnvelope{
				DeviceID: "ABC123XYZ",
				AppID:    "carwash-mgmt",
			},
			want: `{"deviceId":"ABC123XYZ","appId":"carwash-mgmt"}`,
		},
		{
			name: "html characters are not escaped",
			env: domain.SignatureEnvelope{
				DeviceID:    "<dev&1>",
				AppID:       "carwash-mgmt",
				Timestamp:   json.RawMessage("1"),
				LicenseType: domain.LicenseTypeValue("A&B"),
			},
			want: `{"deviceId":"<dev&1>","appId":"carwash-mgmt","timestamp":1,"licenseType":"A&B"}`,
		},
		{
			name: "explicit null is kept",
			env: domain.SignatureEnvelope{
				DeviceID:    "A",
				AppID:       "carwash-mgmt",
				Timestamp:   json.RawMessage("null"),
				LicenseType: json.RawMessage("null"),
			},
			want: `{"deviceId":"A","appId":"carwash-mgmt","timestamp":null,"licenseType":null}`,
		},
		{
			name: "numbers print the way javascript prints them",
			env: domain.SignatureEnvelope{
				DeviceID:  "A",
				AppID:     "carwash-mgmt",
				Timestamp: json.RawMessage("1.50"),
			},
			want: `{"deviceId":"A","appId":"carwash-mgmt","timestamp":1.5}`,
		},
		{
			name: "large number uses exponent form",
			env: domain.SignatureEnvelope{
				DeviceID:  "A",
				AppID:     "carwash-mgmt",
				Timestamp: json.RawMessage("1E21"),
			},
			want: `{"deviceId":"A","appId":"carwash-mgmt","timestamp":1e+21}`,
		},
		{
			name: "small number uses exponent form",
			env: domain.SignatureEnvelope{
				DeviceID:  "A",
				AppID:     "carwash-mgmt",
				Timestamp: json.RawMessage("0.00000015"),
			},
			want: `{"deviceId":"A","appId":"carwash-mgmt","timestamp":1.5e-7}`,
		},
		{
			name: "negative zero",
			env: domain.SignatureEnvelope{
				DeviceID:  "A",
				AppID:     "carwash-mgmt",
				Timestamp: json.RawMessage("-0"),
			},
			want: `{"deviceId":"A","appId":"carwash-mgmt","timestamp":0}`,
		},
		{
			name: "string escapes are normalized",
			env: domain.SignatureEnvelope{
				DeviceID:    "A",
				AppID:       "carwash-mgmt",
				LicenseType: json.RawMessage(`"\u0053TANDARD\/x"`),
			},
			want: `{"deviceId":"A","appId":"carwash-mgmt","licenseType":"STANDARD/x"}`,
		},
		{
			name: "line separators are written literally",
			env: domain.SignatureEnvelope{
				DeviceID:    "a\u2028b",
				AppID:       "carwash-mgmt",
				LicenseType: json.RawMessage(`"c\u2029d"`),
			},
			want: "{\"deviceId\":\"a\u2028b\",\"appId\":\"carwash-mgmt\",\"licenseType\":\"c\u2029d\"}",
		},
		{
			name: "escaped backslash before u2028 text is preserved",
			env: domain.SignatureEnvelope{
				DeviceID: `a\u2028b`,
				AppID:    "carwash-mgmt",
			},
			want: `{"deviceId":"a\\u2028b","appId":"carwash-mgmt"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := activation.CanonicalMessage(tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalMessageFromSignatureFile(t *testing.T) {
	sig := `{
  "signature": "c2ln",
  "deviceId": "ABC123XYZ",
  "appId": "carwash-mgmt",
  "timestamp": 1700000000000,
  "licenseType": "STANDARD"
}`
	env, err := activation.ParseEnvelope([]byte(sig))
	require.NoError(t, err)

	got, err := activation.CanonicalMessage(env)
	require.NoError(t, err)
	assert.Equal(t, `{"deviceId":"ABC123XYZ","appId":"carwash-mgmt","timestamp":1700000000000,"licenseType":"STANDARD"}`, string(got))
}

// signMessage signs message with the fixture key the way the vendor tool does
func signMessage(t *testing.T, fixture *testutil.ActivationFixture, message string) string {
	t.Helper()
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, fixture.Keys.Private, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func TestVerifierMatchesJavaScriptSigner(t *testing.T) {
	ctx := context.Background()
	fixture := testutil.NewActivationFixture(t)
	verifier := newVerifier(t, fixture.KeyStore)
	info := testutil.DeviceInfo(testutil.FixedDeviceID)

	tests := []struct {
		name        string
		signed      string
		envelope    string
		licenseType string
	}{
		{
			name:     "null license type",
			signed:   `{"deviceId":"ABC123XYZ","appId":"carwash-mgmt","timestamp":1700000000000,"licenseType":null}`,
			envelope: `{"signature":%q,"deviceId":"ABC123XYZ","appId":"carwash-mgmt","timestamp":1700000000000,"licenseType":null}`,
		},
		{
			name:        "non canonical timestamp",
			signed:      `{"deviceId":"ABC123XYZ","appId":"carwash-mgmt","timestamp":1.5,"licenseType":"PREMIUM"}`,
			envelope:    `{"signature":%q,"deviceId":"ABC123XYZ","appId":"carwash-mgmt","timestamp":1.50,"licenseType":"PREMIUM"}`,
			licenseType: domain.LicenseTypePremium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := fmt.Sprintf(tt.envelope, signMessage(t, fixture, tt.signed))
			result, err := verifier.Verify(ctx, info, sig)
			require.NoError(t, err)
			assert.Equal(t, tt.licenseType, result.LicenseType)
		})
	}
}

func newVerifier(t *testing.T, keys activation.PublicKeyProvider) *activation.Verifier {
	t.Helper()
	tokens := activation.NewTokenManager(nil, activation.WithClock(func() time.Time { return testutil.FixtureTime }))
	return activation.NewVerifier(keys, tokens, nil)
}

func TestVerifierAcceptsValidSignature(t *testing.T) {
	ctx := context.Background()
	fixture := testutil.NewActivationFixture(t)
	verifier := newVerifier(t, fixture.KeyStore)

	info := testutil.DeviceInfo(testutil.FixedDeviceID)
	sig := fixture.SignEnvelope(t, testutil.FixedDeviceID, domain.AppID, domain.LicenseTypeStandard)

	result, err := verifier.Verify(ctx, info, sig)
	require.NoError(t, err)

	assert.Equal(t, domain.LicenseTypeStandard, result.LicenseType)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, domain.TokenClaims{
		DeviceID:    testutil.FixedDeviceID,
		AppID:       domain.AppID,
		ActivatedAt: "2023-11-14T22:13:20.000Z",
		ExpiresAt:   "2024-11-13T22:13:20.000Z",
		Platform:    info.Platform,
		UserAgent:   info.UserAgent,
	}, result.Claims)

	tokens := activation.NewTokenManager(nil, activation.WithClock(func() time.Time { return testutil.FixtureTime }))
	token, err := tokens.Validate(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, testutil.FixedDeviceID, token.DeviceID)
}

func TestVerifierRejections(t *testing.T) {
	ctx := context.Background()
	fixture := testutil.NewActivationFixture(t)
	verifier := newVerifier(t, fixture.KeyStore)
	info := testutil.DeviceInfo(testutil.FixedDeviceID)

	valid := fixture.SignEnvelope(t, testutil.FixedDeviceID, domain.AppID, domain.LicenseTypeStandard)

	mutate := func(fn func(env *domain.SignatureEnvelope)) string {
		env, err := activation.ParseEnvelope([]byte(valid))
		require.NoError(t, err)
		fn(&env)
		data, err := json.Marshal(env)
		require.NoError(t, err)
		return string(data)
	}

	tests := []struct {
		name      string
		signature string
		wantErr   error
		field     string
	}{
		{
			name:      "not json",
			signature: "definitely not json",
			wantErr:   activation.ErrMalformedSignature,
		},
		{
			name:      "device id mismatch",
			signature: fixture.SignEnvelope(t, "OTHER00001", domain.AppID, domain.LicenseTypeStandard),
			wantErr:   activation.ErrFieldMismatch,
			field:     "deviceId",
		},
		{
			name:      "app id mismatch",
			signature: fixture.SignEnvelope(t, testutil.FixedDeviceID, "other-app", domain.LicenseTypeStandard),
			wantErr:   activation.ErrFieldMismatch,
			field:     "appId",
		},
		{
			name:      "device id is checked before app id",
			signature: fixture.SignEnvelope(t, "OTHER00001", "other-app", domain.LicenseTypeStandard),
			wantErr:   activation.ErrFieldMismatch,
			field:     "deviceId",
		},
		{
			name: "license type altered after signing",
			signature: mutate(func(env *domain.SignatureEnvelope) {
				env.LicenseType = domain.LicenseTypeValue(domain.LicenseTypeEnterprise)
			}),
			wantErr: activation.ErrInvalidSignature,
		},
		{
			name: "timestamp altered after signing",
			signature: mutate(func(env *domain.SignatureEnvelope) {
				env.Timestamp = json.RawMessage("1700000000001")
			}),
			wantErr: activation.ErrInvalidSignature,
		},
		{
			name: "signature bytes corrupted",
			signature: mutate(func(env *domain.SignatureEnvelope) {
				raw, err := base64.StdEncoding.DecodeString(env.Signature)
				require.NoError(t, err)
				raw[10] ^= 0xFF
				env.Signature = base64.StdEncoding.EncodeToString(raw)
			}),
			wantErr: activation.ErrInvalidSignature,
		},
		{
			name: "signature is not base64",
			signature: mutate(func(env *domain.SignatureEnvelope) {
				env.Signature = "***"
			}),
			wantErr: activation.ErrMalformedSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := verifier.Verify(ctx, info, tt.signature)
			assert.Nil(t, result)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			if tt.field != "" {
				var mismatch *activation.FieldMismatchError
				require.True(t, errors.As(err, &mismatch))
				assert.Equal(t, tt.field, mismatch.Field)
			}
		})
	}
}

func TestVerifierPropagatesKeyStoreFailure(t *testing.T) {
	ctx := context.Background()
	fixture := testutil.NewActivationFixture(t)
	sig := fixture.SignEnvelope(t, testutil.FixedDeviceID, domain.AppID, domain.LicenseTypeStandard)

	broken := activation.NewKeyStore(fixture.Blob, checksumOf("not the key"))
	_, err := newVerifier(t, broken).Verify(ctx, testutil.DeviceInfo(testutil.FixedDeviceID), sig)
	assert.ErrorIs(t, err, activation.ErrSecurityViolation)
	assert.Equal(t, domain.ReasonKeyUnavailable, activation.ClassifyError(err))

	wiped := testutil.NewActivationFixture(t).KeyStore
	wiped.Wipe()
	_, err = newVerifier(t, wiped).Verify(ctx, testutil.DeviceInfo(testutil.FixedDeviceID), sig)
	assert.ErrorIs(t, err, activation.ErrSecurityViolation)
}

func TestVerifierRejectsSignatureFromForeignKey(t *testing.T) {
	fixture := testutil.NewActivationFixture(t)
	sig := fixture.SignEnvelope(t, testutil.FixedDeviceID, domain.AppID, domain.LicenseTypeStandard)

	// the embedded vendor key did not produce the fixture signature
	_, err := newVerifier(t, activation.NewEmbeddedKeyStore()).Verify(context.Background(), testutil.DeviceInfo(testutil.FixedDeviceID), sig)
	assert.ErrorIs(t, err, activation.ErrInvalidSignature)
}
