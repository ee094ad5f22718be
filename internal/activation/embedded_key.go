package activation

// Vendor verification key shipped with every build. The blob is the base64 of a PKIX
// RSA-2048 public key PEM with CRLF line endings; the checksum is the SHA-256 hex of that PEM text.
// Replace both together with the output of `activation-signer embed`.
const (
	embeddedPublicKey = "LS0tLS1CRUdJTiBQVUJMSUMgS0VZLS0tLS0NCk1JSUJJakFOQmdrcWhraUc5dzBCQVFFRkFBT0NBUThBTUlJQkNnS0NBUUVBMVVJUWpJNysyMW5lV1lnWjhsNW4NCldpeGVJTmtBblVWQ05TWng4L0pCRkdxaG44a041RVdGTC9DbGxTRmJwOEhMbHhDdUQyb1ZPSk4yZE45dEdiV0kNCmpQVmlhT1J6TGYzbXhqVithY3ZHNThTZFBONThwdTlROGpZUllXZGpmaVRtL1VGMjBxUjVPUVB2UzhnSktmeTgNCmRQL3VsN3Z0S2VmMVB0bmZIaDNreXE1Sy9CVWg0dWF0ZWcvU1llLzNIYUlWc3M0MU04V1pTT0xLN1pTSEl3YmsNCk93cGNkYjYzditJTXpTWElqNUM2VDQ4REVQZXUzKzdRcFFDUDdEZVVnVmhQdkFZTGtjUlRienljN3RnUFhGZ0QNCnN6c3hJdjZjazJrako3bmNSQkZMQ0hZQjc3UVE2SlpEYkN6NWM0OFhRZ292YXByMHJIZFdDMVlMWmFFNW9STXENCkNRSURBUUFCDQotLS0tLUVORCBQVUJMSUMgS0VZLS0tLS0NCg=="

	embeddedPublicKeyChecksum = "8110894e36bba4f343b106d3fab011b743af39dbad4a8b11dcd1ee66ec534356"
)
