// Package config loads the activation server and client configuration.
//
// # Configuration Sources
//
// Values are applied in this order, later sources winning:
//
//	1. Default()
//	2. A YAML file: $CARWASH_CONFIG_FILE, or carwash.yaml, config.yaml,
//	   configs/config.yaml in the working directory
//	3. Environment variables with the CARWASH prefix
//
// # Environment Variables
//
// Variable names follow the struct nesting:
//
//	CARWASH_SERVER_PORT=3001
//	CARWASH_LOGGING_LEVEL=debug
//	CARWASH_ACTIVATION_TOKEN_FORMAT=jwt
//	CARWASH_ACTIVATION_TOKEN_SECRET=...
//	CARWASH_STORAGE_DATABASE_PATH=/var/lib/carwash/activation.db
//	CARWASH_CLIENT_SERVER_URL=http://10.0.0.2:3001
//
// # Paths
//
// Relative paths are resolved against CARWASH_HOME, or the directory of the
// running executable.
//
// # Validation
//
// Load validates struct tags with go-playground/validator and then the rules that
// span fields: a jwt token format needs a secret of at least 32 characters, and a
// public key override needs both its blob and its checksum.
package config
