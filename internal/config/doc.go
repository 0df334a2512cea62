// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML, by .toml extension) with
// environment variable expansion. The gateway and parley-chat share one file;
// Load checks the shared sections and each binary then calls ValidateGateway
// or ValidateClient.
//
// # Configuration File
//
// DefaultPath looks in order at:
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. ./parley.yaml (current directory)
//  3. ~/.config/parley/config.yaml
//
// PARLEY_DB_PATH overrides database.path.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:3000"
//
//	database:
//	  driver: "sqlite"            # sqlite, mongo
//	  path: "/var/lib/parley/parley.db"
//	  uri: "mongodb://localhost:27017"
//	  name: "parley"
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"   # at least 32 bytes
//
//	generation:
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""                # empty means api.openai.com
//	  model: "gpt-4o-mini"
//	  timeout: "60s"
//
//	video:
//	  api_key: "${YOUTUBE_API_KEY}"
//	  timeout: "10s"
//
//	upload:
//	  url_endpoint: "https://ik.imagekit.io/parley"
//	  public_key: "${UPLOAD_PUBLIC_KEY}"
//	  private_key: "${UPLOAD_PRIVATE_KEY}"
//	  expire: "30m"
//
//	client:
//	  gateway_url: "http://127.0.0.1:3000"
//	  token: "${PARLEY_TOKEN}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
