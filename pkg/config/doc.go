// Package config loads leadflow configuration.
//
// Values come from built-in defaults, then an optional YAML file named by
// LEADFLOW_CONFIG_FILE, then LEADFLOW_* environment variables. Later
// sources win.
//
// Directory and identity settings:
//
//	LEADFLOW_DIRECTORY_URL="https://identity.example.com/api/server/v1"
//	LEADFLOW_DIRECTORY_USERNAME="admin"
//	LEADFLOW_DIRECTORY_PASSWORD="..."
//	LEADFLOW_DIRECTORY_INSECURE_SKIP_VERIFY="false"
//	LEADFLOW_TOKEN_URL="https://identity.example.com/oauth2/token"
//	LEADFLOW_CLIENT_ID="leadflow"
//	LEADFLOW_CLIENT_SECRET="..."
//	LEADFLOW_ROLE_NAME="superadmin"
//
// Token, user, role and bulk endpoints that are not set are derived from
// the directory host.
//
// Shared state:
//
//	LEADFLOW_REDIS_URL="redis://localhost:6379/0"
//	LEADFLOW_AUDIT_DRIVER="postgres"  # postgres, sqlite3 or empty
//	LEADFLOW_AUDIT_DSN="postgres://localhost/leadflow?sslmode=disable"
//
// Notification relay:
//
//	LEADFLOW_NOTIFY_WEBHOOK_URL="https://mailer.internal/hooks/leadflow"
//	LEADFLOW_NOTIFY_WEBHOOK_SECRET="..."
//
// The same settings in YAML:
//
//	directory:
//	  base_url: https://identity.example.com/api/server/v1
//	  username: admin
//	identity:
//	  client_id: leadflow
//	  token_timeout: 10s
//	audit:
//	  driver: sqlite3
//	  dsn: /var/lib/leadflow/audit.db
package config
