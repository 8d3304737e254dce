package config

// Template is the annotated configuration written by init-config.
const Template = `# cmdgate configuration. Every key is optional.
# Environment variables override the file: CMDGATE_LISTEN, CMDGATE_AUTH_SIGNATURE_WINDOW, ...

listen: ":8440"
admin_listen: "127.0.0.1:8441"   # gRPC health
metrics_listen: "127.0.0.1:9440" # Prometheus /metrics

database: ~/.cmdgate/cmdgate.db
audit_log: ~/.cmdgate/audit.jsonl   # hash-chained JSONL mirror, empty to disable
keyring: ~/.cmdgate/keyring.yaml
levels: ~/.cmdgate/levels.yaml
# identity: ~/.cmdgate/identity.key   # signs gateway-initiated commands
approvals_dir: ~/.cmdgate/pending
breakglass_dir: ~/.cmdgate/breakglass

auth:
  signature_window: 5m
  nonce_expiry: 5m
  rate_limit_default: 100
  rate_limit_high_risk: 10
  rate_window: 1m
  rate_idle_ttl: 5m
  require_step_up: true
  consume_nonce_before_signature: false
  permission_cache_size: 1024
  permission_cache_ttl: 1m
  sweep_interval: 1m

step_up:
  totp_secrets: {}
  #   phone-1: JBSWY3DPEHPK3PXP

transport:
  request_timeout: 30s
  retries: 0
  retry_delay: 1s
  heartbeat_interval: 15s
  missed_heartbeats: 3
  max_peers: 64
  history_size: 256

router:
  handler_timeout: 30s

alerts: []
#  - url: https://hooks.slack.com/services/...
#    format: slack
#    events: [deny, replay, step_up_failed]
`
