package core

import "time"

// Environment variable names recognized by Config.LoadFromEnv.
const (
	EnvCardPath        = "ARTEMIS_CARD_PATH"
	EnvLLMProvider     = "ARTEMIS_LLM_PROVIDER"
	EnvLLMAPIKey       = "ARTEMIS_LLM_API_KEY"
	EnvCheckpointDir   = "ARTEMIS_CHECKPOINT_DIR"
	EnvArtifactStore   = "ARTEMIS_ARTIFACT_STORE"
	EnvMailboxRoot     = "ARTEMIS_MAILBOX_ROOT"
	EnvRedisURL        = "ARTEMIS_REDIS_URL"
	EnvSandboxImage    = "ARTEMIS_SANDBOX_IMAGE"
	EnvDevMode         = "ARTEMIS_DEV_MODE"
	EnvLogLevel        = "ARTEMIS_LOG_LEVEL"
)

// DefaultLLMCacheTTL is how long a deterministic LLM response stays valid
// in the LLM Gateway's response cache before it is considered stale.
const DefaultLLMCacheTTL = 7 * 24 * time.Hour

// DefaultSandboxTimeout bounds a single sandboxed code execution.
const DefaultSandboxTimeout = 30 * time.Second

// DefaultMailboxNamespace prefixes every key the Messaging Bus writes to
// a shared Redis instance, mirroring the teacher's db-isolation
// convention of namespacing keys per subsystem rather than per database.
const DefaultMailboxNamespace = "artemis:mailbox:"

// DefaultArtifactNamespace prefixes Redis keys used by the artifact
// similarity cache.
const DefaultArtifactNamespace = "artemis:artifacts:"
