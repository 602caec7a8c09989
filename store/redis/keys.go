package redis

// Every key is prefixed with "visapi:" to share a database safely.
const keyPrefix = "visapi:"

// ── Job keys ──

// jobKey returns the Hash key for a job: visapi:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// laneKey returns the Sorted Set of claimable jobs in a lane, scored by
// run-at in unix milliseconds: visapi:lane:{lane}
func laneKey(lane string) string { return keyPrefix + "lane:" + lane }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// activeKey is the Sorted Set of active jobs scored by last heartbeat.
const activeKey = keyPrefix + "active"

// ── Cron keys ──

// cronKey returns the key for a cron entry: visapi:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronLockKey returns the lock key for a cron entry.
func cronLockKey(id string) string { return keyPrefix + "cron_lock:" + id }

// cronIDsKey is the Set tracking all cron IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps cron names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"

// ── DLQ keys ──

// dlqKey returns the Hash key for a DLQ entry: visapi:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Sorted Set of DLQ entry IDs scored by failed-at.
const dlqIDsKey = keyPrefix + "dlq_ids"

// dlqByJobKey maps job IDs to DLQ entry IDs.
const dlqByJobKey = keyPrefix + "dlq_by_job"

// ── Pub/Sub ──

// statusChannel carries message.StatusUpdate JSON.
const statusChannel = keyPrefix + "message_status"
