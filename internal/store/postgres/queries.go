package postgres

const queryFindConfig = `
SELECT configuration
FROM configs
WHERE name = $1
ORDER BY id DESC
LIMIT 1
`

// A consumer may have written the row first; its status wins.
const queryInsertDelivery = `
INSERT INTO user_greeting_histories (uuid, uuid_user, event, message, sent_via, sent_to, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (uuid) DO NOTHING
`

// Upsert so a consumer that outruns the producer's insert still records
// its outcome. The success guard lives in the conflict WHERE clause so
// concurrent redeliveries cannot regress a delivered record.
const queryUpsertDeliveryStatus = `
INSERT INTO user_greeting_histories (uuid, uuid_user, event, message, sent_via, sent_to, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (uuid) DO UPDATE
SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
WHERE user_greeting_histories.status <> 'success'
`

const queryGetStaleDeliveries = `
SELECT uuid, uuid_user, event, message, sent_via, sent_to, status, created_at, updated_at
FROM user_greeting_histories
WHERE status = 'on_going'
  AND COALESCE(updated_at, created_at) < $1
ORDER BY created_at ASC
LIMIT $2
`

const queryTouchDelivery = `
UPDATE user_greeting_histories
SET updated_at = $1
WHERE uuid = $2
  AND status = 'on_going'
`
