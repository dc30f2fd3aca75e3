package cache

import (
	"fmt"
	"time"
)

// Default expiry for per-user billing locks. Short on purpose: a crashed
// holder must not block the user's billing path for longer than this.
const LockTTL = 3 * time.Second

// releaseScript deletes a lock key only while it still holds the caller's
// token. Without the compare, a holder whose lock already expired could
// delete a lock acquired by someone else in the meantime.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`

// LockKey returns the per-user mutual-exclusion key for the billing path.
func LockKey(userID uint) string {
	return fmt.Sprintf("wallet:lock:%d", userID)
}

// AcquireLock attempts a set-if-absent-with-expiry on key with the given
// token. It returns false when another holder owns the lock.
func AcquireLock(key, token string, ttl time.Duration) (bool, error) {
	return GetClient().SetNX(ctx, key, token, ttl).Result()
}

// ReleaseLock releases a lock via compare-and-delete. It returns false when
// the lock was no longer held by token (expired and re-acquired elsewhere).
func ReleaseLock(key, token string) (bool, error) {
	res, err := GetClient().Eval(ctx, releaseScript, []string{key}, token).Result()
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}
