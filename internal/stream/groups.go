package stream

import "context"

// EnsureGroup makes sure a consumer group exists on a stream, optionally
// destroying and recreating it first so a fresh start ID takes effect
// (subscriptions that only want new messages pass startID "$" with
// recreate). Returns whether a new group was created; "already exists" is
// a normal false, never an error.
func EnsureGroup(ctx context.Context, b Broker, stream, group, startID string, recreate bool) (bool, error) {
	if startID == "" {
		startID = "0"
	}
	if recreate {
		if err := b.DestroyGroup(ctx, stream, group); err != nil {
			return false, err
		}
	}
	return b.CreateGroup(ctx, stream, group, startID)
}

// GetOrCreateGroup is EnsureGroup without recreation, for callers that read
// better with lookup semantics.
func GetOrCreateGroup(ctx context.Context, b Broker, stream, group, startID string) (bool, error) {
	return EnsureGroup(ctx, b, stream, group, startID, false)
}
