// Package tags implements group tags: named resolvers that expand to sets of
// group ids, either from stored links (STATIC) or from a rule expression
// (DYNAMIC), optionally inverted as a blacklist.
package tags

import "time"

// Tag types.
const (
	TypeStatic  = "STATIC"
	TypeDynamic = "DYNAMIC"
)

// SpecialAll resolves to every group the bot sees (or every group in the
// store without a bot).
const SpecialAll = "@all"

// Tag is one group tag.
type Tag struct {
	ID          int64
	Name        string
	Description string
	OwnerID     string
	BotID       string
	TagType     string
	// DynamicRule is only set for DYNAMIC tags.
	DynamicRule string
	// IsBlacklist inverts resolution: all known groups minus the tag's set.
	IsBlacklist bool
	CreateTime  time.Time
}
