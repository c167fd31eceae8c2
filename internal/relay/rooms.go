package relay

// Room names are plain strings; a room exists while at least one connection
// is subscribed and vanishes with its last member. Four families are in use.

// RoomAll is the global broadcast room every authenticated connection joins.
const RoomAll = "all"

// UserRoom is the private channel for one identity. Every connection owned
// by that identity is auto-subscribed.
func UserRoom(userID string) string { return "user:" + userID }

// ThreadRoom is the realtime channel for one conversation, joined on demand.
func ThreadRoom(threadID string) string { return "thread:" + threadID }

// GroupRoom broadcasts to every connection carrying the given group tag.
func GroupRoom(tag string) string { return "group:" + tag }
