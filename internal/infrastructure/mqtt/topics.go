package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every School Docs topic when no
// prefix is configured.
const DefaultTopicPrefix = "schooldocs"

// Topics builds School Docs MQTT topics under a configurable prefix,
// usually one per school deployment.
//
//	topics := mqtt.NewTopics("schooldocs")
//	topics.RoleRecord("usr-1a2b3c4d")
//	// Returns: "schooldocs/roles/usr-1a2b3c4d"
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix. Leading and trailing
// slashes are trimmed; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// RoleRecord returns the retained topic carrying one user's role record.
//
// Example: schooldocs/roles/usr-1a2b3c4d
func (t Topics) RoleRecord(userID string) string {
	return fmt.Sprintf("%s/roles/%s", t.Prefix(), userID)
}

// AllRoleRecords matches every role record topic.
func (t Topics) AllRoleRecords() string {
	return t.Prefix() + "/roles/+"
}

// RoleRecordUserID extracts the user ID from a role record topic.
func (t Topics) RoleRecordUserID(topic string) (string, bool) {
	userID, ok := strings.CutPrefix(topic, t.Prefix()+"/roles/")
	if !ok || userID == "" || strings.Contains(userID, "/") {
		return "", false
	}
	return userID, true
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: schooldocs/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// AllTopics matches everything under the prefix. Use for debugging only.
func (t Topics) AllTopics() string {
	return t.Prefix() + "/#"
}
