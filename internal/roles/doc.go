// Package roles decides what a signed-in user is allowed to see.
//
// A Policy holds the admin allow-list and is shared by the two pure
// decisions built on it:
//
//   - Resolve maps an identity and its stored RoleRecord (if any) to the
//     effective RoleRecord, reporting which rule produced it.
//   - SelectDashboard maps an effective RoleRecord and email to exactly one
//     Dashboard.
//
// Neither function performs I/O. When Resolve reports RuleAllowList the
// caller is expected to write the resolved record back to the role store;
// see Resolution.NeedsWriteBack.
package roles
