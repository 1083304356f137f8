// Package policy implements the subject-to-action/capability rule engine
// described in spec §4.6: a thin manager over the database's fixed-size
// policy rule table, plus the default admin user/group Init provisions.
package policy

import "github.com/RadianOS/radianos/kernel/db"

// AdminUserName and AdminGroupName identify the principals policy.Init
// provisions; every kernel that brings up the policy engine gets exactly
// one administrative subject with every capability.
const (
	AdminUserName  = "admin"
	AdminGroupName = "admin"
)

// Identity bundles the handles policy.Init creates so callers (task
// manager, VFS log provider) can reference the admin subject without
// re-deriving it.
type Identity struct {
	User  db.ObjectHandle
	Group db.ObjectHandle
	Rule  db.PolicyRuleHandle
}

// Init provisions the default admin user and group and adds one rule
// granting the admin user every action and capability; the group gets no
// rule of its own. It does not reset any rule already present: a
// caller may run Init once per boot, before any other AddRule call.
func Init(d *db.Database) Identity {
	user := d.NewUser(db.NewName(AdminUserName))
	group := d.NewGroup(db.NewName(AdminGroupName))

	rule := d.AddRule(db.PolicyRule{
		Subject:      user,
		Allowed:      db.ActionStartTask | db.ActionAccessDevice | db.ActionWriteTo,
		Capabilities: db.CapReadFilesystem | db.CapWriteLog | db.CapSpawnTask | db.CapNetworkAccess,
	})

	return Identity{User: user, Group: group, Rule: rule}
}

// AddRule grants subject the given allowed actions and capabilities,
// reusing a tombstoned slot if one is available.
func AddRule(d *db.Database, subject db.ObjectHandle, allowed db.Action, caps db.Capability) db.PolicyRuleHandle {
	return d.AddRule(db.PolicyRule{Subject: subject, Allowed: allowed, Capabilities: caps})
}

// RemoveRule revokes the rule at h, turning its slot into a tombstone.
func RemoveRule(d *db.Database, h db.PolicyRuleHandle) {
	d.RemoveRule(h)
}

// CheckAction reports whether subject holds a rule permitting action. The
// first rule with a matching subject decides the outcome — rule ordering
// matters, and a later rule for the same subject is never consulted, even
// if it would have granted what an earlier one denied.
func CheckAction(d *db.Database, subject db.ObjectHandle, action db.Action) bool {
	matched, allowed := false, false
	d.ForEachPolicyRule(func(_ db.PolicyRuleHandle, r db.PolicyRule) {
		if matched || r.Subject != subject {
			return
		}
		matched = true
		allowed = r.Allowed.Contains(action)
	})
	return allowed
}

// CheckCapability reports whether subject holds a rule granting every bit
// of cap. As with CheckAction, only the first rule with a matching
// subject is consulted.
func CheckCapability(d *db.Database, subject db.ObjectHandle, cap db.Capability) bool {
	matched, granted := false, false
	d.ForEachPolicyRule(func(_ db.PolicyRuleHandle, r db.PolicyRule) {
		if matched || r.Subject != subject {
			return
		}
		matched = true
		granted = r.Capabilities.Contains(cap)
	})
	return granted
}

// ForEachRule visits every live (non-tombstone) rule.
func ForEachRule(d *db.Database, f func(db.PolicyRuleHandle, db.PolicyRule)) {
	d.ForEachPolicyRule(f)
}
