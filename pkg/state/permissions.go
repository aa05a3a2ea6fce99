package state

import (
	"slices"
	"strings"
)

// Permission is a bitmap of capabilities, granted globally or per room.
type Permission uint64

const (
	PermCanRead Permission = 1 << iota
	PermCanWrite
)

// PermParticipant is what a chat participant receives on join.
const PermParticipant = PermCanRead | PermCanWrite

// BuiltInPerms names the permissions every deployment has. Custom ones are
// registered on top by the config package.
var BuiltInPerms = map[string]Permission{
	"read":  PermCanRead,
	"write": PermCanWrite,
}

// Has reports whether every bit of flag is set.
func (p Permission) Has(flag Permission) bool {
	return p&flag == flag
}

// String lists the built-in names set in p, for logs.
func (p Permission) String() string {
	var names []string
	for name, perm := range BuiltInPerms {
		if p.Has(perm) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	slices.Sort(names)
	return strings.Join(names, "|")
}
