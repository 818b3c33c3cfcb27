package models

import (
	"sort"
	"strings"
)

// ChannelKind classifies a channel.
type ChannelKind string

const (
	ChannelKindGroup      ChannelKind = "group"
	ChannelKindDepartment ChannelKind = "department"
	ChannelKindDirect     ChannelKind = "direct"
	ChannelKindTaskMirror ChannelKind = "task-mirror"
)

// Valid reports whether the kind is one of the known channel kinds.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelKindGroup, ChannelKindDepartment, ChannelKindDirect, ChannelKindTaskMirror:
		return true
	default:
		return false
	}
}

// Channel is the client-side replica of a server channel. The server is
// authoritative; the client refetches on lifecycle signals.
type Channel struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Kind      ChannelKind `json:"kind"`
	MemberIDs []int64     `json:"memberIds,omitempty"`
	Archived  bool        `json:"archived,omitempty"`
}

// HasMember reports whether userID is in the channel's member set.
func (c Channel) HasMember(userID int64) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DisplayName returns the trimmed channel name, falling back to "#<id>".
func (c Channel) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return "#" + formatInt(c.ID)
}

// CloneChannel returns a deep copy of c.
func CloneChannel(c Channel) Channel {
	out := c
	if c.MemberIDs != nil {
		out.MemberIDs = append([]int64(nil), c.MemberIDs...)
	}
	return out
}

// NormalizeMembers de-duplicates and sorts member ids, dropping non-positive ids.
func NormalizeMembers(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
