// Package chat
// Author: momentics <momentics@gmail.com>
//
// The chat pipeline: a reception stage that upgrades and authenticates
// connections, a lobby stage for signed-in users, and one room stage per
// chat. Connections move between stages with stage.Handoff; the room
// directory maps chat names to their stages.

package chat
