// File: internal/chat/lobby.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package chat

import (
	"errors"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/command"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/internal/stage"
)

// STAGE values reported to clients.
const (
	stageLobby = "LOBBY"
	stageRoom  = "ROOM"
)

// lobbyHandler serves signed-in users. Room stages delegate every command
// except MSG and LEAVE_CHT to it, so s may be a room.
type lobbyHandler struct {
	svc *Service
}

func (h *lobbyHandler) Dispatch(s *stage.Stage, c *stage.Conn, cmd command.Command) {
	switch cmd.Name() {
	case command.CreateChat:
		h.createChat(s, c, cmd)
	case command.JoinChat:
		h.joinChat(s, c, cmd)
	case command.DeleteChat:
		h.deleteChat(s, c, cmd)
	case command.LeaveChat:
		_ = s.Send(c, command.Failure("not in a chat"))
	case command.SignOff, command.LogOff:
		h.signOff(s, c)
	default:
		_ = s.Send(c, command.Unsupported(cmd.Name()))
	}
}

func (h *lobbyHandler) createChat(s *stage.Stage, c *stage.Conn, cmd command.Command) {
	name, ok := cmd.Get(command.KeyChatName)
	if !ok {
		_ = s.Send(c, command.Failure("CRT_CHT requires CHAT_NAME"))
		return
	}
	_, err := h.svc.rooms.Create(name)
	switch {
	case errors.Is(err, api.ErrAlreadyExists):
		_ = s.Send(c, command.Failure("chat "+name+" already exists"))
	case errors.Is(err, api.ErrInvalidArgument):
		_ = s.Send(c, command.Failure("invalid chat name"))
	case err != nil:
		h.svc.log.Error("room creation failed", "chat", name, "err", err)
		_ = s.Send(c, command.Failure("chat "+name+" could not be created"))
	default:
		h.svc.log.Info("chat created", "chat", name, "by", c.Username())
		_ = s.Send(c, command.OK())
	}
}

func (h *lobbyHandler) joinChat(s *stage.Stage, c *stage.Conn, cmd command.Command) {
	svc := h.svc
	name, ok := cmd.Get(command.KeyChatName)
	if !ok {
		_ = s.Send(c, command.Failure("JOIN_CHT requires CHAT_NAME"))
		return
	}
	var room *stage.Stage
	err := svc.rooms.WithRoom(name, func(r *stage.Stage) error {
		if r == s {
			return api.ErrAlreadyExists
		}
		room = r
		return s.Handoff(c, r)
	})
	switch {
	case errors.Is(err, api.ErrNotFound):
		_ = s.Send(c, command.Failure("chat "+name+" does not exist"))
		return
	case errors.Is(err, api.ErrAlreadyExists):
		_ = s.Send(c, command.Failure("already in chat "+name))
		return
	case err != nil:
		svc.log.Warn("join failed", "conn", c.ID(), "chat", name, "err", err)
		_ = s.Send(c, command.Failure("could not join chat "+name))
		return
	}

	if svc.rooms.IsRoom(s) {
		s.Multiplex(nil, leftMessage(c))
	}
	if sess, ok := svc.session(c); ok {
		sess.SetStage(room.Name())
		sess.Attrs().Set(session.AttrRoom, name)
	}
	svc.log.Info("joined chat", "conn", c.ID(), "user", c.Username(), "chat", name)
	_ = room.Send(c, command.OK(
		command.E(command.KeyStage, stageRoom),
		command.E(command.KeyChatName, name),
	))
	room.Multiplex(c, joinedMessage(c))
}

func (h *lobbyHandler) deleteChat(s *stage.Stage, c *stage.Conn, cmd command.Command) {
	name, ok := cmd.Get(command.KeyChatName)
	if !ok {
		_ = s.Send(c, command.Failure("DLT_CHT requires CHAT_NAME"))
		return
	}
	err := h.svc.rooms.Delete(name)
	switch {
	case errors.Is(err, api.ErrNotFound):
		_ = s.Send(c, command.Failure("chat "+name+" does not exist"))
	case errors.Is(err, api.ErrRoomNotEmpty):
		_ = s.Send(c, command.Failure("chat "+name+" is not empty"))
	case err != nil:
		_ = s.Send(c, command.Failure("chat "+name+" could not be deleted"))
	default:
		h.svc.log.Info("chat deleted", "chat", name, "by", c.Username())
		_ = s.Send(c, command.OK())
	}
}

// signOff acknowledges and closes once the acknowledgement is written.
// Room departure announcements come from the close hook.
func (h *lobbyHandler) signOff(s *stage.Stage, c *stage.Conn) {
	h.svc.log.Info("user signed off", "conn", c.ID(), "user", c.Username())
	_ = s.Send(c, command.OK())
	_ = s.CloseAfterFlush(c)
}
