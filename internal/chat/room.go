// File: internal/chat/room.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package chat

import (
	"github.com/momentics/hioload-chat/command"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/internal/stage"
)

// roomHandler serves members of one chat.
type roomHandler struct {
	svc *Service
}

func (h *roomHandler) Dispatch(s *stage.Stage, c *stage.Conn, cmd command.Command) {
	switch cmd.Name() {
	case command.Message:
		text, ok := cmd.Get(command.KeyMsg)
		if !ok {
			_ = s.Send(c, command.Failure("MSG requires text"))
			return
		}
		s.Multiplex(c, text)
	case command.LeaveChat:
		h.leave(s, c)
	default:
		h.svc.lobbyH.Dispatch(s, c, cmd)
	}
}

func (h *roomHandler) leave(s *stage.Stage, c *stage.Conn) {
	svc := h.svc
	if err := s.Handoff(c, svc.lobby); err != nil {
		svc.log.Warn("leave failed", "conn", c.ID(), "err", err)
		_ = s.Send(c, command.Failure("could not leave chat"))
		return
	}
	s.Multiplex(nil, leftMessage(c))
	if sess, ok := svc.session(c); ok {
		sess.SetStage(LobbyStage)
		sess.Attrs().Delete(session.AttrRoom)
	}
	svc.log.Info("left chat", "conn", c.ID(), "user", c.Username(), "stage", s.Name())
	_ = svc.lobby.Send(c, command.OK(command.E(command.KeyStage, stageLobby)))
}
