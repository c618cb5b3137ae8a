// File: internal/chat/reception.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package chat

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/command"
	"github.com/momentics/hioload-chat/internal/stage"
)

// credentialTimeout bounds one credential store call.
const credentialTimeout = 5 * time.Second

// receptionHandler serves connections that have not logged in.
type receptionHandler struct {
	svc *Service
}

func (h *receptionHandler) Dispatch(s *stage.Stage, c *stage.Conn, cmd command.Command) {
	switch cmd.Name() {
	case command.LogIn:
		h.logIn(s, c, cmd)
	case command.SignUp:
		h.signUp(s, c, cmd)
	default:
		_ = s.Send(c, command.Unsupported(cmd.Name()))
	}
}

func (h *receptionHandler) logIn(s *stage.Stage, c *stage.Conn, cmd command.Command) {
	svc := h.svc
	user, okU := cmd.Get(command.KeyUser)
	password, okP := cmd.Get(command.KeyPassword)
	if !okU || !okP {
		_ = s.Send(c, command.Failure("LOG_IN requires UNAME and PSSWRD"))
		return
	}

	ctx, cancel := context.WithTimeout(svc.runCtx, credentialTimeout)
	secret, exists, err := svc.creds.Lookup(ctx, user)
	cancel()
	if err != nil {
		svc.log.Error("credential lookup failed", "conn", c.ID(), "user", user, "err", err)
		_ = s.Send(c, command.Failure("credential store unavailable"))
		return
	}
	match := exists && svc.hasher.Compare(secret, password)
	resp := command.Format(
		command.E(command.KeyUser, strconv.FormatBool(exists)),
		command.E(command.KeyPassword, strconv.FormatBool(match)),
	)
	if !match {
		svc.log.Info("login rejected", "conn", c.ID(), "user", user, "known", exists)
		_ = s.Send(c, resp)
		return
	}

	sess := svc.sessions.Create(user, c.ID(), LobbyStage)
	c.Authenticate(user, sess.ID())
	if err := s.Handoff(c, svc.lobby); err != nil {
		svc.sessions.Remove(user, sess.ID())
		c.Authenticate("", "")
		svc.log.Warn("login handoff failed", "conn", c.ID(), "user", user, "err", err)
		_ = s.Send(c, command.Failure("lobby unavailable"))
		return
	}
	svc.log.Info("user logged in", "conn", c.ID(), "user", user, "session", sess.ID())
	_ = svc.lobby.Send(c, resp)
	_ = svc.lobby.Send(c, command.OK(command.E(command.KeyStage, stageLobby)))
}

func (h *receptionHandler) signUp(s *stage.Stage, c *stage.Conn, cmd command.Command) {
	svc := h.svc
	user, ok1 := cmd.Get(command.KeyUser)
	password, ok2 := cmd.Get(command.KeyPassword)
	first, ok3 := cmd.Get(command.KeyFirst)
	last, ok4 := cmd.Get(command.KeyLast)
	if !(ok1 && ok2 && ok3 && ok4) {
		_ = s.Send(c, command.Failure("SGN_UP requires UNAME, PSSWRD, FNAME and LNAME"))
		return
	}
	secret, err := svc.hasher.Hash(password)
	if err != nil {
		svc.log.Error("password hashing failed", "conn", c.ID(), "err", err)
		_ = s.Send(c, command.Failure("registration failed"))
		return
	}

	ctx, cancel := context.WithTimeout(svc.runCtx, credentialTimeout)
	err = svc.creds.Store(ctx, api.User{Username: user, Secret: secret, FirstName: first, LastName: last})
	cancel()
	switch {
	case errors.Is(err, api.ErrAlreadyExists):
		_ = s.Send(c, command.Failure("username "+user+" is already taken"))
	case err != nil:
		svc.log.Error("credential store failed", "conn", c.ID(), "user", user, "err", err)
		_ = s.Send(c, command.Failure("registration failed"))
	default:
		svc.log.Info("user registered", "conn", c.ID(), "user", user)
		_ = s.Send(c, command.OK())
	}
}
