package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adwski/chatroom-server/backend/model"
	"github.com/adwski/chatroom-server/backend/storage/memory"
)

const (
	errTextRoomRequired    = "Room and username are required"
	errTextIncorrectPasswd = "Incorrect room password"
	errTextUserOffline     = "%s is not currently online."
	errTextNotYourName     = "Username does not match your login"
)

func (svc *Service) decode(evt model.Event, v any) error {
	if err := json.Unmarshal(evt.Data, v); err != nil {
		return errors.Join(ErrValidation, err)
	}
	if err := svc.validate.Struct(v); err != nil {
		return errors.Join(ErrValidation, err)
	}
	return nil
}

func (svc *Service) joinRoom(sess *session, evt model.Event) error {
	var data model.JoinRoomData
	if err := svc.decode(evt, &data); err != nil {
		svc.reply(sess, model.AnnouncementError, errTextRoomRequired)
		return err
	}
	if data.Username != sess.username {
		svc.reply(sess, model.AnnouncementError, errTextNotYourName)
		return errors.Join(ErrValidation, ErrUsernameMismatch)
	}

	members, history, err := svc.rooms.Join(data.Room, data.Username, data.Password, sess.connID)
	if err != nil {
		if errors.Is(err, memory.ErrIncorrectPassword) {
			svc.reply(sess, model.AnnouncementError, errTextIncorrectPasswd)
		}
		return err
	}

	svc.sw.Broadcast(memberConnections(members), model.Announcement{
		Type:    model.AnnouncementRoomUsers,
		Payload: members,
	})
	if len(history) > 0 {
		svc.reply(sess, model.AnnouncementMessageHistory, history)
	}

	svc.logger.Debug().
		Str("connID", sess.connID).
		Str("username", data.Username).
		Str("room", data.Room).
		Msg("joined room")
	return nil
}

// sendMessage drops invalid and empty messages without telling the sender.
func (svc *Service) sendMessage(sess *session, evt model.Event) error {
	var data model.SendMessageData
	if err := svc.decode(evt, &data); err != nil {
		return err
	}

	msg, err := svc.rooms.PostMessage(data.Room, sess.username, data.Text)
	if err != nil {
		return err
	}

	svc.sw.Broadcast(svc.rooms.Connections(data.Room), model.Announcement{
		Type:    model.AnnouncementReceiveMessage,
		Payload: msg,
	})
	svc.logger.Trace().
		Str("username", sess.username).
		Str("room", data.Room).
		Int64("id", msg.ID).
		Msg("message posted")
	return nil
}

// sendPrivateMessage stores the message even if the recipient is offline.
// The sender always gets an echo, and an offline notice when the
// recipient could not be reached.
func (svc *Service) sendPrivateMessage(sess *session, evt model.Event) error {
	var data model.SendPrivateMessageData
	if err := svc.decode(evt, &data); err != nil {
		return err
	}

	msg, err := svc.conversations.Send(sess.username, data.ToUsername, data.Text)
	if err != nil {
		return err
	}
	ann := model.Announcement{
		Type:    model.AnnouncementReceivePrivateMessage,
		Payload: msg,
	}

	online := true
	if data.ToUsername != sess.username {
		recipient, ok := svc.identities.Resolve(data.ToUsername)
		online = ok && svc.sw.Online(recipient)
		if online && recipient != sess.connID {
			svc.sw.Send(recipient, ann)
		}
	}
	svc.sw.Send(sess.connID, ann)

	if !online {
		svc.reply(sess, model.AnnouncementPrivateMessageError, fmt.Sprintf(errTextUserOffline, data.ToUsername))
	}
	svc.logger.Trace().
		Str("from", sess.username).
		Str("to", data.ToUsername).
		Bool("online", online).
		Msg("private message sent")
	return nil
}

func (svc *Service) requestPrivateHistory(sess *session, evt model.Event) error {
	var data model.PrivateHistoryData
	if err := svc.decode(evt, &data); err != nil {
		return err
	}

	svc.reply(sess, model.AnnouncementPrivateMessageHistory, model.PrivateHistory{
		OtherUsername: data.OtherUsername,
		History:       svc.conversations.History(sess.username, data.OtherUsername),
	})
	return nil
}

func (svc *Service) typing(sess *session, evt model.Event) error {
	var data model.TypingData
	if err := svc.decode(evt, &data); err != nil {
		return err
	}

	svc.broadcastTyping(data.Room, svc.presence.MarkTyping(data.Room, sess.username))
	return nil
}

func (svc *Service) reply(sess *session, typ string, payload any) {
	svc.sw.Send(sess.connID, model.Announcement{
		Type:    typ,
		Payload: payload,
	})
}
