package bot

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const updateTimeout = 5 * time.Minute

// Telegram adapts the Bot API to the engine's MessageSource and ActionSink.
// It is the only package that touches the platform SDK.
type Telegram struct {
	bot            *api.BotAPI
	operatorChatID int64
}

func NewTelegram(botAPI *api.BotAPI, operatorChatID int64) *Telegram {
	return &Telegram{
		bot:            botAPI,
		operatorChatID: operatorChatID,
	}
}

func (t *Telegram) Events(ctx context.Context) (<-chan Event, <-chan error) {
	ch := make(chan Event, t.bot.Buffer)
	chErr := make(chan error, 1)

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := t.bot.GetUpdates(updateConfig)
				if err != nil {
					chErr <- err
					return
				}
				for _, update := range updates {
					if update.UpdateID < updateConfig.Offset {
						continue
					}
					updateConfig.Offset = update.UpdateID + 1
					event, ok := t.translate(&update)
					if !ok {
						continue
					}
					select {
					case ch <- event:
					case <-ctx.Done():
						chErr <- ctx.Err()
						return
					}
				}
			}
		}
	}()

	return ch, chErr
}

// translate maps an update to an engine event. Updates older than the
// timeout and updates without a usable chat are dropped.
func (t *Telegram) translate(u *api.Update) (Event, bool) {
	msg := u.Message
	if msg == nil {
		return Event{}, false
	}
	updateTime := time.Unix(int64(msg.Date), 0)
	if time.Since(updateTime) > updateTimeout {
		log.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         time.Since(updateTime),
		}).Debug("skipping outdated update")
		return Event{}, false
	}

	chat := u.FromChat()
	if chat == nil {
		return Event{}, false
	}

	event := Event{
		Kind: EventMessage,
		Group: GroupRef{
			ID:    chat.ID,
			Title: chat.Title,
			Type:  chat.Type,
		},
		Time:    updateTime,
		TraceID: uuid.New(),
	}

	if user := u.SentFrom(); user != nil {
		event.Sender = &SenderRef{
			ID:        user.ID,
			Username:  user.UserName,
			FirstName: strings.TrimSpace(user.FirstName + " " + user.LastName),
			IsBot:     user.IsBot,
		}
	}

	switch {
	case msg.IsCommand():
		event.Kind = EventCommand
		event.Command = msg.Command()
	case len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil:
		change := &MembershipChange{}
		for _, member := range msg.NewChatMembers {
			if member.ID == t.bot.Self.ID {
				change.BotJoined = true
			}
		}
		if msg.LeftChatMember != nil && msg.LeftChatMember.ID == t.bot.Self.ID {
			change.BotLeft = true
		}
		event.Kind = EventMembership
		event.Membership = change
	default:
		// Plain messages are only monitored inside groups. Direct chats
		// still answer commands but never become monitored records.
		if !isGroupChat(chat.Type) {
			return Event{}, false
		}
		event.Text = extractContent(msg)
		event.Message = &MessageRef{ChatID: chat.ID, MessageID: msg.MessageID}
	}
	return event, true
}

func isGroupChat(chatType string) bool {
	return chatType == "group" || chatType == "supergroup"
}

func extractContent(msg *api.Message) string {
	return strings.TrimSpace(msg.Text + " " + msg.Caption)
}

func (t *Telegram) DeleteMessage(ctx context.Context, ref MessageRef) error {
	return t.withRetry(ctx, "delete message", func() error {
		_, err := t.bot.Request(api.NewDeleteMessage(ref.ChatID, ref.MessageID))
		return err
	})
}

func (t *Telegram) RestrictSender(ctx context.Context, chatID, userID int64, d time.Duration) error {
	return t.withRetry(ctx, "restrict sender", func() error {
		_, err := t.bot.Request(api.RestrictChatMemberConfig{
			ChatMemberConfig: api.ChatMemberConfig{
				ChatConfig: api.ChatConfig{
					ChatID: chatID,
				},
				UserID: userID,
			},
			UntilDate: time.Now().Add(d).Unix(),
			Permissions: &api.ChatPermissions{
				CanSendMessages:       false,
				CanSendAudios:         false,
				CanSendDocuments:      false,
				CanSendPhotos:         false,
				CanSendVideos:         false,
				CanSendVideoNotes:     false,
				CanSendVoiceNotes:     false,
				CanSendPolls:          false,
				CanSendOtherMessages:  false,
				CanAddWebPagePreviews: false,
				CanChangeInfo:         false,
				CanInviteUsers:        false,
				CanPinMessages:        false,
				CanManageTopics:       false,
			},
		})
		return err
	})
}

func (t *Telegram) BanSender(ctx context.Context, chatID, userID int64) error {
	return t.withRetry(ctx, "ban sender", func() error {
		_, err := t.bot.Request(api.BanChatMemberConfig{
			ChatMemberConfig: api.ChatMemberConfig{
				ChatConfig: api.ChatConfig{
					ChatID: chatID,
				},
				UserID: userID,
			},
			RevokeMessages: true,
		})
		return err
	})
}

func (t *Telegram) SendOperatorMessage(ctx context.Context, text string) error {
	return t.SendGroupMessage(ctx, t.operatorChatID, text)
}

func (t *Telegram) SendGroupMessage(ctx context.Context, chatID int64, text string) error {
	return t.withRetry(ctx, "send message", func() error {
		reply := api.NewMessage(chatID, text)
		reply.DisableNotification = true
		reply.LinkPreviewOptions.IsDisabled = true
		_, err := t.bot.Send(reply)
		return err
	})
}

// GetBotPermissions looks up the bot's own membership. Lookup failures
// degrade to "no rights" so the policy falls back to alert-only handling.
func (t *Telegram) GetBotPermissions(ctx context.Context, chatID int64) (Permissions, error) {
	var member api.ChatMember
	err := t.withRetry(ctx, "get bot permissions", func() error {
		var innerErr error
		member, innerErr = t.bot.GetChatMember(api.GetChatMemberConfig{
			ChatConfigWithUser: api.ChatConfigWithUser{
				ChatConfig: api.ChatConfig{
					ChatID: chatID,
				},
				UserID: t.bot.Self.ID,
			},
		})
		return innerErr
	})
	if err != nil {
		return Permissions{}, errors.WithMessage(err, "cant resolve bot permissions")
	}
	if member.IsCreator() {
		return Permissions{IsAdmin: true, CanDelete: true, CanRestrict: true}, nil
	}
	return Permissions{
		IsAdmin:     member.IsAdministrator(),
		CanDelete:   member.IsAdministrator() && member.CanDeleteMessages,
		CanRestrict: member.IsAdministrator() && member.CanRestrictMembers,
	}, nil
}

func (t *Telegram) MemberCount(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := t.withRetry(ctx, "get member count", func() error {
		var innerErr error
		count, innerErr = t.bot.GetChatMembersCount(api.ChatMemberCountConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
		})
		return innerErr
	})
	if err != nil {
		return 0, errors.WithMessage(err, "cant get member count")
	}
	return count, nil
}

// withRetry runs a platform call with a single immediate retry. Permission
// errors are not retried, they are a policy branch upstream.
func (t *Telegram) withRetry(ctx context.Context, op string, call func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	err := call()
	if err == nil {
		return nil
	}
	if isPermissionError(err) {
		return errors.WithMessage(err, op)
	}
	log.WithError(err).WithField("op", op).Debug("retrying platform call")
	if err = call(); err != nil {
		return errors.WithMessage(err, op)
	}
	return nil
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "not enough rights") ||
		strings.Contains(msg, "CHAT_ADMIN_REQUIRED")
}
