package bot

import (
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

func testTelegram() *Telegram {
	return NewTelegram(&api.BotAPI{Self: api.User{ID: 99, UserName: "watchtower_bot"}}, 1)
}

func groupChat() api.Chat {
	return api.Chat{ID: -1001, Title: "Watched Group", Type: "supergroup"}
}

func TestTranslateMessage(t *testing.T) {
	t.Parallel()

	update := &api.Update{
		UpdateID: 1,
		Message: &api.Message{
			MessageID: 7,
			Date:      int(time.Now().Unix()),
			Chat:      groupChat(),
			From:      &api.User{ID: 100, UserName: "someone", FirstName: "Some", LastName: "One"},
			Text:      "hello there",
		},
	}

	event, ok := testTelegram().translate(update)
	if !ok {
		t.Fatal("expected a translated event")
	}
	if event.Kind != EventMessage {
		t.Fatalf("kind = %s, want %s", event.Kind, EventMessage)
	}
	if event.Group.ID != -1001 || event.Group.Title != "Watched Group" {
		t.Fatalf("group = %+v", event.Group)
	}
	if event.Sender == nil || event.Sender.ID != 100 || event.Sender.FirstName != "Some One" {
		t.Fatalf("sender = %+v", event.Sender)
	}
	if event.Text != "hello there" {
		t.Fatalf("text = %q", event.Text)
	}
	if event.Message == nil || event.Message.MessageID != 7 || event.Message.ChatID != -1001 {
		t.Fatalf("message ref = %+v", event.Message)
	}
	if event.TraceID == "" {
		t.Fatal("every event must carry a trace id")
	}
}

func TestTranslateCommand(t *testing.T) {
	t.Parallel()

	update := &api.Update{
		Message: &api.Message{
			MessageID: 8,
			Date:      int(time.Now().Unix()),
			Chat:      groupChat(),
			From:      &api.User{ID: 100, UserName: "someone"},
			Text:      "/report",
			Entities: []api.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: 7},
			},
		},
	}

	event, ok := testTelegram().translate(update)
	if !ok {
		t.Fatal("expected a translated event")
	}
	if event.Kind != EventCommand || event.Command != "report" {
		t.Fatalf("kind=%s command=%q, want command/report", event.Kind, event.Command)
	}
}

func TestTranslateMembership(t *testing.T) {
	t.Parallel()

	telegram := testTelegram()

	joined := &api.Update{
		Message: &api.Message{
			Date:           int(time.Now().Unix()),
			Chat:           groupChat(),
			From:           &api.User{ID: 100},
			NewChatMembers: []api.User{{ID: 50}, {ID: 99}},
		},
	}
	event, ok := telegram.translate(joined)
	if !ok || event.Kind != EventMembership {
		t.Fatalf("join: kind=%s ok=%v", event.Kind, ok)
	}
	if event.Membership == nil || !event.Membership.BotJoined || event.Membership.BotLeft {
		t.Fatalf("join: membership = %+v", event.Membership)
	}

	otherJoined := &api.Update{
		Message: &api.Message{
			Date:           int(time.Now().Unix()),
			Chat:           groupChat(),
			NewChatMembers: []api.User{{ID: 50}},
		},
	}
	event, _ = telegram.translate(otherJoined)
	if event.Membership == nil || event.Membership.BotJoined {
		t.Fatalf("someone else joining must not flag the bot: %+v", event.Membership)
	}

	left := &api.Update{
		Message: &api.Message{
			Date:           int(time.Now().Unix()),
			Chat:           groupChat(),
			LeftChatMember: &api.User{ID: 99},
		},
	}
	event, ok = telegram.translate(left)
	if !ok || event.Membership == nil || !event.Membership.BotLeft {
		t.Fatalf("leave: membership = %+v ok=%v", event.Membership, ok)
	}
}

func TestTranslateDropsPrivateChatMessages(t *testing.T) {
	t.Parallel()

	telegram := testTelegram()
	privateChat := api.Chat{ID: 4242, Type: "private"}

	direct := &api.Update{
		Message: &api.Message{
			MessageID: 9,
			Date:      int(time.Now().Unix()),
			Chat:      privateChat,
			From:      &api.User{ID: 100, UserName: "someone"},
			Text:      "hello bot",
		},
	}
	if _, ok := telegram.translate(direct); ok {
		t.Fatal("plain messages from private chats must not become monitorable events")
	}

	channelPost := direct
	channelPost.Message.Chat = api.Chat{ID: -4242, Type: "channel"}
	if _, ok := telegram.translate(channelPost); ok {
		t.Fatal("plain messages from channels must not become monitorable events")
	}

	command := &api.Update{
		Message: &api.Message{
			MessageID: 10,
			Date:      int(time.Now().Unix()),
			Chat:      privateChat,
			From:      &api.User{ID: 100, UserName: "someone"},
			Text:      "/groups",
			Entities: []api.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: 7},
			},
		},
	}
	event, ok := telegram.translate(command)
	if !ok || event.Kind != EventCommand || event.Command != "groups" {
		t.Fatalf("commands must still work in private chats: kind=%s command=%q ok=%v",
			event.Kind, event.Command, ok)
	}
}

func TestTranslateDropsStaleAndEmptyUpdates(t *testing.T) {
	t.Parallel()

	telegram := testTelegram()

	stale := &api.Update{
		Message: &api.Message{
			Date: int(time.Now().Add(-10 * time.Minute).Unix()),
			Chat: groupChat(),
			Text: "too old",
		},
	}
	if _, ok := telegram.translate(stale); ok {
		t.Fatal("stale updates must be dropped")
	}

	if _, ok := telegram.translate(&api.Update{UpdateID: 2}); ok {
		t.Fatal("updates without a message must be dropped")
	}
}

func TestExtractContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *api.Message
		want string
	}{
		{"text only", &api.Message{Text: "hello"}, "hello"},
		{"caption only", &api.Message{Caption: "photo caption"}, "photo caption"},
		{"text and caption", &api.Message{Text: "hello", Caption: "caption"}, "hello caption"},
		{"empty", &api.Message{}, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extractContent(tt.msg); got != tt.want {
				t.Fatalf("extractContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsPermissionError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not enough rights", errors.New("Bad Request: not enough rights to restrict/unrestrict chat member"), true},
		{"admin required", errors.New("CHAT_ADMIN_REQUIRED"), true},
		{"transient", errors.New("Too Many Requests: retry after 5"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isPermissionError(tt.err); got != tt.want {
				t.Fatalf("isPermissionError() = %v, want %v", got, tt.want)
			}
		})
	}
}
