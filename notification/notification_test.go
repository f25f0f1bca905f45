package notification_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"roomsync/domain"
	"roomsync/internal/testkit"
	"roomsync/mocks"
	"roomsync/notification"
	"roomsync/services"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func message(id, author string) domain.Message {
	return domain.Message{ID: id, ChatID: "general", AuthorID: author, Text: "hi " + id}
}

func added(messages ...domain.Message) []domain.Change {
	changes := make([]domain.Change, 0, len(messages))
	for i := range messages {
		changes = append(changes, domain.Change{
			Target:  domain.RoomTarget("general"),
			Kind:    domain.Added,
			Key:     messages[i].ID,
			Message: &messages[i],
		})
	}
	return changes
}

func TestShouldNotify(t *testing.T) {
	req := require.New(t)
	var dedup notification.Deduplicator
	session := notification.NewSession("U1")

	req.False(dedup.ShouldNotify(session, message("m1", "U1")), "own message")
	req.True(dedup.ShouldNotify(session, message("m2", "U2")))
	req.False(dedup.ShouldNotify(session, message("m2", "U2")), "duplicate delivery")
	req.True(dedup.ShouldNotify(session, message("m3", "U2")))
	req.Equal("m3", session.LastNotifiedID())
}

func TestShouldNotify_Duplicate_Delivery_Under_Concurrency(t *testing.T) {
	var dedup notification.Deduplicator
	session := notification.NewSession("U1")
	m := message("m1", "U2")

	var wg sync.WaitGroup
	var mu sync.Mutex
	notified := 0
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dedup.ShouldNotify(session, m) {
				mu.Lock()
				notified++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, notified)
}

func TestSessions_Are_Independent(t *testing.T) {
	req := require.New(t)
	var dedup notification.Deduplicator
	first, second := notification.NewSession("U1"), notification.NewSession("U1")
	m := message("m1", "U2")

	req.True(dedup.ShouldNotify(first, m))
	req.True(dedup.ShouldNotify(second, m))
}

func TestObserver_Ignores_Initial_Batches(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	next := mocks.NewMockObserver(ctrl)
	sink := mocks.NewMockNotificationSink(ctrl)
	users := mocks.NewMockUserDirectory(ctrl)
	obs := notification.NewObserver(next, notification.NewSession("U1"), sink, users, "General", slog.Default())

	batch := domain.Batch{Target: domain.RoomTarget("general"), Initial: true,
		Changes: added(message("m1", "U2"), message("m2", "U3"))}

	// Given a snapshot of history
	next.EXPECT().Deliver(gomock.Any(), batch).Return(nil)

	// Then it is forwarded without any alert
	req.NoError(obs.Deliver(context.Background(), batch))
}

func TestObserver_Alerts_On_Last_Added_Message_Only(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	next := mocks.NewMockObserver(ctrl)
	sink := mocks.NewMockNotificationSink(ctrl)
	users := mocks.NewMockUserDirectory(ctrl)
	obs := notification.NewObserver(next, notification.NewSession("U1"), sink, users, "General", slog.Default())

	batch := domain.Batch{Target: domain.RoomTarget("general"),
		Changes: added(message("m1", "U2"), message("m2", "U3"))}

	next.EXPECT().Deliver(gomock.Any(), batch).Return(nil).Times(2)
	users.EXPECT().Lookup("U3").Return(domain.User{ID: "U3", FirstName: "Grace", LastName: "Hopper"}, true)
	sink.EXPECT().Notify(gomock.Any(), "General", "Grace Hopper: hi m2").Return(nil)

	// When the same live batch is delivered twice
	req.NoError(obs.Deliver(context.Background(), batch))
	req.NoError(obs.Deliver(context.Background(), batch))
}

func TestObserver_File_Body_And_Sink_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	next := mocks.NewMockObserver(ctrl)
	sink := mocks.NewMockNotificationSink(ctrl)
	users := mocks.NewMockUserDirectory(ctrl)
	obs := notification.NewObserver(next, notification.NewSession("U1"), sink, users, "General", slog.Default())

	m := domain.Message{ID: "m1", ChatID: "general", AuthorID: "U2", File: &domain.FileRef{Name: "report.pdf"}}
	batch := domain.Batch{Target: domain.RoomTarget("general"), Changes: added(m)}

	next.EXPECT().Deliver(gomock.Any(), batch).Return(nil)
	users.EXPECT().Lookup("U2").Return(domain.User{}, false)
	sink.EXPECT().Notify(gomock.Any(), "General", "U2 sent report.pdf").Return(fmt.Errorf("push provider down"))

	// A failing sink does not break the subscription
	req.NoError(obs.Deliver(context.Background(), batch))
}

func TestObserver_Forwards_Failures_Without_Alerting(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockObserver(ctrl)
	sink := mocks.NewMockNotificationSink(ctrl)
	users := mocks.NewMockUserDirectory(ctrl)
	obs := notification.NewObserver(next, notification.NewSession("U1"), sink, users, "General", slog.Default())

	batch := domain.Batch{Target: domain.RoomTarget("general"), Changes: added(message("m1", "U2"))}
	boom := fmt.Errorf("boom")
	next.EXPECT().Deliver(gomock.Any(), batch).Return(boom)
	next.EXPECT().Closed(boom)

	require.ErrorIs(t, obs.Deliver(context.Background(), batch), boom)
	obs.Closed(boom)
}

type sinkRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (s *sinkRecorder) Notify(_ context.Context, _, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	return nil
}

func (s *sinkRecorder) Bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

type users map[string]domain.User

func (u users) Lookup(id string) (domain.User, bool) {
	user, ok := u[id]
	return user, ok
}

func TestWatcher_Is_Alerted_Once_For_Someone_Elses_Message(t *testing.T) {
	req := require.New(t)
	s := testkit.NewStack(t)
	ctx := context.Background()
	room, err := s.Directory.CreateRoom(ctx, services.CreateRoomCommand{Title: "General", CreatorID: "U1"})
	req.NoError(err)
	_, err = s.MessageLog.Append(ctx, services.AppendCommand{ChatID: room.ID, AuthorID: "U2", Text: "old news"})
	req.NoError(err)

	// Given U1 watches the room through a notifying observer
	timeline := &testkit.Recorder{}
	sink := &sinkRecorder{}
	obs := notification.NewObserver(timeline, notification.NewSession("U1"), sink,
		users{"U2": {ID: "U2", Email: "bob@example.com"}}, room.Title, slog.Default())
	sub, err := s.MessageLog.Watch(ctx, "U1", room.ID, obs)
	req.NoError(err)
	defer sub.Close()
	testkit.Eventually(t, func() bool { return len(timeline.Batches()) == 1 })

	// When U1 then U2 append
	_, err = s.MessageLog.Append(ctx, services.AppendCommand{ChatID: room.ID, AuthorID: "U1", Text: "mine"})
	req.NoError(err)
	m, err := s.MessageLog.Append(ctx, services.AppendCommand{ChatID: room.ID, AuthorID: "U2", Text: "hello"})
	req.NoError(err)

	// Then each is added once and only U2's message alerts
	testkit.Eventually(t, func() bool { return len(timeline.Live()) == 2 })
	live := timeline.Live()
	req.Equal(domain.Added, live[1].Kind)
	req.Equal(m.ID, live[1].Message.ID)
	testkit.Eventually(t, func() bool { return len(sink.Bodies()) == 1 })
	req.Equal([]string{"bob: hello"}, sink.Bodies())
}
