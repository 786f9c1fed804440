package e2e

import (
	"chatter/domain"
	"chatter/errors"
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type testChatSuite struct {
	BaseRelaySuite
}

func TestChatSuite(t *testing.T) {
	suite.Run(t, &testChatSuite{})
}

func contents(messages []domain.Message) []string {
	return lo.Map(messages, func(m domain.Message, _ int) string { return m.Content })
}

func (s *testChatSuite) TestTwoParticipantsExchangeMessages() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var ada, grace *Participant
	var room domain.Room

	// --- STEP 1: ACCOUNTS AND ROOM ---
	s.Run("Step 1: Register both participants and create a shared room", func() {
		s.Step("Register ada and grace")
		adaAccount := s.Register(ctx, "ada")
		graceAccount := s.Register(ctx, "grace")

		var err error
		room, err = adaAccount.Client.CreateRoom(ctx, "Lab", graceAccount.Username)
		s.Require().NoError(err)

		s.Step("Start both sessions")
		ada = s.Connect(ctx, adaAccount)
		grace = s.Connect(ctx, graceAccount)
	})
	s.Require().NotNil(ada)
	s.Require().NotNil(grace)

	// --- STEP 2: EMPTY ROOM ---
	s.Run("Step 2: Both sessions open the new room empty", func() {
		for _, p := range []*Participant{ada, grace} {
			view := s.WaitView(p, func(view domain.View) bool {
				return view.Loaded && view.Room != nil && view.Room.ID == room.ID
			})
			s.Require().Empty(view.Messages)
			s.Require().Equal(domain.Connected, view.Connection)
		}
		if s.Relay != nil {
			s.Require().Eventually(func() bool {
				return s.Relay.Hub().Joined(string(room.ID)) == 2
			}, stepTimeout, 10*time.Millisecond)
		}
	})

	// --- STEP 3: SEND AND ECHO ---
	s.Run("Step 3: A sent message is confirmed once and delivered", func() {
		s.Step("ada says hi")
		_, err := ada.Session.Send(ctx, "hi")
		s.Require().NoError(err)

		view := s.WaitView(ada, func(view domain.View) bool {
			return len(view.Messages) == 1 && view.Messages[0].State == domain.Confirmed
		})
		s.Require().Equal("hi", view.Messages[0].Content)
		s.Require().NotEmpty(view.Messages[0].ID)

		view = s.WaitView(grace, func(view domain.View) bool {
			return len(view.Messages) == 1
		})
		s.Require().Equal("hi", view.Messages[0].Content)
		s.Require().Equal("ada E2E", view.Messages[0].SenderDisplayName())
	})

	// --- STEP 4: REPLY ORDER ---
	s.Run("Step 4: Replies keep chronological order on both sides", func() {
		_, err := grace.Session.Send(ctx, "hello ada")
		s.Require().NoError(err)

		for _, p := range []*Participant{ada, grace} {
			view := s.WaitView(p, func(view domain.View) bool {
				return len(view.Messages) == 2 && view.Messages[1].State == domain.Confirmed
			})
			s.Require().Equal([]string{"hi", "hello ada"}, contents(view.Messages))
		}
	})

	// --- STEP 5: EMPTY SEND ---
	s.Run("Step 5: Empty content is rejected locally", func() {
		_, err := grace.Session.Send(ctx, "   ")
		s.Require().ErrorIs(err, errors.ErrEmptyContent)

		view, err := grace.Session.View(ctx)
		s.Require().NoError(err)
		s.Require().Len(view.Messages, 2)
	})

	// --- STEP 6: HISTORY ---
	s.Run("Step 6: Reopening the room reloads the persisted history", func() {
		s.Require().NoError(grace.Session.JoinRoom(ctx, room))

		view := s.WaitView(grace, func(view domain.View) bool {
			return view.Loaded && len(view.Messages) == 2
		})
		s.Require().Equal([]string{"hi", "hello ada"}, contents(view.Messages))
		s.Require().Empty(grace.Alerts.All())
	})
}
