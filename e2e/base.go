package e2e

import (
	"chatter/auth"
	"chatter/domain"
	"chatter/infrastructure/relay"
	"chatter/infrastructure/rest"
	"chatter/infrastructure/websocket"
	"chatter/internal"
	"chatter/repositories"
	"chatter/runtime"
	"chatter/wire"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

const (
	stepTimeout = 10 * time.Second
	password    = "Str0ng!Passw0rd"
)

type BaseRelaySuite struct {
	suite.Suite
	Config Config
	Relay  *relay.Server

	log    *slog.Logger
	db     *badger.DB
	server *httptest.Server
}

// SetupSuite loads the environment configuration and starts a relay when none is targeted
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	s.log = logs.GetLoggerFromLevel(slog.LevelWarn)
	if s.Config.RelayURL != "" {
		return
	}

	s.db, err = badger.Open(badger.DefaultOptions(s.T().TempDir()).WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)
	signer, err := auth.NewSigner(s.Config.JWTSecret, time.Hour)
	s.Require().NoError(err)
	s.Relay = relay.NewServer(s.log, relay.Config{WriteTimeout: time.Second},
		signer,
		repositories.NewUserRepository(s.db),
		repositories.NewRoomRepository(s.db),
		repositories.NewMessageRepository(s.db, s.log, 200),
	)
	s.server = httptest.NewServer(s.Relay.Router())
	s.Config.RelayURL = s.server.URL
}

func (s *BaseRelaySuite) TearDownSuite() {
	if s.Relay != nil {
		s.Relay.Hub().Shutdown()
	}
	if s.server != nil {
		s.server.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// Step prints a colorized header for a scenario step
func (s *BaseRelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Account is a registered and logged-in user
type Account struct {
	Username string
	Token    string
	Client   *rest.Client
}

// Participant is an account with a running session
type Participant struct {
	Account
	Session *runtime.Session
	Alerts  *Alerts
}

// Register creates a unique account and logs it in
func (s *BaseRelaySuite) Register(ctx context.Context, firstName string) Account {
	username := firstName + uuid.NewString()[:8]
	client := rest.NewClient(s.log, s.Config.RelayURL, "", stepTimeout)
	_, err := client.Register(ctx, wire.RegisterRequest{
		Username:  username,
		Password:  password,
		FirstName: firstName,
		LastName:  "E2E",
	})
	s.Require().NoError(err, "register "+username)
	token, err := client.Login(ctx, username, password)
	s.Require().NoError(err, "login "+username)
	return Account{Username: username, Token: token, Client: client.WithToken(token)}
}

// Connect starts a session for an already registered participant
func (s *BaseRelaySuite) Connect(ctx context.Context, account Account) *Participant {
	username := account.Username
	wsURL, err := internal.WebsocketURL(s.Config.RelayURL)
	s.Require().NoError(err)
	alerts := &Alerts{}
	session := runtime.NewSession(s.log, runtime.Config{
		ConnectTimeout: stepTimeout,
		FetchTimeout:   stepTimeout,
		SendTimeout:    stepTimeout,
	}, account.Client, account.Client, websocket.NewDialer(s.log, wsURL, account.Token, time.Second), alerts)
	s.T().Cleanup(session.Close)
	s.Require().NoError(session.Start(ctx), "start session of "+username)
	if s.Config.DebugJSON {
		unsubscribe, err := session.Subscribe(func(view domain.View) {
			data, _ := json.MarshalIndent(view, "", "  ")
			s.T().Logf("VIEW %s:\n%s", username, data)
		})
		s.Require().NoError(err)
		s.T().Cleanup(unsubscribe)
	}
	return &Participant{Account: account, Session: session, Alerts: alerts}
}

// WaitView polls the session until cond holds
func (s *BaseRelaySuite) WaitView(p *Participant, cond func(view domain.View) bool) domain.View {
	var view domain.View
	s.Require().Eventually(func() bool {
		var err error
		view, err = p.Session.View(context.Background())
		return err == nil && cond(view)
	}, stepTimeout, 10*time.Millisecond, "view of "+p.Username)
	return view
}

// Alerts records what the presentation layer would show
type Alerts struct {
	mu       sync.Mutex
	messages []string
}

func (a *Alerts) Show(kind domain.AlertKind, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, string(kind)+": "+message)
}

func (a *Alerts) All() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.messages...)
}
