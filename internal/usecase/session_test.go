package usecase

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/rs/zerolog"

	"whisper/internal/domain/model"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func startSession(t *testing.T, dir *Directory, cfg SessionConfig) (*Session, *fakeRouter, *uiRecorder) {
	t.Helper()
	router := newFakeRouter()
	ui := &uiRecorder{}
	s := NewSession(testKey(t), dir, router, cfg, ui.callbacks(), zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	return s, router, ui
}

func defaultCfg() SessionConfig {
	return SessionConfig{DefaultRoom: "lobby", MaxMessageSize: 4096, RateLimit: 10}
}

func TestSessionStart(t *testing.T) {
	dir := newTestDirectory(100)
	s, router, ui := startSession(t, dir, defaultCfg())

	if !s.Connected() {
		t.Error("session should be connected after Start")
	}
	u, ok := dir.GetUser(s.ID())
	if !ok {
		t.Fatal("user should be registered")
	}
	if u.Room != "lobby" || u.Fingerprint != s.Fingerprint() {
		t.Errorf("unexpected user record: %+v", u)
	}
	if u.Nick != "anon_"+u.Fingerprint[:6] && u.Nick[:5] != "anon_" {
		t.Errorf("default nick should derive from the fingerprint, got %q", u.Nick)
	}
	if router.handlerFor("lobby") == nil {
		t.Error("session should be subscribed to the default room")
	}
	if joins := router.publishedOfType(model.MessageJoin); len(joins) != 1 {
		t.Errorf("expected one join announcement, got %d", len(joins))
	}
	if got := ui.systemCount(""); got < 3 {
		t.Errorf("expected at least three welcome system messages, got %d", got)
	}
}

func TestSendMessage(t *testing.T) {
	t.Run("isolated publish succeeds with exactly one echo", func(t *testing.T) {
		dir := newTestDirectory(100)
		s, router, ui := startSession(t, dir, defaultCfg())

		s.SendMessage(context.Background(), "hi")

		texts := router.publishedOfType(model.MessageText)
		if len(texts) != 1 || texts[0].Content != "hi" {
			t.Fatalf("expected one published text, got %v", texts)
		}
		if n := ui.messageCount(texts[0].ID); n != 1 {
			t.Errorf("expected exactly one UI emission, got %d", n)
		}
		found := false
		for _, m := range dir.RecentMessages("lobby", 0) {
			if m.ID == texts[0].ID {
				found = true
			}
		}
		if !found {
			t.Error("message should be in lobby history")
		}
		if ui.hasSystem("Failed to send") {
			t.Error("isolated publish must not surface a failure")
		}
	})

	t.Run("two local sessions each see the message once", func(t *testing.T) {
		dir := newTestDirectory(100)
		a, routerA, uiA := startSession(t, dir, defaultCfg())
		_, _, uiB := startSession(t, dir, defaultCfg())

		a.SendMessage(context.Background(), "hi")

		sent := routerA.publishedOfType(model.MessageText)[0]
		if n := uiA.messageCount(sent.ID); n != 1 {
			t.Errorf("sender UI emissions: expected 1, got %d", n)
		}
		if n := uiB.messageCount(sent.ID); n != 1 {
			t.Errorf("receiver UI emissions: expected 1, got %d", n)
		}
		count := 0
		for _, m := range dir.RecentMessages("lobby", 0) {
			if m.ID == sent.ID {
				count++
			}
		}
		if count != 1 {
			t.Errorf("history should hold the message once, got %d", count)
		}
	})

	t.Run("inbound overlay message reaches every local session once", func(t *testing.T) {
		dir := newTestDirectory(100)
		a, routerA, uiA := startSession(t, dir, defaultCfg())
		_, routerB, uiB := startSession(t, dir, defaultCfg())

		remote := model.NewTextMessage("lobby", "carol", "CCCC3333", "hello from afar")
		routerA.handlerFor("lobby")(remote)
		routerB.handlerFor("lobby")(remote) // the shared node offers it to each handler

		if n := uiA.messageCount(remote.ID); n != 1 {
			t.Errorf("A should see the remote message once, got %d", n)
		}
		if n := uiB.messageCount(remote.ID); n != 1 {
			t.Errorf("B should see the remote message once, got %d", n)
		}
		count := 0
		for _, m := range dir.RecentMessages("lobby", 0) {
			if m.ID == remote.ID {
				count++
			}
		}
		if count != 1 {
			t.Errorf("history should dedup the duplicate offer, got %d", count)
		}
		_ = a
	})

	t.Run("own messages from the overlay are filtered", func(t *testing.T) {
		dir := newTestDirectory(100)
		s, router, ui := startSession(t, dir, defaultCfg())

		echo := model.NewTextMessage("lobby", s.Nick(), s.Fingerprint(), "looped back")
		router.handlerFor("lobby")(echo)

		if n := ui.messageCount(echo.ID); n != 0 {
			t.Errorf("own fingerprint must be suppressed, got %d emissions", n)
		}
	})

	t.Run("oversized content is rejected before publish", func(t *testing.T) {
		dir := newTestDirectory(100)
		cfg := defaultCfg()
		cfg.MaxMessageSize = 8
		s, router, ui := startSession(t, dir, cfg)

		s.SendMessage(context.Background(), "123456789")

		if len(router.publishedOfType(model.MessageText)) != 0 {
			t.Error("oversized message must not be published")
		}
		if !ui.hasSystem("too large") {
			t.Error("expected an oversize system notice")
		}
	})

	t.Run("publish failure surfaces a notice and skips echo", func(t *testing.T) {
		dir := newTestDirectory(100)
		s, router, ui := startSession(t, dir, defaultCfg())
		router.mu.Lock()
		router.failPublish = true
		router.mu.Unlock()

		before := len(dir.RecentMessages("lobby", 0))
		s.SendMessage(context.Background(), "hi")

		if !ui.hasSystem("Failed to send message") {
			t.Error("expected a publish failure notice")
		}
		if got := len(dir.RecentMessages("lobby", 0)); got != before {
			t.Error("failed sends must not enter history")
		}
	})
}

func TestRateLimit(t *testing.T) {
	dir := newTestDirectory(100)
	cfg := defaultCfg()
	cfg.RateLimit = 3
	s, router, ui := startSession(t, dir, cfg)

	for i := 0; i < 4; i++ {
		s.SendMessage(context.Background(), "spam")
	}

	if got := len(router.publishedOfType(model.MessageText)); got != 3 {
		t.Errorf("expected 3 published messages, got %d", got)
	}
	if !ui.hasSystem("Rate limit") {
		t.Error("expected a rate limit notice")
	}
	texts := 0
	for _, m := range dir.RecentMessages("lobby", 0) {
		if m.Type == model.MessageText {
			texts++
		}
	}
	if texts != 3 {
		t.Errorf("history should hold 3 texts, got %d", texts)
	}
}

func TestSendAction(t *testing.T) {
	dir := newTestDirectory(100)
	cfg := defaultCfg()
	cfg.MaxMessageSize = 4
	s, router, _ := startSession(t, dir, cfg)

	// Actions bypass the size check.
	s.SendAction(context.Background(), "stretches out a very long arm")

	actions := router.publishedOfType(model.MessageAction)
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
	if actions[0].Content != "stretches out a very long arm" {
		t.Errorf("unexpected action content %q", actions[0].Content)
	}
}

func TestChangeNick(t *testing.T) {
	t.Run("rejects a nick taken in the room", func(t *testing.T) {
		dir := newTestDirectory(100)
		a, _, _ := startSession(t, dir, defaultCfg())
		b, routerB, uiB := startSession(t, dir, defaultCfg())

		a.ChangeNick(context.Background(), "alice")
		var nickEvents int
		dir.Subscribe(DirectoryEvents{OnUserNick: func(model.UserInfo, string) { nickEvents++ }})

		oldNick := b.Nick()
		b.ChangeNick(context.Background(), "ALICE")

		if b.Nick() != oldNick {
			t.Errorf("nick should be unchanged, got %q", b.Nick())
		}
		if !uiB.hasSystem("already taken") {
			t.Error("expected a collision notice")
		}
		if nickEvents != 0 {
			t.Error("no user:nick event should be emitted on rejection")
		}
		if len(routerB.publishedOfType(model.MessageNick)) != 0 {
			t.Error("no nick announcement should be published on rejection")
		}
	})

	t.Run("rename persists even when the announcement fails", func(t *testing.T) {
		dir := newTestDirectory(100)
		s, router, ui := startSession(t, dir, defaultCfg())
		router.mu.Lock()
		router.failPublish = true
		router.mu.Unlock()

		s.ChangeNick(context.Background(), "quietone")

		if s.Nick() != "quietone" {
			t.Errorf("local nick should persist, got %q", s.Nick())
		}
		u, _ := dir.GetUser(s.ID())
		if u.Nick != "quietone" {
			t.Errorf("directory nick should persist, got %q", u.Nick)
		}
		if !ui.hasSystem("now known as quietone") {
			t.Error("expected a rename confirmation")
		}
	})

	t.Run("re-asserting the current nick is a no-op", func(t *testing.T) {
		dir := newTestDirectory(100)
		s, router, ui := startSession(t, dir, defaultCfg())
		nick := s.Nick()
		s.ChangeNick(context.Background(), nick)
		if !ui.hasSystem("already known as") {
			t.Error("expected an already-known-as notice")
		}
		if len(router.publishedOfType(model.MessageNick)) != 0 {
			t.Error("no announcement for a no-op rename")
		}
	})
}

func TestJoinRoom(t *testing.T) {
	t.Run("room switch with history replay", func(t *testing.T) {
		dir := newTestDirectory(100)
		a, routerA, uiA := startSession(t, dir, defaultCfg())
		for i := 0; i < 5; i++ {
			a.SendMessage(context.Background(), "chatter")
		}
		// quiet has history from someone else
		dir.AddMessage(model.NewTextMessage("quiet", "carol", "CCCC3333", "old news"))
		ownOld := model.NewTextMessage("quiet", a.Nick(), a.Fingerprint(), "my own old line")
		dir.AddMessage(ownOld)

		a.JoinRoom(context.Background(), "quiet")

		if a.Room() != "quiet" {
			t.Fatalf("expected room quiet, got %s", a.Room())
		}
		u, _ := dir.GetUser(a.ID())
		if u.Room != "quiet" {
			t.Errorf("directory room should be quiet, got %s", u.Room)
		}
		for _, occupant := range dir.UsersInRoom("lobby") {
			if occupant.SessionID == a.ID() {
				t.Error("A should no longer be in lobby")
			}
		}
		if leaves := routerA.publishedOfType(model.MessageLeave); len(leaves) != 1 {
			t.Errorf("expected one leave announcement, got %d", len(leaves))
		}
		if routerA.handlerFor("lobby") != nil {
			t.Error("lobby subscription should be dropped")
		}
		if routerA.handlerFor("quiet") == nil {
			t.Error("quiet subscription should be installed")
		}
		if !uiA.hasSystem("--- Recent messages ---") || !uiA.hasSystem("--- End of history ---") {
			t.Error("replay should be framed by delimiters")
		}
		if uiA.messageCount(ownOld.ID) != 0 {
			t.Error("replay must exclude the session's own fingerprint")
		}
		if len(uiA.roomChanges) == 0 || uiA.roomChanges[len(uiA.roomChanges)-1] != "quiet" {
			t.Errorf("room change callback: %v", uiA.roomChanges)
		}
	})

	t.Run("joining the current room is a no-op", func(t *testing.T) {
		dir := newTestDirectory(100)
		s, router, ui := startSession(t, dir, defaultCfg())
		joinsBefore := len(router.publishedOfType(model.MessageJoin))
		s.JoinRoom(context.Background(), "lobby")
		if !ui.hasSystem("already in") {
			t.Error("expected an already-in notice")
		}
		if got := len(router.publishedOfType(model.MessageJoin)); got != joinsBefore {
			t.Error("no join announcement for a no-op switch")
		}
	})

	t.Run("empty target room has no replay frame", func(t *testing.T) {
		dir := newTestDirectory(100)
		s, _, ui := startSession(t, dir, defaultCfg())
		s.JoinRoom(context.Background(), "brand-new")
		if ui.hasSystem("--- Recent messages ---") {
			t.Error("no delimiters when there is nothing to replay")
		}
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("cleanup is complete and observed by peers", func(t *testing.T) {
		dir := newTestDirectory(100)
		a, routerA, uiA := startSession(t, dir, defaultCfg())
		_, _, uiB := startSession(t, dir, defaultCfg())

		a.Disconnect(context.Background())

		if a.Connected() {
			t.Error("session should be disconnected")
		}
		if _, ok := dir.GetUser(a.ID()); ok {
			t.Error("user should be deregistered")
		}
		if leaves := routerA.publishedOfType(model.MessageLeave); len(leaves) != 1 {
			t.Errorf("expected one leave announcement, got %d", len(leaves))
		}
		routerA.mu.Lock()
		destroyed := routerA.destroyed
		routerA.mu.Unlock()
		if !destroyed {
			t.Error("router view should be destroyed")
		}
		if uiA.disconnects != 1 {
			t.Errorf("expected one disconnect callback, got %d", uiA.disconnects)
		}
		for _, u := range uiB.lastUserList() {
			if u.SessionID == a.ID() {
				t.Error("B's roster should no longer contain A")
			}
		}
	})

	t.Run("disconnect is idempotent", func(t *testing.T) {
		dir := newTestDirectory(100)
		a, routerA, uiA := startSession(t, dir, defaultCfg())
		a.Disconnect(context.Background())
		a.Disconnect(context.Background())
		if uiA.disconnects != 1 {
			t.Errorf("expected one disconnect callback, got %d", uiA.disconnects)
		}
		if got := len(routerA.publishedOfType(model.MessageLeave)); got != 1 {
			t.Errorf("expected one leave announcement, got %d", got)
		}
	})

	t.Run("operations after disconnect are refused", func(t *testing.T) {
		dir := newTestDirectory(100)
		a, routerA, ui := startSession(t, dir, defaultCfg())
		a.Disconnect(context.Background())
		a.SendMessage(context.Background(), "anyone there?")
		if len(routerA.publishedOfType(model.MessageText)) != 0 {
			t.Error("disconnected session must not publish")
		}
		if !ui.hasSystem("Not connected") {
			t.Error("expected a not-connected notice")
		}
	})
}

func TestShowLists(t *testing.T) {
	dir := newTestDirectory(100)
	a, _, uiA := startSession(t, dir, defaultCfg())
	b, _, _ := startSession(t, dir, defaultCfg())
	b.JoinRoom(context.Background(), "quiet")

	a.ShowUserList()
	if !uiA.hasSystem("Users in lobby (1)") {
		t.Error("expected a roster header for lobby")
	}
	if !uiA.hasSystem("(you)") {
		t.Error("the caller should be marked in the roster")
	}

	a.ShowRoomList()
	if !uiA.hasSystem("quiet (1 users)") {
		t.Error("expected quiet with one occupant in the room list")
	}
}
