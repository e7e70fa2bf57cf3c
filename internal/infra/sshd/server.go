// File: internal/infra/sshd/server.go
package sshd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gliderlabs/ssh"
	"github.com/rs/zerolog"
	gossh "golang.org/x/crypto/ssh"

	"whisper/internal/config"
	"whisper/internal/infra/p2p"
	"whisper/internal/infra/term"
	"whisper/internal/usecase"
)

// Server terminates SSH connections and binds each one to a chat
// session. Authentication is deliberately open: any password or public
// key is accepted, identity comes from the ephemeral per-session key.
type Server struct {
	cfg  *config.Config
	dir  *usecase.Directory
	node *p2p.Node
	proc *usecase.CommandProcessor
	log  zerolog.Logger
	srv  *ssh.Server
}

func NewServer(cfg *config.Config, dir *usecase.Directory, node *p2p.Node, log zerolog.Logger) (*Server, error) {
	signer, err := loadOrCreateHostKey(cfg.SSH.HostKeyPath, log)
	if err != nil {
		return nil, fmt.Errorf("host key: %w", err)
	}

	s := &Server{
		cfg:  cfg,
		dir:  dir,
		node: node,
		proc: usecase.NewCommandProcessor(cfg.Chat.MaxNickLength, cfg.Chat.MaxRoomNameLength, log),
		log:  log.With().Str("component", "sshd").Logger(),
	}
	s.srv = &ssh.Server{
		Addr:    fmt.Sprintf(":%d", cfg.SSH.Port),
		Handler: s.handle,
		PasswordHandler: func(ssh.Context, string) bool {
			return true
		},
		PublicKeyHandler: func(ssh.Context, ssh.PublicKey) bool {
			return true
		},
	}
	s.srv.AddHostKey(signer)
	return s, nil
}

// ListenAndServe blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info().Int("port", s.cfg.SSH.Port).Msg("ssh server listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, ssh.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handle runs one SSH connection for its whole lifetime.
func (s *Server) handle(sess ssh.Session) {
	// Missing PTY attributes fall back to an 80x24 view; the terminal
	// still works over the raw channel.
	ptyReq, winCh, _ := sess.Pty()
	width, height := ptyReq.Window.Width, ptyReq.Window.Height
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}

	// Fresh identity per connection: the public key drives the
	// fingerprint, the private half never leaves this frame.
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		s.log.Error().Err(err).Msg("session key generation failed")
		_ = sess.Exit(1)
		return
	}

	connLog := s.log.With().Str("remote", sess.RemoteAddr().String()).Logger()
	ui := term.NewUI(sess, width, height, connLog)
	router := p2p.NewRouter(s.node, connLog)
	chat := usecase.NewSession(pub, s.dir, router, usecase.SessionConfig{
		DefaultRoom:    s.cfg.Chat.DefaultRoom,
		MaxMessageSize: s.cfg.Chat.MaxMessageSize,
		RateLimit:      s.cfg.Chat.RateLimit,
	}, ui.Callbacks(), connLog)

	ctx := sess.Context()
	defer chat.Destroy(ctx)

	if err := chat.Start(ctx); err != nil {
		connLog.Error().Err(err).Msg("session start failed")
		_, _ = io.WriteString(sess, "failed to start chat session\r\n")
		_ = sess.Exit(1)
		return
	}

	if winCh != nil {
		go func() {
			for win := range winCh {
				ui.Resize(win.Width, win.Height)
			}
		}()
	}

	for {
		line, err := ui.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				connLog.Debug().Err(err).Msg("input stream closed")
			}
			return
		}
		chat.HandleInput(ctx, s.proc, line)
		if !chat.Connected() {
			return
		}
	}
}

// loadOrCreateHostKey loads the PEM host key at path, generating and
// persisting an Ed25519 key on first start.
func loadOrCreateHostKey(path string, log zerolog.Logger) (gossh.Signer, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		signer, err := gossh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse host key %s: %w", path, err)
		}
		return signer, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("write host key %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("generated ssh host key")
	return gossh.NewSignerFromKey(priv)
}
