// Package app wires the SIP transport, the per-call session registry,
// the upstream registration, and the NAT/liveness monitor into one
// runnable process. Grounded on the teacher's SwitchBoard: construct
// the sipgo UA/Server/Client, build the domain components against
// them, register method handlers, then hand control to Run.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sebas/sip-ai-bridge/internal/config"
	"github.com/sebas/sip-ai-bridge/internal/events"
	"github.com/sebas/sip-ai-bridge/internal/keepalive"
	"github.com/sebas/sip-ai-bridge/internal/logger"
	"github.com/sebas/sip-ai-bridge/internal/registrar"
	"github.com/sebas/sip-ai-bridge/internal/session"
)

const shutdownDrain = 5 * time.Second

// Bridge owns every long-lived component for one process: the SIP
// user agent and its server/client, the call session registry, and,
// unless registration is skipped, the registrar and keepalive
// monitor.
type Bridge struct {
	cfg *config.Config

	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	bus     *events.Bus
	manager *session.Manager

	registrar *registrar.Registrar
	monitor   *keepalive.Monitor

	keepaliveConn net.PacketConn
	serverAddr    net.Addr
}

// New builds a Bridge from cfg. It does not bind the SIP listening
// socket or start the SIP listener, registrar or keepalive loops; call
// Run for that.
func New(cfg *config.Config) (*Bridge, error) {
	zlog.Logger = zlog.Logger.Output(logger.SIPStackWriter{})

	ua, err := sipgo.NewUA(sipgo.WithUserAgent("sip-ai-bridge"))
	if err != nil {
		return nil, fmt.Errorf("app: create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("app: create server: %w", err)
	}
	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(cfg.PublicIP),
		sipgo.WithClientPort(cfg.ClientPort),
	)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("app: create client: %w", err)
	}

	bus := events.NewBus(256)

	localHost := cfg.PublicIP
	if localHost == "" {
		localHost = cfg.BindAddr
	}
	manager := session.NewManager(cfg, client, bus, localHost)

	b := &Bridge{
		cfg:     cfg,
		ua:      ua,
		srv:     srv,
		client:  client,
		bus:     bus,
		manager: manager,
	}
	b.registerHandlers()

	if !cfg.SkipRegistration {
		if err := b.setupRegistration(); err != nil {
			ua.Close()
			return nil, err
		}
	} else {
		slog.Warn("app: SKIP_SIP_REGISTRATION set, running without upstream registration")
	}

	return b, nil
}

// registerHandlers dispatches every SIP method this process
// recognizes to the session Manager, and a fixed list of unsupported
// methods (REFER, INFO, MESSAGE, PRACK, SUBSCRIBE, UPDATE, PUBLISH) to
// its 405 fallback; methods in neither list are not registered here.
func (b *Bridge) registerHandlers() {
	b.srv.OnRequest(sip.INVITE, b.manager.HandleInvite)
	b.srv.OnRequest(sip.ACK, b.manager.HandleInDialog)
	b.srv.OnRequest(sip.BYE, b.manager.HandleInDialog)
	b.srv.OnRequest(sip.CANCEL, b.manager.HandleInDialog)
	b.srv.OnRequest(sip.OPTIONS, b.manager.HandleOptions)
	b.srv.OnRequest(sip.NOTIFY, b.manager.HandleNotify)

	unsupported := []sip.RequestMethod{sip.REFER, sip.INFO, sip.MESSAGE, sip.PRACK, sip.SUBSCRIBE, sip.UPDATE, sip.PUBLISH}
	for _, m := range unsupported {
		b.srv.OnRequest(m, b.manager.HandleUnknownMethod)
	}
}

// setupRegistration builds the registrar and keepalive monitor and
// wires their lifecycle callbacks together, per spec.md §4.3.
func (b *Bridge) setupRegistration() error {
	host, portStr, err := net.SplitHostPort(b.cfg.SIPServer)
	if err != nil {
		return fmt.Errorf("app: invalid SIP_SERVER %q: %w", b.cfg.SIPServer, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("app: invalid SIP_SERVER port %q: %w", portStr, err)
	}

	aor := sip.Uri{Scheme: "sip", User: b.cfg.AuthorizationUser, Host: host, Port: port}
	contact := sip.ContactHeader{Address: sip.Uri{
		Scheme: "sip",
		User:   b.cfg.AuthorizationUser,
		Host:   b.cfg.PublicIP,
		Port:   b.cfg.ClientPort,
	}}

	b.registrar = registrar.New(b.cfg, b.client, b.bus, contact, aor)

	serverAddr, err := net.ResolveUDPAddr("udp", b.cfg.SIPServer)
	if err != nil {
		return fmt.Errorf("app: resolve SIP_SERVER %q: %w", b.cfg.SIPServer, err)
	}
	b.serverAddr = serverAddr

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return fmt.Errorf("app: open keepalive socket: %w", err)
	}
	b.keepaliveConn = conn

	b.monitor = keepalive.New(b.cfg, b.client, b.registrar, b.bus, conn, serverAddr)
	b.monitor.Rebind = b.rebindKeepaliveSocket
	b.monitor.ReRegister = b.registrar.TriggerReRegister

	b.registrar.OnRegistering = b.monitor.RecordRegisteringStarted
	b.registrar.OnRegistered = b.monitor.RecordRegistrationSuccess

	return nil
}

// rebindKeepaliveSocket replaces the NAT keepalive datagram socket
// after repeated write failures. sipgo's Server/Client own the actual
// SIP signaling socket internally and don't expose it for rebinding,
// so this only recreates the side channel the Monitor sends CRLF
// keepalives and detects dead-socket conditions through.
func (b *Bridge) rebindKeepaliveSocket() error {
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return fmt.Errorf("app: rebind keepalive socket: %w", err)
	}
	old := b.keepaliveConn
	b.keepaliveConn = conn
	b.monitor.SetConn(conn, b.serverAddr)
	if old != nil {
		old.Close()
	}
	return nil
}

// Run starts the SIP listener and, unless registration is skipped,
// the registrar and keepalive monitor, blocking until ctx is
// cancelled or any component fails.
func (b *Bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	listenAddr := fmt.Sprintf("%s:%d", b.cfg.BindAddr, b.cfg.ClientPort)
	g.Go(func() error {
		slog.Info("app: listening for SIP", "addr", listenAddr)
		if err := b.srv.ListenAndServe(ctx, "udp", listenAddr); err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: SIP listener: %w", err)
		}
		return nil
	})

	if b.registrar != nil && b.monitor != nil {
		g.Go(func() error {
			b.registrar.Run(ctx)
			return nil
		})
		g.Go(func() error {
			b.monitor.Run(ctx)
			return nil
		})
	}

	return g.Wait()
}

// Shutdown tears down every active call, then releases the keepalive
// socket and the SIP user agent, per spec.md §5's shutdown sequence.
func (b *Bridge) Shutdown() {
	b.manager.Shutdown(shutdownDrain)
	if b.keepaliveConn != nil {
		b.keepaliveConn.Close()
	}
	if b.ua != nil {
		if err := b.ua.Close(); err != nil {
			slog.Warn("app: error closing user agent", "error", err)
		}
	}
}

// ActiveCalls reports the number of in-flight calls, for health
// reporting.
func (b *Bridge) ActiveCalls() int { return b.manager.ActiveCalls() }
