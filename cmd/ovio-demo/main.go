// Command ovio-demo wires up a reactor, an RTP jitter buffer fed by a
// UDP socket, and a SIP-gateway bridge fed by a TCP listener, and runs
// them on a single poll loop until interrupted.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	ovio "github.com/openvocs/ovio"
	"github.com/openvocs/ovio/internal/bridge"
	"github.com/openvocs/ovio/internal/logging"
	"github.com/openvocs/ovio/internal/mixer"
	"github.com/openvocs/ovio/internal/reactor"
	"github.com/openvocs/ovio/internal/rtp"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (optional)")
	rtpAddr := flag.String("rtp", "127.0.0.1:5004", "UDP address to receive RTP on")
	bridgeAddr := flag.String("bridge", "127.0.0.1:5060", "TCP address the SIP gateway connects to")
	flag.Parse()

	logger := logging.Default()

	cfg := ovio.DefaultConfig()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Errorf("ovio-demo: reading config: %v", err)
			os.Exit(1)
		}
		cfg, err = ovio.ParseConfig(data)
		if err != nil {
			logger.Errorf("ovio-demo: parsing config: %v", err)
			os.Exit(1)
		}
	}

	r, err := reactor.New(reactor.Config{
		MaxSockets: cfg.Reactor.MaxSockets,
		MaxTimers:  cfg.Reactor.MaxTimers,
		Logger:     logger,
	})
	if err != nil {
		logger.Errorf("ovio-demo: reactor init: %v", err)
		os.Exit(1)
	}
	defer r.Close()

	jb := rtp.NewJitterBuffer(cfg.RTP.FramesToBufferPerStream, nil)
	udpConn, err := net.ListenPacket("udp", *rtpAddr)
	if err != nil {
		logger.Errorf("ovio-demo: rtp listen: %v", err)
		os.Exit(1)
	}
	defer udpConn.Close()

	adapter := rtp.NewSocketAdapter(udpConn, jb, logger, nil)
	rtpFD, err := adapter.FD()
	if err != nil {
		logger.Errorf("ovio-demo: rtp fd: %v", err)
		os.Exit(1)
	}
	if err := r.RegisterFD(rtpFD, reactor.EventReadable, func(int, reactor.Event) { adapter.ReadOnce() }); err != nil {
		logger.Errorf("ovio-demo: registering rtp fd: %v", err)
		os.Exit(1)
	}

	mix := mixer.NewMem()
	timeout := time.Duration(cfg.Bridge.ResponseTimeoutUsec) * time.Microsecond
	br := bridge.New(r, mix, bridge.Config{
		Timeout: timeout,
		Logger:  logger,
		Hooks: bridge.Hooks{
			OnConnected: func(id bridge.ConnID, connected bool) {
				logger.Infof("bridge: gateway connection %d connected=%v", id, connected)
			},
			OnCallNew: func(c *bridge.CallState) {
				logger.Infof("bridge: new call %s on loop %s", c.CallID, c.Loop)
			},
			OnCallTerminated: func(c *bridge.CallState) {
				logger.Infof("bridge: call %s terminated", c.CallID)
			},
		},
	})

	ln, err := net.Listen("tcp", *bridgeAddr)
	if err != nil {
		logger.Errorf("ovio-demo: bridge listen: %v", err)
		os.Exit(1)
	}
	defer ln.Close()

	listenerFD, err := listenerFD(ln)
	if err != nil {
		logger.Errorf("ovio-demo: bridge listener fd: %v", err)
		os.Exit(1)
	}
	if err := r.RegisterFD(listenerFD, reactor.EventReadable, func(int, reactor.Event) {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			logger.Warnf("ovio-demo: accept: %v", acceptErr)
			return
		}
		if _, attachErr := br.AttachConnection(conn); attachErr != nil {
			logger.Warnf("ovio-demo: attach: %v", attachErr)
			conn.Close()
		}
	}); err != nil {
		logger.Errorf("ovio-demo: registering bridge listener: %v", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("ovio-demo: shutting down")
		r.Stop()
	}()

	logger.Infof("ovio-demo: rtp on %s, bridge on %s", *rtpAddr, *bridgeAddr)
	if err := r.Run(reactor.RunForever); err != nil {
		logger.Errorf("ovio-demo: reactor run: %v", err)
		os.Exit(1)
	}
}

func listenerFD(ln net.Listener) (int, error) {
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return -1, ovio.NewError("ovio-demo.listenerFD", ovio.ErrInvalidArgument, "listener is not a TCP listener")
	}
	sc, err := tcpLn.SyscallConn()
	if err != nil {
		return -1, ovio.WrapError("ovio-demo.listenerFD", err)
	}
	var fd int
	if ctrlErr := sc.Control(func(f uintptr) { fd = int(f) }); ctrlErr != nil {
		return -1, ovio.WrapError("ovio-demo.listenerFD", ctrlErr)
	}
	return fd, nil
}
