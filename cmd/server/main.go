package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhil-thb/hushh-online/internal/ban"
	"github.com/nikhil-thb/hushh-online/internal/db"
	"github.com/nikhil-thb/hushh-online/internal/events"
	"github.com/nikhil-thb/hushh-online/internal/gate"
	"github.com/nikhil-thb/hushh-online/internal/match"
	"github.com/nikhil-thb/hushh-online/internal/metrics"
	"github.com/nikhil-thb/hushh-online/internal/prompt"
	"github.com/nikhil-thb/hushh-online/internal/protocol"
	"github.com/nikhil-thb/hushh-online/internal/ratelimit"
	"github.com/nikhil-thb/hushh-online/internal/session"
	"github.com/nikhil-thb/hushh-online/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	engineConfig := match.DefaultEngineConfig()
	if v := os.Getenv("DATE_START_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			engineConfig.StartDelay = d
		}
	}

	// --- PostgreSQL (bans + prompts) ---
	// Optional: without a DSN the server runs with ban checks disabled and
	// the built-in prompt.
	var (
		banStore    *ban.Store
		promptStore *prompt.Store
	)
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		conn, err := db.Open(dsn)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		if err := db.Migrate(conn); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		banStore = ban.NewStore(conn)
		promptStore = prompt.NewStore(conn)
	} else {
		log.Printf("POSTGRES_DSN not set, ban checks disabled")
	}

	// --- Redis (rate limiting) ---
	var limiter *ratelimit.Limiter
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		limiter = ratelimit.NewLimiter(rdb)
	} else {
		log.Printf("REDIS_ADDR not set, rate limiting disabled")
	}

	// --- NATS (telemetry) ---
	var publisher *events.Publisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := events.DefaultConfig()
		natsConfig.URL = natsURL
		var err error
		publisher, err = events.Connect(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	} else {
		log.Printf("NATS_URL not set, event publishing disabled")
	}

	admissionGate := gate.New(gate.AllowAll, banStore)
	registry := session.NewRegistry()

	log.Printf("Hushh video-date server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  start_delay:     %s", engineConfig.StartDelay)

	// Declare server early so closures can capture it.
	var server *ws.Server

	dispatcher := ws.NewMessageDispatcher(nil)

	var engine *match.Engine

	// -----------------------------------------------------------------------
	// find-video-match — enter the waiting queue or get matched
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeFindMatch, func(conn *ws.Connection, msg interface{}) {
		if _, ok := msg.(protocol.FindMatchMsg); !ok {
			return
		}
		sid := conn.ID
		ctx := context.Background()

		user := registry.Lookup(sid)
		if user == nil {
			log.Printf("find-video-match from unregistered session=%s", sid)
			return
		}

		if limiter != nil {
			allowed, _ := limiter.Allow(ctx, user.Fingerprint, ratelimit.RuleMatch)
			if !allowed {
				resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
					Message: "too many match requests, slow down",
				})
				conn.WriteMessage(resp)
				return
			}
		}

		// Re-check the ban list on every search so a ban applied mid-session
		// takes effect without waiting for a reconnect.
		if banStore != nil {
			status, err := banStore.Check(ctx, user.IP, user.Fingerprint)
			if err != nil {
				log.Printf("find-video-match ban check failed for session=%s, admitting: %v", sid, err)
			} else if status.Banned {
				metrics.BannedRejects.Inc()
				resp, _ := protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{
					Message:    "Banned: " + status.Reason,
					Duration:   status.RemainingMinutes,
					AdsWatched: status.AdsWatched,
					Timestamp:  time.Now().UTC().Format("2006-01-02 15:04:05"),
				})
				conn.WriteMessage(resp)
				return
			}
		}

		engine.FindMatch(ctx, &match.WaitingEntry{
			SessionID:   sid,
			IdentityID:  user.IdentityID,
			IP:          user.IP,
			Fingerprint: user.Fingerprint,
			Profile:     user.Profile,
			EnqueuedAt:  time.Now(),
		})
		log.Printf("find-video-match from session=%s", sid)
	})

	// -----------------------------------------------------------------------
	// Signaling relay: offers, answers, ICE candidates
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeVideoOffer, func(conn *ws.Connection, msg interface{}) {
		offerMsg, ok := msg.(protocol.VideoOfferMsg)
		if !ok {
			return
		}
		engine.Relay(match.SignalOffer, offerMsg.Room, conn.ID, offerMsg.Offer)
	})

	dispatcher.Register(protocol.TypeVideoAnswer, func(conn *ws.Connection, msg interface{}) {
		answerMsg, ok := msg.(protocol.VideoAnswerMsg)
		if !ok {
			return
		}
		engine.Relay(match.SignalAnswer, answerMsg.Room, conn.ID, answerMsg.Answer)
	})

	dispatcher.Register(protocol.TypeICECandidate, func(conn *ws.Connection, msg interface{}) {
		iceMsg, ok := msg.(protocol.ICECandidateMsg)
		if !ok {
			return
		}
		engine.Relay(match.SignalICECandidate, iceMsg.Room, conn.ID, iceMsg.Candidate)
	})

	// -----------------------------------------------------------------------
	// match_decision — continue or end at the close of a timed date
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMatchDecision, func(conn *ws.Connection, msg interface{}) {
		decisionMsg, ok := msg.(protocol.MatchDecisionMsg)
		if !ok {
			return
		}
		engine.Decide(conn.ID, decisionMsg.Room, decisionMsg.Action)
		log.Printf("match_decision from session=%s room=%s action=%s", conn.ID, decisionMsg.Room, decisionMsg.Action)
	})

	server = ws.NewServer(config, admissionGate, registry, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	server.SetLimiter(limiter)
	server.SetEvents(publisher)

	engine = match.NewEngine(engineConfig, server, promptStore, publisher)

	// Disconnects leave the queue and tear down any room the session was in.
	server.SetOnDisconnect(func(connID string) {
		engine.Disconnect(connID)
	})

	// Prometheus metrics on a separate listener.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		publisher.Close()
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
