package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lakegate.org/internal/accessreq"
	"lakegate.org/internal/auth"
	"lakegate.org/internal/broker"
	"lakegate.org/internal/catalog"
	"lakegate.org/internal/crypt"
	"lakegate.org/internal/docstore"
	"lakegate.org/internal/docstore/couchbase"
	"lakegate.org/internal/docstore/memstore"
	"lakegate.org/internal/docstore/pg"
	"lakegate.org/internal/httpapi"
	"lakegate.org/internal/mail"
	"lakegate.org/internal/obs"
	"lakegate.org/internal/passport"
	"lakegate.org/internal/storage"
	"lakegate.org/internal/vault"
	"lakegate.org/internal/visa"
)

var version = "0.3.0"

func main() {
	obs.Init()

	// Document store: postgres if a DSN is set, couchbase if a host is set,
	// in-memory otherwise (dev only).
	var (
		db       *sql.DB
		storeFor func(scope string) docstore.Store
	)
	switch {
	case os.Getenv("LAKEGATE_PG_DSN") != "":
		var err error
		db, err = sql.Open("pgx", os.Getenv("LAKEGATE_PG_DSN"))
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		storeFor = func(scope string) docstore.Store { return pg.NewWithDB(db, scope) }
	case os.Getenv("LAKEGATE_CB_HOST") != "":
		cfg := couchbase.Config{
			Host:     os.Getenv("LAKEGATE_CB_HOST"),
			User:     os.Getenv("LAKEGATE_CB_USER"),
			Password: os.Getenv("LAKEGATE_CB_PASSWORD"),
			Bucket:   envOr("LAKEGATE_CB_BUCKET", "lakegate"),
		}
		storeFor = func(scope string) docstore.Store { return couchbase.New(cfg, scope) }
	default:
		log.Println("no store configured, using in-memory documents")
		storeFor = func(scope string) docstore.Store { return memstore.New(scope) }
	}

	box, err := crypt.New(os.Getenv("LAKEGATE_CRYPT_SECRET"))
	if err != nil {
		log.Fatalf("crypt: %v", err)
	}

	var sender mail.Sender = &mail.Nop{}
	if addr := os.Getenv("LAKEGATE_SMTP_ADDR"); addr != "" {
		var smtpAuth smtp.Auth
		if user := os.Getenv("LAKEGATE_SMTP_USER"); user != "" {
			host := addr
			if i := strings.IndexByte(addr, ':'); i >= 0 {
				host = addr[:i]
			}
			smtpAuth = smtp.PlainAuth("", user, os.Getenv("LAKEGATE_SMTP_PASSWORD"), host)
		}
		sender = &mail.SMTPSender{
			Addr: addr,
			From: envOr("LAKEGATE_SMTP_FROM", "noreply@lakegate.org"),
			Auth: smtpAuth,
		}
	}

	brokerClient := broker.New(envOr("LAKEGATE_BROKER_URL", "http://localhost:8085"))

	providers := map[string]storage.Provider{}
	if namenode := os.Getenv("LAKEGATE_HDFS_NAMENODE"); namenode != "" {
		providers["hdfs"] = storage.NewWebHDFS(namenode, envOr("LAKEGATE_HDFS_USER", "lakegate"))
	}

	users := passport.NewService(storeFor("users"), brokerClient, sender, passport.NewRecoveryTokens(box))
	vaultSvc := vault.NewService(storeFor("credentials"), box, brokerClient)
	visaSvc := visa.NewService(brokerClient, users, vaultSvc)
	cat := catalog.NewService(storeFor("catalogs"), users, users, visaSvc, vaultSvc, providers, envOr("LAKEGATE_ISSUER", "lakegate"))
	users.BindCollections(cat)
	requests := accessreq.NewService(storeFor("access_requests"), users, cat, users, sender)
	cat.BindRequests(requests)

	accessTTL := time.Duration(envInt("LAKEGATE_ACCESS_TTL_MINUTES", 15)) * time.Minute
	authSvc, err := auth.NewService(users,
		os.Getenv("LAKEGATE_ACCESS_SECRET"),
		os.Getenv("LAKEGATE_REFRESH_SECRET"),
		accessTTL)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	api := httpapi.New(authSvc, users, visaSvc, vaultSvc, cat, requests, version)

	srv := &http.Server{
		Addr:              envOr("LAKEGATE_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting lakegate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
