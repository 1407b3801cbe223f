package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"draftsync/internal/client"
	"draftsync/internal/config"
	"draftsync/internal/docstore"
	"draftsync/internal/surface"
)

// cachingStore wraps the REST client so every successful save also lands in
// the local snapshot cache. A cold agent can then seed its buffer even when
// the API is unreachable.
type cachingStore struct {
	*docstore.Client
	cache *docstore.Cache
}

func (s *cachingStore) UpdateDocument(ctx context.Context, id, content string) error {
	if err := s.Client.UpdateDocument(ctx, id, content); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Put(docstore.CachedSnapshot{DocumentID: id, Text: content}); err != nil {
			log.Printf("⚠️  Snapshot cache write failed: %v", err)
		}
	}
	return nil
}

func main() {
	log.Println("🚀 Starting draftsync agent...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store := docstore.NewClient(cfg.APIBaseURL)
	username := cfg.Username
	switch {
	case cfg.AuthToken != "":
		store.Token = cfg.AuthToken
	case cfg.Username != "" && cfg.Password != "":
		if _, err := store.Login(ctx, cfg.Username, cfg.Password); err != nil {
			log.Fatalf("❌ Login failed: %v", err)
		}
		log.Printf("✓ Logged in as %s", cfg.Username)
	default:
		log.Fatalf("❌ No credentials: set AUTH_TOKEN or DRAFTSYNC_USER/DRAFTSYNC_PASSWORD")
	}
	if username == "" {
		username = "agent"
	}
	userID := cfg.UserID
	if userID == "" {
		userID = username
	}

	var cache *docstore.Cache
	if cfg.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755); err != nil {
			log.Printf("⚠️  Snapshot cache unavailable: %v", err)
		} else if cache, err = docstore.OpenCache(cfg.CachePath); err != nil {
			log.Printf("⚠️  Snapshot cache unavailable: %v", err)
			cache = nil
		}
	}
	if cache != nil {
		defer cache.Close()
	}

	documentID := cfg.DocumentID
	if documentID == "" {
		doc, err := store.CreateDocument(ctx, docstore.DocumentCreateRequest{
			Title:    fmt.Sprintf("%s draft %s", username, time.Now().Format("2006-01-02 15:04")),
			IsPublic: true,
		})
		if err != nil {
			log.Fatalf("❌ Failed to create document: %v", err)
		}
		documentID = doc.ID
		log.Printf("✓ Created document %s (set DOCUMENT_ID=%s to rejoin it)", documentID, documentID)
	}

	// Seed the buffer: API first, cache when the API is down.
	var seed string
	if doc, err := store.GetDocument(ctx, documentID); err == nil {
		seed = doc.Content
	} else if cache != nil {
		log.Printf("⚠️  Fetch failed: %v", err)
		if snap, ok, cerr := cache.Get(documentID); cerr == nil && ok {
			seed = snap.Text
			log.Printf("✓ Seeded from cached snapshot (%s)", snap.SavedAt.Format(time.RFC3339))
		}
	} else {
		log.Printf("⚠️  Fetch failed, starting empty: %v", err)
	}

	buffer := surface.NewBuffer(seed)

	session := client.NewSession(client.SessionConfig{
		RelayURL:   cfg.RelayURL,
		DocumentID: documentID,
		UserID:     userID,
		Username:   username,
		Token:      store.Token,
		Layout:     client.DefaultLayout(),
		OnStateChange: func(from, to client.SessionState) {
			log.Printf("🔄 %s -> %s", from, to)
		},
		OnError: func(err error) {
			log.Printf("⚠️  %v", err)
		},
		OnOverlay: func(overlays []client.CursorOverlay) {
			for _, o := range overlays {
				log.Printf("👤 %s at line %d col %d", o.Username, o.At.Line+1, o.At.Col+1)
			}
		},
	}, buffer, &cachingStore{Client: store, cache: cache})

	session.Start()
	defer session.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Type to append to the document. Commands: /text /peers /suggest /sync /state /quit")

	for {
		select {
		case <-quit:
			fmt.Println()
			log.Println("🛑 Shutting down agent...")
			return
		case line, ok := <-lines:
			if !ok {
				log.Println("🛑 Input closed, shutting down agent...")
				return
			}
			if !runCommand(session, buffer, store, line) {
				return
			}
		}
	}
}

// runCommand handles one input line. A false return ends the agent.
func runCommand(session *client.Session, buffer *surface.Buffer, store *docstore.Client, line string) bool {
	switch cmd := strings.TrimSpace(line); cmd {
	case "":
		return true
	case "/quit", "/q":
		log.Println("🛑 Shutting down agent...")
		return false
	case "/text":
		fmt.Println("----")
		fmt.Println(buffer.Text())
		fmt.Println("----")
	case "/peers":
		peers := session.Peers()
		if len(peers) == 0 {
			fmt.Println("nobody else here")
			return true
		}
		now := time.Now()
		for _, p := range peers {
			fmt.Printf("%-16s %-6s cursor %d\n", p.Username, p.Status(now, 30*time.Second), p.Cursor.Focus)
		}
	case "/suggest":
		// First assist call can take tens of seconds while models load.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		data, err := store.Suggest(ctx, buffer.Text())
		if err != nil {
			log.Printf("⚠️  Suggestions unavailable: %v", err)
			return true
		}
		var pretty bytes.Buffer
		if json.Indent(&pretty, data, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Printf("%s\n", data)
		}
	case "/sync":
		session.RequestSync()
	case "/state":
		fmt.Println(session.State())
	default:
		buffer.Append(line + "\n")
	}
	return true
}
