package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camphq/internal/config"
	"camphq/internal/notify"
	"camphq/internal/queue"
	"camphq/internal/store"
)

// Worker consumes queued notification jobs and delivers them through the
// notification service. Delivery is fire-and-forget: a failure is logged and
// the state change that queued it stands.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "camphq:notify")
	}

	mailer := notify.New(cfg.NotifyURL, cfg.NotifySkip)
	if !cfg.NotifySkip {
		if err := mailer.Health(ctx); err != nil {
			log.Printf("WARNING: notification service not available: %v", err)
			log.Println("Worker will retry delivery when jobs arrive")
		} else {
			log.Println("Notification service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case "waitlist_offer":
			deliverOffer(ctx, mailer, msg.Body)
		case "day_recap":
			deliverRecap(ctx, mailer, msg.Body)
		default:
			log.Printf("skipping unknown message type %q", msg.Type)
			continue
		}

		time.Sleep(10 * time.Millisecond) // Small delay between deliveries
	}

	log.Println("worker stopped")
}

func deliverOffer(ctx context.Context, mailer *notify.Client, body []byte) {
	var job struct {
		RegistrationID string `json:"registration_id"`
		CampID         string `json:"camp_id"`
		Recipient      string `json:"recipient"`
		OfferToken     string `json:"offer_token"`
		ExpiresAt      string `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &job); err != nil {
		log.Printf("bad offer job payload: %v", err)
		return
	}
	if job.Recipient == "" {
		log.Printf("offer %s has no guardian email on file, dropping", job.RegistrationID)
		return
	}
	err := mailer.Send(ctx, notify.Notification{
		Kind:      notify.KindOfferSent,
		Recipient: job.Recipient,
		Params: map[string]string{
			"registration_id": job.RegistrationID,
			"camp_id":         job.CampID,
			"offer_token":     job.OfferToken,
			"expires_at":      job.ExpiresAt,
		},
	})
	if err != nil {
		log.Printf("offer delivery failed for %s: %v", job.RegistrationID, err)
		return
	}
	log.Printf("offer delivered for registration %s", job.RegistrationID)
}

func deliverRecap(ctx context.Context, mailer *notify.Client, body []byte) {
	var recap struct {
		ClosedBy string `json:"closed_by"`
	}
	if err := json.Unmarshal(body, &recap); err != nil {
		log.Printf("bad recap payload: %v", err)
		return
	}
	err := mailer.Send(ctx, notify.Notification{
		Kind:      notify.KindDayRecap,
		Recipient: "camp-ops",
		Params:    map[string]string{"recap": string(body)},
	})
	if err != nil {
		log.Printf("recap delivery failed: %v", err)
		return
	}
	log.Printf("day recap delivered (closed by %s)", recap.ClosedBy)
}
