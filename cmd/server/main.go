// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/coldpitch/outreach-backend/internal/controller"
	"github.com/coldpitch/outreach-backend/internal/db"
	"github.com/coldpitch/outreach-backend/internal/handler"
	"github.com/coldpitch/outreach-backend/internal/queue"
	"github.com/coldpitch/outreach-backend/internal/repository"
	"github.com/coldpitch/outreach-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	// Init DB
	db.Init()

	contactRepo := &repository.ContactRepository{DB: db.DB}
	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	outboundRepo := &repository.OutboundMessageRepository{DB: db.DB}

	// Dispatch queue: RabbitMQ when configured, in-memory otherwise
	// (the in-memory mode runs the transport in-process).
	var q queue.Queue
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		rq, err := queue.NewRabbitQueue(amqpURL)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ:", err)
		}
		defer rq.Close()
		q = rq
	} else {
		log.Println("⚠️ AMQP_URL not set, using in-memory dispatch queue")
		mq := queue.NewInMemoryQueue()
		service.StartDispatchSubscriber(mq, outboundRepo, mockTransport)
		q = mq
	}

	templates := service.NewTemplateService()

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		ContactRepo:  contactRepo,
		Templates:    templates,
	}

	tracker := &service.ContactTracker{
		ContactRepo:  contactRepo,
		OutboundRepo: outboundRepo,
	}

	dispatcher := &service.QueueDispatcher{
		ContactRepo:  contactRepo,
		OutboundRepo: outboundRepo,
		Templates:    templates,
		Queue:        q,
	}

	processor := service.NewCampaignProcessor(campaignRepo, tracker, dispatcher)

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		Processor:       processor,
	}

	campaignHandler := handler.NewCampaignHandler(campaignService)

	// Trigger source: a ticker invokes the processor; POST /process does
	// the same on demand. Overlapping invocations are expected and safe.
	go triggerLoop(processor)

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaignHandlerWithProgress)
	r.Post("/campaigns/{id}/activate", campaignController.ActivateCampaign)
	r.Post("/campaigns/{id}/cancel", campaignController.CancelCampaign)
	r.Post("/campaigns/{id}/force", campaignController.ForceEligibleNow)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)
	r.Post("/process", campaignController.ProcessNow)

	log.Println("🚀 Server running on :8080")
	log.Fatal(http.ListenAndServe(":8080", r))
}

func triggerLoop(processor *service.CampaignProcessor) {
	interval := 5 * time.Minute
	if v := os.Getenv("TRIGGER_INTERVAL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			interval = time.Duration(minutes) * time.Minute
		}
	}

	log.Println("⏱️ Batch trigger running every", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		summary, err := processor.ProcessDueCampaigns(context.Background())
		if err != nil {
			log.Println("⚠️ Trigger run failed:", err)
			continue
		}
		if summary.Batches > 0 || summary.Completed > 0 || summary.Failed > 0 || summary.Errors > 0 {
			log.Printf("Trigger run: %+v\n", *summary)
		}
	}
}

// mockTransport simulates the SMTP leg with 90% success. Used only when
// no broker is configured; the real transport lives in cmd/worker.
func mockTransport(content string) error {
	if rand.Intn(100) < 90 {
		return nil
	}
	return fmt.Errorf("mock sending failed")
}
