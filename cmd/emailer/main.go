// emailer is a development tool for exercising the alert delivery path:
// it sends a test security notice directly through SES or enqueues it for
// the worker, and can list messages captured by a LocalStack endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/brightpath/compliance-core/internal/aws"
	"github.com/brightpath/compliance-core/internal/config"
	"github.com/brightpath/compliance-core/internal/queue"
)

type LocalStackEmail struct {
	ID          string    `json:"Id"`
	Timestamp   string    `json:"Timestamp"`
	Subject     string    `json:"Subject"`
	Body        EmailBody `json:"Body"`
	Destination Dest      `json:"Destination"`
}
type EmailBody struct {
	Text string `json:"text_part"`
	HTML string `json:"html_part"`
}
type Dest struct {
	ToAddresses []string `json:"ToAddresses"`
}
type LocalStackResponse struct {
	Messages []LocalStackEmail `json:"messages"`
}

var (
	enqueuePtr = flag.Bool("enqueue", false, "Enqueue the alert task instead of sending directly")
	viewPtr    = flag.Bool("view", false, "View captured emails")
)

func main() {
	flag.Parse()

	cfg := config.Load()

	if *viewPtr {
		if err := viewEmails(cfg); err != nil {
			log.Fatalf("Failed to view emails: %v", err)
		}
		return
	}

	to := cfg.Audit.SecurityEmail
	if to == "" {
		to = "security@district.example"
	}

	if *enqueuePtr {
		taskQueue, err := queue.NewQueue(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		defer taskQueue.Close()

		payload := queue.SecurityAlertPayload{
			EventID:  "00000000-0000-0000-0000-000000000000",
			Action:   "test_alert",
			Severity: "info",
			To:       to,
		}
		if _, err := taskQueue.Enqueue(queue.TypeSecurityAlert, payload); err != nil {
			log.Fatalf("Failed to enqueue alert: %v", err)
		}
		log.Println("Alert task enqueued")
		return
	}

	sesService, err := aws.NewSESService(cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to initialize SES: %v", err)
	}

	err = sesService.SendEmail(context.Background(), to, "[security] test_alert (info)", "Test security notice from the emailer tool.")
	if err != nil {
		log.Fatalf("Failed to send email: %v", err)
	}
	log.Println("Email sent")
}

func viewEmails(cfg *config.Config) error {
	if cfg.AWS.EndpointURL == "" {
		return fmt.Errorf("viewing captured emails requires a LocalStack endpoint")
	}

	url := fmt.Sprintf("%s/_aws/ses", cfg.AWS.EndpointURL)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to fetch emails: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var captured LocalStackResponse
	if err := json.Unmarshal(body, &captured); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	for _, msg := range captured.Messages {
		fmt.Printf("%s  %v\n  %s\n\n", msg.Timestamp, msg.Destination.ToAddresses, msg.Subject)
	}
	fmt.Printf("%d message(s)\n", len(captured.Messages))
	return nil
}
