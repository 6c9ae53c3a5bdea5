package slack

import (
	"strings"
	"testing"
	"time"

	"github.com/adsync/adsync/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when webhook url missing")
	}
}

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#alerts",
		Username:   "bot",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{
		JobID:        "123",
		Owner:        "acct-7",
		CollectionID: "spring-campaign",
		Stage:        "persisting",
		Error:        "boom",
		ErrorClass:   "test_error",
	})

	if msg["username"] != "bot" {
		t.Fatalf("expected username to be preserved, got %v", msg["username"])
	}
	if msg["channel"] != "#alerts" {
		t.Fatalf("expected channel to be set, got %v", msg["channel"])
	}

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}
	if !containsAll(
		text,
		[]string{"Collection failure alert", "123", "acct-7", "spring-campaign", "persisting", "boom", "test_error"},
	) {
		t.Fatalf("message text missing fields: %s", text)
	}
}

func TestFormatMessageJobLink(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL:   "https://hooks.slack.com/services/test",
		JobURLPrefix: "https://app.adsync.local/jobs",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{
		JobID: "job-123",
	})

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}

	expected := "<https://app.adsync.local/jobs/job-123|job-123>"
	if !strings.Contains(text, expected) {
		t.Fatalf("expected job link %q in text: %s", expected, text)
	}
}

func TestFormatMessageEscapesCollectionName(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{
		JobID:        "job-123",
		CollectionID: "test & <collection>",
	})

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}

	if !strings.Contains(text, "test &amp; &lt;collection&gt;") {
		t.Fatalf("expected escaped collection name, got: %s", text)
	}
}

func TestFormatJobValuePermutations(t *testing.T) {
	tcs := []struct {
		name       string
		jobID      string
		collection string
		prefix     string
		want       string
	}{
		{
			name:   "id with link",
			jobID:  "job-1",
			prefix: "https://app.example/jobs",
			want:   "<https://app.example/jobs/job-1|job-1>",
		},
		{
			name:       "collection only",
			collection: "spring",
			prefix:     "https://app.example/jobs",
			want:       "spring",
		},
		{
			name:       "id and collection with link",
			jobID:      "job-2",
			collection: "spring",
			prefix:     "https://app.example/jobs",
			want:       "<https://app.example/jobs/job-2|spring> (job-2)",
		},
		{
			name:       "id and collection without link",
			jobID:      "job-3",
			collection: "spring",
			prefix:     "not a url",
			want:       "spring (job-3)",
		},
		{
			name:       "empty inputs",
			want:       "",
			collection: "",
			prefix:     "https://app.example/jobs",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(Config{
				WebhookURL:   "https://hooks.slack.com/services/test",
				JobURLPrefix: tc.prefix,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := client.formatJobValue(tc.jobID, tc.collection)
			if got != tc.want {
				t.Fatalf("formatJobValue(%q,%q) = %q, want %q", tc.jobID, tc.collection, got, tc.want)
			}
		})
	}
}

func containsAll(text string, substrs []string) bool {
	for _, s := range substrs {
		if !strings.Contains(text, s) {
			return false
		}
	}
	return true
}
