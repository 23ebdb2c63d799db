// Package worker contains example job handlers for demonstration.
// Operators register their own classes with a Registry the same way.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// HandleCountItems counts items in a JSON array argument.
func HandleCountItems(ctx context.Context, args []json.RawMessage) error {
	if len(args) == 0 {
		return nil
	}
	var items []string
	if err := json.Unmarshal(args[0], &items); err != nil {
		return err
	}
	log.Printf("counted %d items", len(items))
	return nil
}

// HandleSendEmail simulates sending an email described by the first arg.
func HandleSendEmail(ctx context.Context, args []json.RawMessage) error {
	if len(args) == 0 {
		return nil
	}
	var email struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(args[0], &email); err != nil {
		return err
	}
	log.Printf("sending email to %s", email.To)
	time.Sleep(2 * time.Second)
	return nil
}

// HandleProcessData simulates a longer-running data processing step.
func HandleProcessData(ctx context.Context, args []json.RawMessage) error {
	log.Printf("processing data")
	time.Sleep(3 * time.Second)
	return nil
}
