// Package main is a small ops CLI for submitting a job from the command
// line via the client library, analogous to a sidekiqmon-style one-off
// tool. It talks to Redis directly; it does not run a Manager.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sideport/exqgo/pkg/client"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:6379", "redis host:port")
		password  = flag.String("password", "", "redis password")
		db        = flag.Int("db", 0, "redis database index")
		namespace = flag.String("namespace", "exq", "redis key namespace")
		queue     = flag.String("queue", "default", "destination queue")
		class     = flag.String("class", "", "job class to invoke (required)")
		argsJSON  = flag.String("args", "[]", "JSON array of job arguments")
		in        = flag.Duration("in", 0, "enqueue as delayed by this duration instead of immediately")
		wait      = flag.Duration("wait", 0, "block until the job completes, up to this duration")
	)
	flag.Parse()

	if *class == "" {
		fmt.Fprintln(os.Stderr, "error: -class is required")
		flag.Usage()
		os.Exit(2)
	}

	var rawArgs []json.RawMessage
	if err := json.Unmarshal([]byte(*argsJSON), &rawArgs); err != nil {
		fmt.Fprintf(os.Stderr, "error: -args must be a JSON array: %v\n", err)
		os.Exit(2)
	}
	args := make([]interface{}, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = a
	}

	c, err := client.New(client.Config{Addr: *addr, Password: *password, DB: *db, Namespace: *namespace})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx := context.Background()

	var jid string
	if *in > 0 {
		jid, err = c.SubmitJobIn(ctx, *queue, *class, *in, args...)
	} else {
		jid, err = c.SubmitJob(ctx, *queue, *class, args...)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to submit job: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("enqueued jid=%s queue=%s class=%s\n", jid, *queue, *class)

	if *wait > 0 {
		result, err := c.Wait(ctx, jid, *wait)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: failed waiting for result: %v\n", err)
			os.Exit(1)
		}
		if result == nil {
			fmt.Printf("timed out after %v waiting for jid=%s\n", *wait, jid)
			os.Exit(1)
		}
		fmt.Printf("result: status=%s completed_at=%s\n", result.Status, result.CompletedAt.Format(time.RFC3339))
	}
}
