// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ope evaluates a target policy against logged bandit or slate
// interactions.
//
// Usage:
//
//	ope config init ope.yaml
//	ope evaluate --config ope.yaml --input logs.jsonl --format text
//	ope evaluate --config ope.yaml --input gs://bucket/logs.jsonl --history-dir ~/.aleutian/ope
//	ope evaluate --config ope.yaml --input logs.jsonl --watch
//	ope serve --config ope.yaml --addr :8080 --history-dir ~/.aleutian/ope
//	ope history list --history-dir ~/.aleutian/ope
//	ope cats baseline --num-actions 8 --min 0 --max 32 --bandwidth 1
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
