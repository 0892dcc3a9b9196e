// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry metrics and traces for evaluation
// runs.
//
// A batch run has no long-lived /metrics endpoint, so the prometheus
// exporter writes into a registry owned by the Provider and the CLI dumps it
// with WriteTextfile when the run ends:
//
//	p, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer p.Shutdown(context.Background())
//
//	m, err := telemetry.NewMetrics(p.Meter("ope"))
//	...
//	_ = p.WriteTextfile("/var/lib/node_exporter/ope.prom")
package telemetry
