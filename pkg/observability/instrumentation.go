// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

// Standard span names for consistency across the substrate's components.
// Use these constants instead of hardcoding strings.
const (
	// Broker / Channel Hub spans (C2)
	SpanBrokerAdmit   = "broker.admit"
	SpanBrokerPublish = "broker.publish"
	SpanBrokerDeliver = "broker.deliver"
	SpanBrokerRoster  = "broker.roster"

	// RPC Layer spans (C4)
	SpanRPCCall     = "rpc.call"
	SpanRPCValidate = "rpc.validate"

	// Tool Registry spans (C5)
	SpanToolDiscover = "tool.discover"
	SpanToolApprove  = "tool.approve"

	// Agent Runtime spans (C6)
	SpanAgentTurn      = "agent.turn"
	SpanAgentFollowUp  = "agent.follow_up"
	SpanAgentInterleave = "agent.interleave"

	// Supervisor spans (C7)
	SpanSupervisorSpawn  = "supervisor.spawn"
	SpanSupervisorUnload = "supervisor.unload"
)

// Standard metric names for consistency.
const (
	// Broker metrics
	MetricBrokerPublishes     = "broker.publishes.total"
	MetricBrokerDeliveries    = "broker.deliveries.total"
	MetricBrokerDeliveryDrops = "broker.delivery.dropped.total" // recipient buffer full
	MetricBrokerReplayDepth   = "broker.replay.depth"

	// RPC metrics
	MetricRPCCalls    = "rpc.calls.total"
	MetricRPCLatency  = "rpc.latency_ms"
	MetricRPCErrors   = "rpc.errors.total"
	MetricRPCTimeouts = "rpc.timeouts.total"

	// Tool metrics
	MetricToolCalls     = "tool.calls.total"
	MetricToolDenials   = "tool.denials.total" // approval gate rejections
	MetricToolDiscovery = "tool.discovery.latency_ms"

	// Agent Runtime metrics
	MetricAgentTurns          = "agent.turns.total"
	MetricAgentTurnDuration   = "agent.turn.duration_ms"
	MetricAgentTokensInput    = "agent.tokens.input"  // #nosec G101 -- not a credential, just metric name
	MetricAgentTokensOutput   = "agent.tokens.output" // #nosec G101 -- not a credential, just metric name
	MetricAgentContextPercent = "agent.context_window.percent"

	// Supervisor metrics
	MetricSupervisorWorkers  = "supervisor.workers.active"
	MetricSupervisorRestarts = "supervisor.restarts.total"
	MetricSupervisorUnloads  = "supervisor.unloads.total"
)

// Standard attribute names for consistency.
// Use these constants for span and event attributes.
const (
	// Addressing attributes (C8)
	AttrChannelID   = "channel.id"
	AttrContextID   = "context.id"
	AttrClientID    = "client.id"
	AttrIdentityKey = "identity.key"
	AttrTraceID     = "trace.id"
	AttrSpanID      = "span.id"

	// RPC attributes
	AttrRPCMethod = "rpc.method"
	AttrRPCCaller = "rpc.caller"
	AttrRPCCallee = "rpc.callee"

	// Tool attributes
	AttrToolName     = "tool.name"
	AttrToolArgs     = "tool.args"
	AttrToolAutonomy = "tool.autonomy_level"

	// Agent Runtime attributes
	AttrAgentType    = "agent.type"
	AttrVendorModel  = "agent.vendor_model"
	AttrTurnInterleave = "agent.turn.interleaved"

	// Supervisor attributes
	AttrWorkerID     = "supervisor.worker_id"
	AttrRestartCount = "supervisor.restart_count"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
	AttrErrorStack   = "error.stack"
)
