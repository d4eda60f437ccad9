package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	econtext "github.com/agentdag/agentdag/internal/context"
	"github.com/agentdag/agentdag/internal/dag"
	domain "github.com/agentdag/agentdag/internal/domain/engine"
	"github.com/agentdag/agentdag/internal/llm"
	"github.com/agentdag/agentdag/internal/ports"
	"github.com/agentdag/agentdag/internal/task"
)

// invoke dispatches to the deterministic or agent path per node.Kind. The
// returned raw string is only meaningful for agent nodes whose response
// failed to parse as JSON; it feeds validateOutputWithRepair's structural
// repair tier, which must operate on what the model actually said, not on
// a fallback wrapper built around it.
func (e *Executor) invoke(ctx context.Context, t *task.Task, node *dag.Node, config NodeConfig, input map[string]interface{}, pkg *econtext.Package) (string, map[string]interface{}, []task.ToolCallRecord, error) {
	if node.Kind == dag.KindDeterministic {
		out, err := e.invokeDeterministic(ctx, node, input, pkg, config)
		return "", out, nil, err
	}
	return e.invokeAgent(ctx, t, node, config, input, pkg)
}

func (e *Executor) invokeDeterministic(ctx context.Context, node *dag.Node, input map[string]interface{}, pkg *econtext.Package, config NodeConfig) (map[string]interface{}, error) {
	fn, ok := e.Deterministics.Func(node.ID)
	if !ok {
		return nil, domain.New(domain.ErrInternal, fmt.Sprintf("no deterministic function bound for node %q", node.ID), nil, nil)
	}
	return fn(ctx, input, pkg, config)
}

func (e *Executor) invokeAgent(ctx context.Context, t *task.Task, node *dag.Node, config NodeConfig, input map[string]interface{}, pkg *econtext.Package) (string, map[string]interface{}, []task.ToolCallRecord, error) {
	adapter, ok := e.LLMs.Adapter(config.Agent.Model)
	if !ok {
		return "", nil, nil, domain.New(domain.ErrAgent, fmt.Sprintf("no LLM adapter registered for model %q", config.Agent.Model), nil, nil)
	}

	prompt := buildPrompt(pkg, input)
	params := llm.Hyperparameters{
		Temperature: config.Agent.Temperature, MaxTokens: config.Agent.MaxTokens,
		TopP: config.Agent.TopP, TimeoutSeconds: config.Agent.TimeoutSeconds,
	}

	raw, err := adapter.Generate(ctx, config.Agent.Model, prompt, params)
	if err != nil {
		return "", nil, nil, domain.New(domain.ErrAgent, "llm generation failed", err, nil)
	}

	output, ok := parseAgentOutput(raw)
	if !ok {
		// Not valid JSON. Leave output nil: a schema_out node routes raw
		// into validateOutputWithRepair's structural repair tier; a
		// schema-less node falls back to {"text": raw} in Execute.
		return raw, nil, nil, nil
	}

	toolCalls, err := e.dispatchToolCalls(ctx, t, node, config, output)
	if err != nil {
		return raw, output, toolCalls, err
	}
	delete(output, "tool_calls")
	return raw, output, toolCalls, nil
}

// buildPrompt concatenates the assembled context package with the node's
// input into a single prompt string. Tiers appear in task -> project ->
// global order, matching the package's own item ordering.
func buildPrompt(pkg *econtext.Package, input map[string]interface{}) string {
	var contextBlock string
	if pkg != nil {
		lines := make([]string, 0, len(pkg.Items))
		for _, si := range pkg.Items {
			data, _ := json.Marshal(si.Item.Payload)
			lines = append(lines, fmt.Sprintf("[%s] %s", si.Tier, data))
		}
		for _, line := range lines {
			contextBlock += line + "\n"
		}
	}
	inputData, _ := json.Marshal(input)
	return fmt.Sprintf("context:\n%sinput:\n%s", contextBlock, inputData)
}

// parseAgentOutput decodes the model's raw text response into a structured
// output map. ok is false when raw is not a JSON object, in which case the
// caller decides between repair and the {"text": raw} fallback.
func parseAgentOutput(raw string) (map[string]interface{}, bool) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}

// dispatchToolCalls runs every tool call the agent's output requested
// (output["tool_calls"] = []{"tool_id", "inputs"}), checking each against the
// node's allowed_tools list, its inputs against the tool's declared
// schema_in, and its result against the tool's declared schema_out.
func (e *Executor) dispatchToolCalls(ctx context.Context, t *task.Task, node *dag.Node, config NodeConfig, output map[string]interface{}) ([]task.ToolCallRecord, error) {
	raw, ok := output["tool_calls"]
	if !ok {
		return nil, nil
	}
	calls, ok := raw.([]interface{})
	if !ok {
		return nil, nil
	}

	allowed := toSet(config.AllowedTools)
	records := make([]task.ToolCallRecord, 0, len(calls))
	for _, c := range calls {
		spec, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		toolID, _ := spec["tool_id"].(string)
		inputs, _ := spec["inputs"].(map[string]interface{})

		if len(allowed) > 0 && !allowed[toolID] {
			return records, domain.New(domain.ErrSecurity, fmt.Sprintf("tool %q is not allowed on node %q", toolID, node.ID), nil, nil)
		}
		declared, _ := e.Manifest.Tool(toolID)
		if declared != nil && declared.SchemaIn != "" {
			if err := e.validateAgainst(declared.SchemaIn, inputs); err != nil {
				return records, err
			}
		}

		rec := task.ToolCallRecord{CallID: uuid.NewString(), ToolID: toolID, Inputs: inputs, StartedAt: time.Now()}
		e.publish(ctx, ports.EventToolInvoked, t.TaskID, node.ID, map[string]interface{}{"tool_id": toolID, "call_id": rec.CallID})

		adapter, ok := e.Tools.Adapter(toolID)
		if !ok {
			rec.Error = fmt.Sprintf("no adapter registered for tool %q", toolID)
			rec.EndedAt = time.Now()
			records = append(records, rec)
			e.publish(ctx, ports.EventToolFailed, t.TaskID, node.ID, map[string]interface{}{"tool_id": toolID, "call_id": rec.CallID, "error": rec.Error})
			return records, domain.New(domain.ErrTool, rec.Error, nil, nil)
		}

		result, err := adapter.Invoke(ctx, inputs)
		rec.EndedAt = time.Now()
		if err != nil {
			rec.Error = err.Error()
			records = append(records, rec)
			e.publish(ctx, ports.EventToolFailed, t.TaskID, node.ID, map[string]interface{}{"tool_id": toolID, "call_id": rec.CallID, "error": rec.Error})
			return records, domain.New(domain.ErrTool, fmt.Sprintf("tool %q invocation failed", toolID), err, nil)
		}
		if declared != nil && declared.SchemaOut != "" {
			if err := e.validateAgainst(declared.SchemaOut, result); err != nil {
				rec.Error = err.Error()
				records = append(records, rec)
				e.publish(ctx, ports.EventToolFailed, t.TaskID, node.ID, map[string]interface{}{"tool_id": toolID, "call_id": rec.CallID, "error": rec.Error})
				return records, err
			}
		}
		rec.Output = result
		records = append(records, rec)
		e.publish(ctx, ports.EventToolCompleted, t.TaskID, node.ID, map[string]interface{}{"tool_id": toolID, "call_id": rec.CallID})
	}
	return records, nil
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// validateOutputWithRepair validates output against node.SchemaOut, attempting
// at most two repair tiers on failure: a structural jsonrepair pass against
// raw (the model's literal response text), then (agent nodes only) one
// re-prompt with the validation error appended. output is nil when raw never
// parsed as JSON at all; raw is "" for deterministic nodes, whose output is
// always already structured and never needs either tier.
func (e *Executor) validateOutputWithRepair(ctx context.Context, t *task.Task, node *dag.Node, config NodeConfig, pkg *econtext.Package, input map[string]interface{}, raw string, output map[string]interface{}) (map[string]interface{}, error) {
	if output != nil {
		if err := e.validateAgainst(node.SchemaOut, output); err == nil {
			return output, nil
		}
	}

	if repairedRaw, repairErr := jsonrepair.JSONRepair(raw); repairErr == nil {
		var repaired map[string]interface{}
		if json.Unmarshal([]byte(repairedRaw), &repaired) == nil {
			if err := e.validateAgainst(node.SchemaOut, repaired); err == nil {
				return repaired, nil
			}
		}
	}

	if node.Kind != dag.KindAgent {
		return nil, domain.Validationf("node %q output failed schema %q after structural repair", node.ID, node.SchemaOut)
	}

	adapter, ok := e.LLMs.Adapter(config.Agent.Model)
	if !ok {
		return nil, domain.New(domain.ErrAgent, "no LLM adapter registered for re-prompt repair", nil, nil)
	}
	prompt := buildPrompt(pkg, input) + fmt.Sprintf("\nyour previous response did not satisfy the required schema %q; respond again with corrected JSON.", node.SchemaOut)
	retryRaw, err := adapter.Generate(ctx, config.Agent.Model, prompt, llm.Hyperparameters{
		Temperature: config.Agent.Temperature, MaxTokens: config.Agent.MaxTokens,
		TopP: config.Agent.TopP, TimeoutSeconds: config.Agent.TimeoutSeconds,
	})
	if err != nil {
		return nil, domain.New(domain.ErrAgent, "re-prompt repair failed", err, nil)
	}
	reparsed, ok := parseAgentOutput(retryRaw)
	if !ok {
		return nil, domain.New(domain.ErrJSON, "re-prompt response is not valid JSON", nil, map[string]interface{}{"raw": retryRaw})
	}
	if err := e.validateAgainst(node.SchemaOut, reparsed); err != nil {
		return nil, domain.New(domain.ErrJSON, fmt.Sprintf("node %q output still fails schema %q after re-prompt", node.ID, node.SchemaOut), err, nil)
	}
	return reparsed, nil
}
